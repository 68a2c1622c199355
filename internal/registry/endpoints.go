// Package registry maps registry document types to their submission endpoints.
package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dkovalenko/crpt-relay/internal/domain"
)

// DefaultBaseURL is the production Chestny Znak API root.
const DefaultBaseURL = "https://ismp.crpt.ru/api/v3"

var endpointPaths = map[domain.DocumentType]string{
	domain.DocTypeGoodsTurnover: "/lk/documents/create",
}

// Endpoints resolves submission URLs for known document types against a
// configurable base URL.
type Endpoints struct {
	baseURL string
}

func NewEndpoints(baseURL string) (*Endpoints, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid registry base url %q: %w", baseURL, err)
	}

	return &Endpoints{baseURL: trimmed}, nil
}

// URLFor returns the full submission URL for a document type.
func (e *Endpoints) URLFor(docType domain.DocumentType) (string, error) {
	path, ok := endpointPaths[docType]
	if !ok {
		return "", fmt.Errorf("no endpoint registered for document type %q", docType)
	}
	return e.baseURL + path, nil
}

// BaseURL returns the configured API root.
func (e *Endpoints) BaseURL() string {
	return e.baseURL
}
