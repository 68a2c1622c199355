package registry

import (
	"strings"
	"testing"

	"github.com/dkovalenko/crpt-relay/internal/domain"
)

func TestEndpointsDefaultBaseURL(t *testing.T) {
	t.Parallel()

	e, err := NewEndpoints("")
	if err != nil {
		t.Fatalf("NewEndpoints() error = %v", err)
	}

	got, err := e.URLFor(domain.DocTypeGoodsTurnover)
	if err != nil {
		t.Fatalf("URLFor() error = %v", err)
	}
	want := "https://ismp.crpt.ru/api/v3/lk/documents/create"
	if got != want {
		t.Fatalf("URLFor() = %q, want %q", got, want)
	}
}

func TestEndpointsCustomBaseURL(t *testing.T) {
	t.Parallel()

	e, err := NewEndpoints("http://localhost:8099/api/v3/")
	if err != nil {
		t.Fatalf("NewEndpoints() error = %v", err)
	}

	got, err := e.URLFor(domain.DocTypeGoodsTurnover)
	if err != nil {
		t.Fatalf("URLFor() error = %v", err)
	}
	if got != "http://localhost:8099/api/v3/lk/documents/create" {
		t.Fatalf("URLFor() = %q", got)
	}
}

func TestEndpointsUnknownDocumentType(t *testing.T) {
	t.Parallel()

	e, err := NewEndpoints("")
	if err != nil {
		t.Fatalf("NewEndpoints() error = %v", err)
	}

	_, err = e.URLFor(domain.DocumentType("LP_SHIP_GOODS"))
	if err == nil {
		t.Fatal("URLFor() expected error for unregistered type")
	}
	if !strings.Contains(err.Error(), "LP_SHIP_GOODS") {
		t.Fatalf("URLFor() error = %q, want it to name the type", err)
	}
}

func TestEndpointsRejectsMalformedBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewEndpoints("not a url"); err == nil {
		t.Fatal("NewEndpoints() expected error for malformed base url")
	}
}
