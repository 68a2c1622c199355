package domain

import (
	"fmt"
	"strings"
)

// DocumentType identifies the registry document kind.
type DocumentType string

const (
	// DocTypeGoodsTurnover is the goods-turnover (LP_INTRODUCE_GOODS) document kind.
	DocTypeGoodsTurnover DocumentType = "LP_INTRODUCE_GOODS"
)

func (t DocumentType) String() string { return string(t) }

func (t DocumentType) IsValid() bool {
	return t == DocTypeGoodsTurnover
}

func ParseDocumentTypeFromString(s string) (DocumentType, error) {
	dt := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	if !dt.IsValid() {
		return "", fmt.Errorf("%w: invalid document type %q", ErrValidation, s)
	}
	return dt, nil
}

// GoodsTurnoverDocument is the registry payload for introducing goods into
// turnover. Field names follow the registry wire format.
type GoodsTurnoverDocument struct {
	Description    *Description `json:"description,omitempty"`
	DocID          string       `json:"doc_id"`
	DocStatus      string       `json:"doc_status"`
	DocType        DocumentType `json:"doc_type"`
	ImportRequest  bool         `json:"importRequest"`
	OwnerINN       string       `json:"owner_inn"`
	ParticipantINN string       `json:"participant_inn"`
	ProducerINN    string       `json:"producer_inn"`
	ProductionDate Date         `json:"production_date"`
	ProductionType string       `json:"production_type"`
	Products       []Product    `json:"products"`
	RegDate        Date         `json:"reg_date"`
	RegNumber      string       `json:"reg_number,omitempty"`
}

// Description carries the submitting participant reference.
type Description struct {
	ParticipantINN string `json:"participantInn"`
}

// Product is a single marked item inside a goods-turnover document.
type Product struct {
	CertificateDocument       string `json:"certificate_document,omitempty"`
	CertificateDocumentDate   *Date  `json:"certificate_document_date,omitempty"`
	CertificateDocumentNumber string `json:"certificate_document_number,omitempty"`
	OwnerINN                  string `json:"owner_inn"`
	ProducerINN               string `json:"producer_inn"`
	ProductionDate            *Date  `json:"production_date,omitempty"`
	TnvedCode                 string `json:"tnved_code"`
	UitCode                   string `json:"uit_code,omitempty"`
	UituCode                  string `json:"uitu_code,omitempty"`
}

func (d *GoodsTurnoverDocument) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: document is required", ErrValidation)
	}
	if strings.TrimSpace(d.DocID) == "" {
		return fmt.Errorf("%w: doc_id is required", ErrValidation)
	}
	if !d.DocType.IsValid() {
		return fmt.Errorf("%w: invalid doc_type %q", ErrValidation, d.DocType)
	}
	if err := validateINN("owner_inn", d.OwnerINN); err != nil {
		return err
	}
	if err := validateINN("participant_inn", d.ParticipantINN); err != nil {
		return err
	}
	if err := validateINN("producer_inn", d.ProducerINN); err != nil {
		return err
	}
	if len(d.Products) == 0 {
		return fmt.Errorf("%w: at least one product is required", ErrValidation)
	}

	for i := range d.Products {
		if err := d.Products[i].Validate(); err != nil {
			return fmt.Errorf("product %d: %w", i, err)
		}
	}

	return nil
}

func (p *Product) Validate() error {
	if err := validateINN("owner_inn", p.OwnerINN); err != nil {
		return err
	}
	if err := validateINN("producer_inn", p.ProducerINN); err != nil {
		return err
	}
	if strings.TrimSpace(p.TnvedCode) == "" {
		return fmt.Errorf("%w: tnved_code is required", ErrValidation)
	}
	// A product is identified either per-unit (uit) or per-package (uitu).
	if strings.TrimSpace(p.UitCode) == "" && strings.TrimSpace(p.UituCode) == "" {
		return fmt.Errorf("%w: either uit_code or uitu_code is required", ErrValidation)
	}
	return nil
}

// validateINN checks the taxpayer number shape: 10 digits for organizations,
// 12 for individual entrepreneurs.
func validateINN(field, inn string) error {
	trimmed := strings.TrimSpace(inn)
	if trimmed == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(trimmed) != 10 && len(trimmed) != 12 {
		return fmt.Errorf("%w: %s must be 10 or 12 digits (got %d)", ErrValidation, field, len(trimmed))
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %s must contain only digits", ErrValidation, field)
		}
	}
	return nil
}
