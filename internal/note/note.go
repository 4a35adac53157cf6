package note

import "github.com/zombor/docextract/internal/extract"

// Note represents a delivery note captured from a scanned document.
// Empty strings mean the field is unknown.
type Note struct {
	ID          string `json:"id"`
	Supplier    string `json:"supplier"`
	Reference   string `json:"reference"`
	Date        string `json:"date"`
	ProductCode string `json:"productCode"`
	Quantity    string `json:"quantity"`
}

// NoteUpdate holds a partial edit; nil fields are left untouched
type NoteUpdate struct {
	Supplier    *string `json:"supplier,omitempty"`
	Reference   *string `json:"reference,omitempty"`
	Date        *string `json:"date,omitempty"`
	ProductCode *string `json:"productCode,omitempty"`
	Quantity    *string `json:"quantity,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u NoteUpdate) IsEmpty() bool {
	return u.Supplier == nil && u.Reference == nil && u.Date == nil && u.ProductCode == nil && u.Quantity == nil
}

// apply returns n with the update merged in
func (u NoteUpdate) apply(n Note) Note {
	if u.Supplier != nil {
		n.Supplier = *u.Supplier
	}
	if u.Reference != nil {
		n.Reference = *u.Reference
	}
	if u.Date != nil {
		n.Date = *u.Date
	}
	if u.ProductCode != nil {
		n.ProductCode = *u.ProductCode
	}
	if u.Quantity != nil {
		n.Quantity = *u.Quantity
	}
	return n
}

// fromFields builds a note from extracted fields
func fromFields(id string, f extract.Fields) Note {
	return Note{
		ID:          id,
		Supplier:    f.Supplier,
		Reference:   f.Reference,
		Date:        f.Date,
		ProductCode: f.ProductCode,
		Quantity:    f.Quantity,
	}
}
