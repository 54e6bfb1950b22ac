// Package vcard maps OSM attributes to vCard 3.0 fields and renders cards.
package vcard

// Field is a vCard property name
type Field string

// Fields produced by the mapper
const (
	FieldKind  Field = "KIND"
	FieldGeo   Field = "GEO"
	FieldAdr   Field = "ADR"
	FieldFN    Field = "FN"
	FieldTel   Field = "TEL"
	FieldURI   Field = "URI"
	FieldOrg   Field = "ORG"
	FieldEmail Field = "EMAIL"
	FieldNote  Field = "NOTE"
)

// Order is the fixed output order of optional fields
var Order = []Field{
	FieldKind, FieldGeo, FieldAdr, FieldFN, FieldTel, FieldURI, FieldOrg, FieldEmail, FieldNote,
}

// FieldSet holds rendered field values. A field is present only when it was
// derivable from the source attributes.
type FieldSet map[Field]string

// Names lists the present fields in output order
func (f FieldSet) Names() []string {
	names := make([]string, 0, len(f))
	for _, field := range Order {
		if _, ok := f[field]; ok {
			names = append(names, string(field))
		}
	}
	return names
}
