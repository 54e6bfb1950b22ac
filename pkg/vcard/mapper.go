package vcard

import (
	"strings"

	"github.com/NERVsystems/osm2vcf/pkg/geo"
	"github.com/NERVsystems/osm2vcf/pkg/osm"
)

// KindOrg is the only KIND emitted; mapped objects are places, not people
const KindOrg = "org"

var newlines = strings.NewReplacer("\r\n", `\n`, "\r", `\n`, "\n", `\n`)

// MapFields converts an attribute set and an optional centre into vCard
// fields. Values are copied verbatim except NOTE, whose newlines become the
// two characters `\n`. FN is never set.
func MapFields(attrs map[string]string, center *geo.Point) FieldSet {
	fields := FieldSet{FieldKind: KindOrg}

	if center != nil {
		fields[FieldGeo] = center.String()
	}

	if osm.Attributes(attrs).HasAddress() {
		fields[FieldAdr] = address(attrs)
	}

	if v, ok := attrs[osm.KeyName]; ok {
		fields[FieldOrg] = v
	}
	if v, ok := attrs[osm.KeyDescription]; ok {
		fields[FieldNote] = newlines.Replace(v)
	}
	if v, ok := attrs[osm.KeyEmail]; ok {
		fields[FieldEmail] = v
	}
	if v, ok := attrs[osm.KeyPhone]; ok {
		fields[FieldTel] = v
	}
	if v, ok := attrs[osm.KeyWebsite]; ok {
		fields[FieldURI] = v
	}

	return fields
}

// address renders the seven ADR components:
// pobox;ext;street;locality;region;postcode;country
func address(attrs map[string]string) string {
	city, ok := attrs[osm.KeyCity]
	if !ok {
		city = attrs[osm.KeyPlace]
	}

	return strings.Join([]string{
		"",
		attrs[osm.KeyHousenumber],
		attrs[osm.KeyStreet],
		city,
		attrs[osm.KeyState],
		attrs[osm.KeyPostcode],
		attrs[osm.KeyCountry],
	}, ";")
}
