package vcard

import (
	"reflect"
	"strings"
	"testing"

	"github.com/NERVsystems/osm2vcf/pkg/geo"
)

func TestMapFieldsCafe(t *testing.T) {
	attrs := map[string]string{
		"name":             "Cafe Fig",
		"addr:street":      "Main St",
		"addr:housenumber": "12",
	}
	center := geo.Point{Lat: 40.0, Lon: -73.0}

	got := MapFields(attrs, &center)
	want := FieldSet{
		FieldKind: "org",
		FieldGeo:  "40.0000000,-73.0000000",
		FieldAdr:  ";12;Main St;;;;",
		FieldOrg:  "Cafe Fig",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MapFields() = %v, want %v", got, want)
	}
}

func TestMapFieldsWithoutAddress(t *testing.T) {
	inputs := []map[string]string{
		{},
		{"name": "Bench"},
		{"email": "a@b.c", "phone": "1", "website": "x", "description": "d"},
		{"address": "not an addr: key"},
	}

	for _, attrs := range inputs {
		fields := MapFields(attrs, nil)
		if _, ok := fields[FieldAdr]; ok {
			t.Errorf("ADR emitted for %v", attrs)
		}
		if _, ok := fields[FieldGeo]; ok {
			t.Errorf("GEO emitted without a centre for %v", attrs)
		}
		if fields[FieldKind] != KindOrg {
			t.Errorf("KIND = %q for %v", fields[FieldKind], attrs)
		}
	}
}

func TestMapFieldsAddressComponents(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]string
		want  string
	}{
		{"postcode only", map[string]string{"addr:postcode": "10115"}, ";;;;;10115;"},
		{"city", map[string]string{"addr:city": "Berlin"}, ";;;Berlin;;;"},
		{"place fallback", map[string]string{"addr:place": "Hamlet"}, ";;;Hamlet;;;"},
		{"city wins over place", map[string]string{"addr:city": "Town", "addr:place": "Hamlet"}, ";;;Town;;;"},
		{"country", map[string]string{"addr:country": "DE"}, ";;;;;;DE"},
		{
			"everything",
			map[string]string{
				"addr:housenumber": "1",
				"addr:street":      "Unter den Linden",
				"addr:city":        "Berlin",
				"addr:state":       "BE",
				"addr:postcode":    "10117",
				"addr:country":     "DE",
			},
			";1;Unter den Linden;Berlin;BE;10117;DE",
		},
		{"empty value", map[string]string{"addr:street": ""}, ";;;;;;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapFields(tt.attrs, nil)[FieldAdr]
			if got != tt.want {
				t.Errorf("ADR = %q, want %q", got, tt.want)
			}
			if n := strings.Count(got, ";"); n != 6 {
				t.Errorf("ADR has %d semicolons, want 6", n)
			}
		})
	}
}

func TestMapFieldsVerbatim(t *testing.T) {
	attrs := map[string]string{
		"email":   "info+vcard@example.org; x",
		"phone":   "+49 30 1234-5678",
		"website": "https://example.org/a?b=c,d",
	}

	fields := MapFields(attrs, nil)
	if fields[FieldEmail] != attrs["email"] {
		t.Errorf("EMAIL = %q", fields[FieldEmail])
	}
	if fields[FieldTel] != attrs["phone"] {
		t.Errorf("TEL = %q", fields[FieldTel])
	}
	if fields[FieldURI] != attrs["website"] {
		t.Errorf("URI = %q", fields[FieldURI])
	}
	if _, ok := fields[FieldFN]; ok {
		t.Error("FN must never be set")
	}
}

func TestMapFieldsNoteEscaping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"one line", "one line"},
		{"a\nb", `a\nb`},
		{"a\r\nb", `a\nb`},
		{"a\rb", `a\nb`},
		{"\n\n", `\n\n`},
	}

	for _, tt := range tests {
		got := MapFields(map[string]string{"description": tt.in}, nil)[FieldNote]
		if got != tt.want {
			t.Errorf("NOTE(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if strings.ContainsAny(got, "\r\n") {
			t.Errorf("NOTE(%q) still contains a newline", tt.in)
		}
	}
}

func TestFieldSetNames(t *testing.T) {
	fields := FieldSet{FieldNote: "n", FieldKind: "org", FieldGeo: "1,2"}
	want := []string{"KIND", "GEO", "NOTE"}
	if got := fields.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
