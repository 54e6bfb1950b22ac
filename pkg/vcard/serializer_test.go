package vcard

import (
	"strings"
	"testing"
	"time"

	"github.com/NERVsystems/osm2vcf/pkg/config"
	"github.com/NERVsystems/osm2vcf/pkg/geo"
)

var fixedNow = func() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 7, 123456789, time.FixedZone("CET", 3600))
}

func TestSerializeCafeNode(t *testing.T) {
	center := geo.Point{Lat: 40.0, Lon: -73.0}
	fields := MapFields(map[string]string{
		"name":             "Cafe Fig",
		"addr:street":      "Main St",
		"addr:housenumber": "12",
	}, &center)

	s := &Serializer{Version: "3.0", ProductID: "OSM2VCF", Now: fixedNow}
	got := s.Serialize(fields)

	want := strings.Join([]string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"PRODID:OSM2VCF",
		"REV:2024-03-09T13:05:07.123Z",
		"KIND:org",
		"GEO:40.0000000,-73.0000000",
		"ADR:;12;Main St;;;;",
		"ORG:Cafe Fig",
		"END:VCARD",
	}, "\r\n")

	if got != want {
		t.Errorf("Serialize() =\n%q\nwant\n%q", got, want)
	}
}

func TestSerializeFieldOrder(t *testing.T) {
	fields := FieldSet{
		FieldNote:  "n",
		FieldEmail: "e",
		FieldOrg:   "o",
		FieldURI:   "u",
		FieldTel:   "t",
		FieldFN:    "f",
		FieldAdr:   ";;;;;;",
		FieldGeo:   "1,2",
		FieldKind:  "org",
	}

	lines := strings.Split((&Serializer{Now: fixedNow}).Serialize(fields), "\r\n")
	var got []string
	for _, line := range lines[4 : len(lines)-1] {
		got = append(got, strings.SplitN(line, ":", 2)[0])
	}

	want := "KIND GEO ADR FN TEL URI ORG EMAIL NOTE"
	if strings.Join(got, " ") != want {
		t.Errorf("field order = %v, want %s", got, want)
	}
}

func TestSerializeFraming(t *testing.T) {
	inputs := []FieldSet{
		{},
		{FieldKind: "org"},
		MapFields(map[string]string{"description": "a\nb", "email": "x@y"}, nil),
	}

	for _, fields := range inputs {
		out := (&Serializer{Now: fixedNow}).Serialize(fields)
		if !strings.HasPrefix(out, "BEGIN:VCARD\r\n") {
			t.Errorf("missing BEGIN line: %q", out)
		}
		if !strings.HasSuffix(out, "\r\nEND:VCARD") {
			t.Errorf("missing END line: %q", out)
		}
		if strings.Count(out, "\n") != strings.Count(out, "\r\n") {
			t.Errorf("bare LF in output: %q", out)
		}
	}
}

func TestSerializeNoteHasNoNewline(t *testing.T) {
	fields := MapFields(map[string]string{"description": "Open daily\nClosed Mondays"}, nil)
	out := (&Serializer{Now: fixedNow}).Serialize(fields)

	if !strings.Contains(out, "\r\nNOTE:Open daily\\nClosed Mondays\r\n") {
		t.Errorf("unexpected NOTE rendering: %q", out)
	}
}

func TestSerializeVerbatimFields(t *testing.T) {
	values := map[string]string{
		"email":   "a,b;c@example.org",
		"phone":   "+1 (555) 010-9999",
		"website": "http://example.org/?q=1;2",
	}
	out := (&Serializer{Now: fixedNow}).Serialize(MapFields(values, nil))

	for _, line := range []string{
		"EMAIL:" + values["email"],
		"TEL:" + values["phone"],
		"URI:" + values["website"],
	} {
		if !strings.Contains(out, "\r\n"+line+"\r\n") {
			t.Errorf("expected line %q in %q", line, out)
		}
	}
}

func TestNewSerializerDefaults(t *testing.T) {
	s := NewSerializer(config.Default())
	s.Now = fixedNow
	out := s.Serialize(FieldSet{})

	if !strings.Contains(out, "\r\nVERSION:3.0\r\n") {
		t.Errorf("expected VERSION:3.0 in %q", out)
	}
	if !strings.Contains(out, "\r\nPRODID:"+config.DefaultProductID+"\r\n") {
		t.Errorf("expected default PRODID in %q", out)
	}

	zero := (&Serializer{}).Serialize(FieldSet{})
	if !strings.Contains(zero, "VERSION:3.0") {
		t.Errorf("zero serializer should default to 3.0: %q", zero)
	}
}
