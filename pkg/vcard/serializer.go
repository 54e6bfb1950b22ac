package vcard

import (
	"strings"
	"time"

	"github.com/NERVsystems/osm2vcf/pkg/config"
)

// MediaType is the Content-Type of a rendered card
const MediaType = "text/vcard"

// RevLayout renders REV as UTC ISO-8601 with millisecond precision
const RevLayout = "2006-01-02T15:04:05.000Z"

const crlf = "\r\n"

// Serializer renders field sets as vCard text. The zero value uses version
// 3.0, the default product id and the wall clock.
type Serializer struct {
	Version   string
	ProductID string
	Now       func() time.Time
}

// NewSerializer builds a serializer from the configuration
func NewSerializer(cfg config.Config) *Serializer {
	return &Serializer{
		Version:   cfg.VCardVersion,
		ProductID: cfg.ProductID,
	}
}

// Serialize renders one card. Lines are CRLF separated with no trailing
// CRLF after END:VCARD, and are never folded.
func (s *Serializer) Serialize(fields FieldSet) string {
	lines := make([]string, 0, 5+len(fields))
	lines = append(lines,
		"BEGIN:VCARD",
		"VERSION:"+s.version(),
		"PRODID:"+s.productID(),
		"REV:"+s.now().UTC().Format(RevLayout),
	)

	for _, field := range Order {
		if v, ok := fields[field]; ok {
			lines = append(lines, string(field)+":"+v)
		}
	}

	lines = append(lines, "END:VCARD")
	return strings.Join(lines, crlf)
}

func (s *Serializer) version() string {
	if s.Version == "" {
		return config.VCardVersion
	}
	return s.Version
}

func (s *Serializer) productID() string {
	if s.ProductID == "" {
		return config.DefaultProductID
	}
	return s.ProductID
}

func (s *Serializer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
