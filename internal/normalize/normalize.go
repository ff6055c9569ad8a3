// Package normalize turns raw stored recipient and attachment fields into
// the forms the WhatsApp gateway accepts.
package normalize

import (
	"regexp"
	"strings"

	"github.com/orionwa/dispatch/internal/model"
)

// DomainSuffix is the routing domain appended to every canonical address.
const DomainSuffix = "@c.us"

// DefaultCountryPrefix is prepended to national numbers that lack one.
const DefaultCountryPrefix = "90"

var punctReplacer = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "", "(", "", ")", "", "-", "", ".", "")

// Recipient converts a free-form stored phone string into a canonical
// transport address. It strips whitespace and ()-. punctuation, rejects
// anything outside 10-15 digits, drops a single leading 0, prepends
// countryPrefix unless already present and appends DomainSuffix.
//
// The second return is false for unusable input; callers must treat that as
// a per-message failure, never as a system error.
func Recipient(raw, countryPrefix string) (string, bool) {
	if countryPrefix == "" {
		countryPrefix = DefaultCountryPrefix
	}

	c := punctReplacer.Replace(strings.TrimSpace(raw))
	if len(c) < 10 || len(c) > 15 {
		return "", false
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	c = strings.TrimPrefix(c, "0")
	if !strings.HasPrefix(c, countryPrefix) {
		c = countryPrefix + c
	}
	return c + DomainSuffix, true
}

var dataURIRe = regexp.MustCompile(`^data:([A-Za-z-+/]+);base64,(.+)$`)

// signature maps a base64 text prefix to the mime type and default filename
// of the binary format it encodes. Scanned in order, first match wins; the
// XLSX prefix must stay ahead of the plain ZIP one.
type signature struct {
	prefix   string
	mime     string
	filename string
}

var signatures = []signature{
	{"JVBERi0", "application/pdf", "document.pdf"},
	{"iVBORw0KGgo", "image/png", "image.png"},
	{"/9j/", "image/jpeg", "image.jpg"},
	{"UEsDBBQ", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "sheet.xlsx"},
	{"0M8R4KGxGuE", "application/vnd.ms-excel", "sheet.xls"},
	{"UmFyIRo", "application/x-rar-compressed", "archive.rar"},
	{"UEsDBAY", "application/zip", "archive.zip"},
}

const (
	genericMime     = "application/octet-stream"
	genericFilename = "file"
)

// DecodeAttachment turns a raw stored attachment blob into a typed media
// payload. A data: URI is honored verbatim. Anything else is sniffed against
// the signature table; unrecognized content degrades to a generic binary
// payload rather than an error. The second return is false when the field is
// empty or too short to carry anything.
func DecodeAttachment(raw string) (model.Media, bool) {
	if len(raw) < 10 {
		return model.Media{}, false
	}

	if m := dataURIRe.FindStringSubmatch(raw); len(m) == 3 {
		return model.Media{Mime: m[1], Data: m[2], Filename: genericFilename}, true
	}

	for _, sig := range signatures {
		if strings.HasPrefix(raw, sig.prefix) {
			return model.Media{Mime: sig.mime, Data: raw, Filename: sig.filename}, true
		}
	}
	return model.Media{Mime: genericMime, Data: raw, Filename: genericFilename}, true
}
