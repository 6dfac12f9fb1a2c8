package parser

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"

	"github.com/KaramelBytes/cleanloom/internal/dataset"
)

// DetectType sniffs the media type of body, for sources whose name and
// declared Content-Type do not identify a format.
func DetectType(body []byte) string {
	m := mimetype.Detect(body)
	for ; m != nil; m = m.Parent() {
		switch {
		case m.Is("text/csv"), m.Is("text/tab-separated-values"):
			return "text/csv"
		case m.Is("application/json"):
			return "application/json"
		case m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
			return m.String()
		}
	}
	return mimetype.Detect(body).String()
}

// DecodeBytes decodes an in-memory source. When neither name nor contentType
// resolves a decoder the body itself is sniffed.
func DecodeBytes(name, contentType string, body []byte, opt Options) (*dataset.Dataset, error) {
	if !Supported(name, contentType) {
		if sniffed := DetectType(body); Supported("", sniffed) {
			contentType = sniffed
		}
	}
	return Decode(name, contentType, bytes.NewReader(body), opt)
}
