package rewrite

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Class is the explicit content classification deciding how a payload is treated
type Class int

const (
	// ClassBinary payloads are streamed through untouched
	ClassBinary Class = iota
	// ClassHTML payloads are decoded as text and run through Engine.Rewrite
	ClassHTML
	// ClassCSS payloads are decoded as text and run through Engine.RewriteCSS
	ClassCSS
	// ClassText payloads are textual but never rewritten
	ClassText
)

func (c Class) String() string {
	switch c {
	case ClassHTML:
		return "html"
	case ClassCSS:
		return "css"
	case ClassText:
		return "text"
	default:
		return "binary"
	}
}

var textMediaTypes = map[string]bool{
	"application/javascript": true,
	"application/ecmascript": true,
	"application/json":       true,
	"application/xml":        true,
	"application/xhtml+xml":  true,
	"image/svg+xml":          true,
}

// Classify classifies a payload from its declared content type. When no content
// type is declared, the leading bytes in sniff are used to detect one.
func Classify(contentType string, sniff []byte) Class {
	if strings.TrimSpace(contentType) == "" {
		if len(sniff) == 0 {
			return ClassBinary
		}
		contentType = mimetype.Detect(sniff).String()
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ClassBinary
	}

	switch {
	case mediaType == "text/html":
		return ClassHTML
	case mediaType == "text/css":
		return ClassCSS
	case strings.HasPrefix(mediaType, "text/"),
		textMediaTypes[mediaType],
		strings.HasSuffix(mediaType, "+json"),
		strings.HasSuffix(mediaType, "+xml"):
		return ClassText
	default:
		return ClassBinary
	}
}
