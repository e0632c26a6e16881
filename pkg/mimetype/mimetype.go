// Package mimetype classifies repository entries into a mimetype and a coarse category.
package mimetype

import (
	"path"
	"strings"

	detect "github.com/gabriel-vasile/mimetype"
	"github.com/src-d/enry/v2"
)

// Category is the coarse rendering class of an entry.
type Category string

// Categories.
const (
	CategoryText      Category = "text"
	CategoryImage     Category = "image"
	CategoryBinary    Category = "binary"
	CategoryDirectory Category = "directory"
)

// Kind is the object kind of the classified entry.
type Kind int

// Object kinds.
const (
	KindBlob Kind = iota
	KindTree
)

// Well-known mimetypes.
const (
	Directory   = "application/x-directory"
	OctetStream = "application/octet-stream"
	PlainText   = "text/plain"
)

// Classification is the result of Classify.
type Classification struct {
	MimeType string   `json:"mimetype"`
	Category Category `json:"category"`
	Language string   `json:"language,omitempty"`
}

// Extensions that show up in browser extensions. They only name the
// mimetype; the category comes from content whenever it is available.
var extensionTypes = map[string]string{
	".js":          "application/javascript",
	".mjs":         "application/javascript",
	".jsm":         "application/javascript",
	".json":        "application/json",
	".map":         "application/json",
	".css":         "text/css",
	".html":        "text/html",
	".htm":         "text/html",
	".xhtml":       "application/xhtml+xml",
	".xml":         "application/xml",
	".rdf":         "application/rdf+xml",
	".xul":         "application/vnd.mozilla.xul+xml",
	".dtd":         "application/xml-dtd",
	".properties":  "text/plain",
	".txt":         "text/plain",
	".md":          "text/markdown",
	".ftl":         "text/plain",
	".yaml":        "application/yaml",
	".yml":         "application/yaml",
	".toml":        "application/toml",
	".ts":          "application/typescript",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".ico":         "image/x-icon",
	".bmp":         "image/bmp",
	".wasm":        "application/wasm",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".zip":         "application/zip",
	".xpi":         "application/x-xpinstall",
	".pem":         "application/x-pem-file",
	".sh":          "application/x-sh",
	".webmanifest": "application/manifest+json",
}

// Non text/* types that still render as text.
var textualTypes = map[string]bool{
	"application/javascript":          true,
	"application/json":                true,
	"application/xml":                 true,
	"application/xhtml+xml":           true,
	"application/rdf+xml":             true,
	"application/vnd.mozilla.xul+xml": true,
	"application/xml-dtd":             true,
	"application/typescript":          true,
	"application/x-sh":                true,
	"application/x-pem-file":          true,
	"application/manifest+json":       true,
	"application/ecmascript":          true,
	"application/yaml":                true,
	"application/toml":                true,
}

// Classify returns the mimetype, category and, for text, the detected language
// of an entry. content may be nil, in which case the category falls back to
// what the name implies and unknown names are binary.
func Classify(name string, kind Kind, content []byte) Classification {
	if kind == KindTree {
		return Classification{MimeType: Directory, Category: CategoryDirectory}
	}

	mimeType := extensionTypes[strings.ToLower(path.Ext(name))]

	var result Classification

	if content == nil {
		if mimeType == "" {
			mimeType = OctetStream
		}

		result = Classification{MimeType: mimeType, Category: categoryOf(mimeType)}
	} else {
		result = classifyContent(mimeType, content)
	}

	if result.Category == CategoryText {
		result.Language = enry.GetLanguage(path.Base(name), content)
	}

	return result
}

// IsText reports whether the entry should be rendered as lines.
func IsText(name string, content []byte) bool {
	return Classify(name, KindBlob, content).Category == CategoryText
}

// classifyContent sniffs content. Images named as images stay images;
// everything else is text exactly when the detected type descends from
// text/plain.
func classifyContent(mimeType string, content []byte) Classification {
	detected := detect.Detect(content)

	if mimeType == "" {
		mimeType = stripParams(detected.String())
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"), strings.HasPrefix(detected.String(), "image/"):
		return Classification{MimeType: mimeType, Category: CategoryImage}
	case isText(detected):
		if mimeType == OctetStream {
			mimeType = PlainText
		}

		return Classification{MimeType: mimeType, Category: CategoryText}
	default:
		return Classification{MimeType: mimeType, Category: CategoryBinary}
	}
}

func isText(m *detect.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(PlainText) {
			return true
		}
	}

	return false
}

func categoryOf(mimeType string) Category {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "text/"), textualTypes[mimeType],
		strings.HasSuffix(mimeType, "+xml"), strings.HasSuffix(mimeType, "+json"):
		return CategoryText
	default:
		return CategoryBinary
	}
}

func stripParams(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")

	return strings.TrimSpace(base)
}
