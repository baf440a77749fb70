// ABOUTME: Raw feed sanitizer removing byte-order marks, comments, and blank lines
// ABOUTME: Produces the ordered content lines consumed by schema detection

package feeds

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CommentPrefix marks a comment line in abuse.ch exports.
const CommentPrefix = "#"

// Sanitize strips a leading byte-order mark and returns the non-blank,
// non-comment lines of raw in their original order. It never fails; input
// without content yields an empty slice.
func Sanitize(raw string) []string {
	text := stripBOM(raw)

	lines := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		out = append(out, line)
	}

	return out
}

// stripBOM removes one leading BOM. Only a UTF-16 BOM switches decoding to
// UTF-16; any other input passes through byte for byte.
func stripBOM(raw string) string {
	if !strings.HasPrefix(raw, "\xff\xfe") && !strings.HasPrefix(raw, "\xfe\xff") {
		return strings.TrimPrefix(raw, "\ufeff")
	}

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.String(decoder, raw)
	if err != nil {
		return raw
	}

	return decoded
}
