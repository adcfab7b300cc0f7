package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Checksum identifies a script by its logical content: comments are removed,
// whitespace runs collapse to one space and letters are lowercased, so a
// reformatted script keeps its checksum.
func Checksum(script string) string {
	sum := sha256.Sum256([]byte(normalize(script)))
	return hex.EncodeToString(sum[:])
}

// IsBlank reports whether script contains nothing but comments and whitespace.
func IsBlank(script string) bool {
	return normalize(script) == ""
}

func normalize(script string) string {
	stripped := stripComments(script)

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(unicode.ToLower(r))
		space = false
	}
	return strings.TrimSpace(b.String())
}

// stripComments replaces -- and (nested) /* */ comments with a space. Quoted
// strings and dollar-quoted bodies are copied untouched.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return b.String() + " "
			}
			b.WriteByte(' ')
			i += end
		case strings.HasPrefix(s[i:], "/*"):
			b.WriteByte(' ')
			i = skipBlockComment(s, i)
		case s[i] == '\'':
			end := closingQuote(s, i)
			b.WriteString(s[i:end])
			i = end
		case s[i] == '$':
			tag := dollarTag(s[i:])
			if tag == "" {
				b.WriteByte('$')
				i++
				continue
			}
			end := strings.Index(s[i+len(tag):], tag)
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			end = i + len(tag) + end + len(tag)
			b.WriteString(s[i:end])
			i = end
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// skipBlockComment returns the index just past the comment opened at i.
func skipBlockComment(s string, i int) int {
	depth := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(s[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(s)
}

// closingQuote returns the index just past the literal opened at i; ''
// inside the literal is an escaped quote.
func closingQuote(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != '\'' {
			continue
		}
		if j+1 < len(s) && s[j+1] == '\'' {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// dollarTag returns the $tag$ or $$ opening s, or "" when s does not start one.
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1]
		case c == '_' || unicode.IsLetter(rune(c)):
		case c >= '0' && c <= '9' && j > 1:
		default:
			return ""
		}
	}
	return ""
}
