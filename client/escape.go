package qubesadmin

import (
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// escapeString encodes the control bytes that the line-oriented bulk
// property format cannot carry inline.
func escapeString(s string) string {
	var sb strings.Builder

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case 0x00:
			sb.WriteString(`\0`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(s[i])
		}
	}

	return sb.String()
}

// unescapeString reverses escapeString. Escapes other than the known
// control sequences decode to the escaped character itself.
func unescapeString(s string) (string, error) {
	var sb strings.Builder
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !escaped {
			if c == '\\' {
				escaped = true
			} else {
				sb.WriteByte(c)
			}

			continue
		}

		switch c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '0':
			sb.WriteByte(0x00)
		default:
			sb.WriteByte(c)
		}

		escaped = false
	}

	if escaped {
		return "", api.CommunicationErrorf("Truncated escape sequence in property value")
	}

	return sb.String(), nil
}
