package uploader

import "strings"

const upperHex = "0123456789ABCDEF"

// EscapeFileName percent-encodes name as UTF-8 for the
// X-Bz-File-Name header. Only RFC 3986 unreserved
// characters are left as-is; B2 decodes '+' as a space, so
// sub-delimiters must be escaped too.
func EscapeFileName(name string) string {
	var sb strings.Builder

	sb.Grow(len(name))

	for i := range len(name) {
		c := name[i]
		if isUnreserved(c) {
			sb.WriteByte(c)

			continue
		}

		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}

	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z',
		'A' <= c && c <= 'Z',
		'0' <= c && c <= '9':
		return true
	}

	switch c {
	case '-', '.', '_', '~':
		return true
	}

	return false
}
