package message

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// maxLineLength is the RFC 2045 limit for base64 content lines.
const maxLineLength = 76

const crlf = "\r\n"

// tokenLength is the number of hex digits kept from the boundary digest.
const tokenLength = 32

// newBoundaryToken derives a per-message token from the current time and a
// random UUID, so builders created in the same nanosecond still differ.
func newBoundaryToken() string {
	seed := time.Now().Format(time.RFC3339Nano) + uuid.NewString()
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:tokenLength]
}

// encodeWord applies the header policy for attachment names: NFC-normalize,
// then RFC 2047 B-encode as UTF-8 unless the value is already printable
// ASCII. Subjects follow the same policy through subjectWords.
func encodeWord(s string) string {
	return mime.BEncoding.Encode("UTF-8", norm.NFC.String(s))
}

// maxWordBytes is the most UTF-8 input one subject encoded-word carries.
// The word is then 68 characters, so "Subject: " plus a word fits in 78
// columns.
const maxWordBytes = 42

// subjectWords applies the encodeWord policy to a subject and splits the
// result into encoded-words of at most maxWordBytes input each, never
// splitting a rune. A subject that needs no encoding is a single word and
// is not folded, however long.
func subjectWords(s string) []string {
	s = norm.NFC.String(s)
	if mime.BEncoding.Encode("UTF-8", s) == s {
		return []string{s}
	}

	var words []string
	for s != "" {
		n := 0
		for n < len(s) {
			_, size := utf8.DecodeRuneInString(s[n:])
			if n > 0 && n+size > maxWordBytes {
				break
			}
			n += size
		}
		words = append(words, "=?UTF-8?b?"+base64.StdEncoding.EncodeToString([]byte(s[:n]))+"?=")
		s = s[n:]
	}
	return words
}

// quoteParam renders a quoted-string parameter value.
func quoteParam(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// writeBase64 writes data as base64 folded into CRLF-terminated lines of at
// most maxLineLength characters.
func writeBase64(b *strings.Builder, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > maxLineLength {
		b.WriteString(encoded[:maxLineLength])
		b.WriteString(crlf)
		encoded = encoded[maxLineLength:]
	}
	if encoded != "" {
		b.WriteString(encoded)
		b.WriteString(crlf)
	}
}
