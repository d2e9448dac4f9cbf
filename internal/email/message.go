// Package email defines the composed message model shared by the builder and
// the delivery providers.
package email

import (
	"net/mail"
	"strings"
)

// Message is a fully composed MIME message. Headers and Body are wire-ready:
// CRLF line endings, Headers terminated by a trailing CRLF.
type Message struct {
	// To is the recipient field exactly as supplied by the caller. It may be
	// a comma-separated list.
	To string

	// From is the sender address exactly as supplied by the caller.
	From string

	// Subject is the header-encoded subject as written to the header block.
	Subject string

	// Headers is the complete header block.
	Headers string

	// Body is the complete multipart body.
	Body string
}

// Bytes returns the RFC 5322 stream: header block, blank line, body.
func (m *Message) Bytes() []byte {
	var b strings.Builder
	b.Grow(len(m.Headers) + 2 + len(m.Body))
	b.WriteString(m.Headers)
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return []byte(b.String())
}

// Size returns the length of the wire stream in bytes.
func (m *Message) Size() int {
	return len(m.Headers) + 2 + len(m.Body)
}

// Recipients splits the To field into individual addresses.
func (m *Message) Recipients() []string {
	return parseAddressList(m.To)
}

// Sender returns the bare address of the From field.
func (m *Message) Sender() string {
	addr, err := mail.ParseAddress(m.From)
	if err != nil {
		return strings.TrimSpace(m.From)
	}
	return addr.Address
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
