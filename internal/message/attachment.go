package message

import "strings"

// Attachment is either a FileAttachment or a RawAttachment.
type Attachment interface {
	// displayName is the unencoded name used in the name= parameter.
	displayName() string
}

// FileAttachment references bytes that are fetched from the builder's
// Source when the message is composed.
type FileAttachment struct {
	Ref string
}

func (a FileAttachment) displayName() string {
	return baseName(a.Ref)
}

// RawAttachment carries its bytes directly.
type RawAttachment struct {
	Name string
	Data []byte
}

func (a RawAttachment) displayName() string {
	return a.Name
}

// baseName returns the final path segment of ref. Both separators are
// honored so Windows-style references resolve the same on every platform.
func baseName(ref string) string {
	ref = strings.TrimRight(ref, `/\`)
	if i := strings.LastIndexAny(ref, `/\`); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
