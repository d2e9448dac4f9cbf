package message

import (
	"errors"
	"fmt"
)

var (
	// ErrAttachment matches any *AttachmentError.
	ErrAttachment = errors.New("attachment could not be resolved")

	// ErrDelivery matches any *DeliveryError.
	ErrDelivery = errors.New("delivery failed")
)

// AttachmentError reports a file attachment whose bytes the Source could
// not produce. Compose returns no message when it occurs.
type AttachmentError struct {
	Ref string
	Err error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %q: %v", e.Ref, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

func (e *AttachmentError) Is(target error) bool { return target == ErrAttachment }

// DeliveryError wraps a failure reported by a provider.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
