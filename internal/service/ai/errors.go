package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImageReturned means the capability answered successfully but without an image part.
	ErrNoImageReturned = errors.New("capability returned no image")
	ErrMissingImage    = errors.New("image edit requires an attached image")
	ErrInvalidImage    = errors.New("attached image is not a base64 data uri")
)

// UpstreamError reports a capability that could not be reached, failed,
// timed out or returned an empty answer.
type UpstreamError struct {
	Capability string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error: %v", e.Capability, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
