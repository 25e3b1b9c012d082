package hartree

import (
	"errors"
	"fmt"
)

// ErrNoUsableCaptures is returned when none of the HAR files handed to
// BuildFromFiles contain any entries.
var ErrNoUsableCaptures = errors.New("hartree: no usable HAR files found")

// ErrEmptyCapture is returned by BuildTree when a HAR file has zero entries.
// It is not fatal on its own — BuildFromFiles skips the file and only
// surfaces ErrNoUsableCaptures if every file in the batch is empty.
var ErrEmptyCapture = errors.New("hartree: capture has no entries")

// InitiatorError reports a Chromium `_initiator` shape the resolver does not
// know how to interpret: type "redirect", or any type other than "other",
// "parser" and "script". It is scoped to the offending entry so the rest of
// the capture can still be resolved.
type InitiatorError struct {
	URL     string
	Pageref string
	Type    string
}

func (e *InitiatorError) Error() string {
	return fmt.Sprintf("hartree: unsupported _initiator.type %q for %s (pageref %s)", e.Type, e.URL, e.Pageref)
}
