package hartree

import (
	"log/slog"
	"os"
)

// NewCaptureLogger returns a logger tagged with a capture's UUID: every
// record carries the capture it belongs to, so warnings from several
// captures processed side by side (multi-HAR stitching, or a server
// handling several operations at once) can still be told apart.
func NewCaptureLogger(captureUUID string) *slog.Logger {
	if captureUUID == "" {
		captureUUID = "-"
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil)).With("capture", captureUUID)
}
