package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomasbasham/cli-runtime/iooption"
)

func writeCaptureConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hartree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCaptureOptions_Complete_RequiresURL(t *testing.T) {
	o := NewCaptureOptions(iooption.IOStreams{})
	cmd := NewCaptureCommand(o)

	err := o.Complete(cmd, nil)
	assert.Error(t, err)
}

func TestCaptureOptions_Complete_SetsURLFromArgs(t *testing.T) {
	o := NewCaptureOptions(iooption.IOStreams{})
	cmd := NewCaptureCommand(o)

	require.NoError(t, o.Complete(cmd, []string{"https://example.com"}))
	assert.Equal(t, "https://example.com", o.URL)
}

func TestCaptureOptions_Complete_ConfigFillsUnsetFlags(t *testing.T) {
	path := writeCaptureConfig(t, "navigation_timeout: 3s\ntotal_timeout: 9s\ncapture_bodies: true\n")

	o := NewCaptureOptions(iooption.IOStreams{})
	cmd := NewCaptureCommand(o)
	o.ConfigPath = path

	require.NoError(t, o.Complete(cmd, []string{"https://example.com"}))

	assert.Equal(t, 3*time.Second, o.NavigationTimeout)
	assert.Equal(t, 9*time.Second, o.TotalTimeout)
	assert.True(t, o.CaptureBodies)
}

func TestCaptureOptions_Complete_ExplicitFlagWinsOverConfig(t *testing.T) {
	path := writeCaptureConfig(t, "navigation_timeout: 3s\n")

	o := NewCaptureOptions(iooption.IOStreams{})
	cmd := NewCaptureCommand(o)
	o.ConfigPath = path
	// capture's flags live on PersistentFlags(); ParseFlags merges them into
	// the command's local flag set so Changed() reports correctly, exactly
	// as cobra does internally before invoking RunE.
	require.NoError(t, cmd.ParseFlags([]string{"--navigation-timeout=30s"}))

	require.NoError(t, o.Complete(cmd, []string{"https://example.com"}))

	assert.Equal(t, 30*time.Second, o.NavigationTimeout)
}
