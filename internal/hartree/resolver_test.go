package hartree

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHAR(t *testing.T, json string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(json), 0o644))
	return path
}

const harTemplate = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "test", "version": "1"},
    "pages": [{"startedDateTime": "2024-01-01T00:00:00.000Z", "id": "page_1", "title": "t"}],
    "entries": [%s]
  }
}`

func entryJSON(url, started string, timeMS float64, mimeType, text, redirectURL, referer, initiatorJSON string) string {
	headers := "[]"
	if referer != "" {
		headers = fmt.Sprintf(`[{"name": "Referer", "value": %q}]`, referer)
	}
	extra := ""
	if initiatorJSON != "" {
		extra = "," + initiatorJSON
	}
	return fmt.Sprintf(`{
  "pageref": "page_1",
  "startedDateTime": %q,
  "time": %f,
  "request": {"method": "GET", "url": %q, "httpVersion": "HTTP/1.1", "cookies": [], "headers": %s, "queryString": [], "headersSize": -1, "bodySize": -1},
  "response": {"status": 200, "statusText": "OK", "httpVersion": "HTTP/1.1", "cookies": [], "headers": [], "content": {"size": 0, "mimeType": %q, "text": %q}, "redirectURL": %q, "headersSize": -1, "bodySize": -1}
  %s
}`, started, timeMS, url, headers, mimeType, text, redirectURL, extra)
}

func buildTestTree(t *testing.T, entries ...string) *Har2Tree {
	t.Helper()
	path := writeHAR(t, fmt.Sprintf(harTemplate, joinEntries(entries)))
	logger := NewCaptureLogger("test")
	hf, err := LoadHarFile(path, logger)
	require.NoError(t, err)
	tree, err := BuildTree(hf, logger)
	require.NoError(t, err)
	return tree
}

func joinEntries(entries []string) string {
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out
}

func TestScenario_TwoEntryRedirectChain(t *testing.T) {
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "", "", "/b", "", "")
	e2 := entryJSON("http://a/b", "2024-01-01T00:00:01.000Z", 1, "text/html", "<html></html>", "", "", "")

	tree := buildTestTree(t, e1, e2)

	require.Equal(t, "http://a/", tree.URLTree.Name)
	require.Len(t, tree.URLTree.Children, 1)
	assert.Equal(t, "http://a/b", tree.URLTree.Children[0].Name)

	host := tree.HostnameTree
	assert.Equal(t, "a", host.Name)
	assert.Equal(t, 1, host.Redirect)
	assert.Equal(t, 1, host.HTML)
	assert.Len(t, host.URLs, 2)
}

func TestScenario_MissingRedirectTarget(t *testing.T) {
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "", "", "http://c/", "", "")

	tree := buildTestTree(t, e1)

	assert.True(t, tree.URLTree.RedirectToNothing)
	assert.Empty(t, tree.URLTree.Children)
}

func TestScenario_HTMLSubResourceAttachment(t *testing.T) {
	body := `<html><body><script src="http://cdn/lib.js"></script></body></html>`
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", body, "", "", "")
	e2 := entryJSON("http://cdn/lib.js", "2024-01-01T00:00:01.000Z", 1, "application/javascript", "", "", "", "")

	tree := buildTestTree(t, e1, e2)

	require.Len(t, tree.URLTree.Children, 1)
	child := tree.URLTree.Children[0]
	assert.Equal(t, "http://cdn/lib.js", child.Name)
	assert.True(t, child.JS)
}

func TestScenario_InitiatorPrecedenceOverReferer(t *testing.T) {
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", "<html></html>", "", "", "")
	initiator := `"_initiator": {"type": "script", "stack": {"callFrames": [{"url": "http://a/"}]}}`
	e2 := entryJSON("http://cdn/lib.js", "2024-01-01T00:00:01.000Z", 1, "application/javascript", "", "", "http://other/", initiator)

	tree := buildTestTree(t, e1, e2)

	require.Len(t, tree.URLTree.Children, 1)
	assert.Equal(t, "http://cdn/lib.js", tree.URLTree.Children[0].Name)
	assert.Equal(t, "http://a/", tree.URLTree.Children[0].InitiatorURL)
}

func TestScenario_MixedContentHost(t *testing.T) {
	body := `<html><body><script src="https://a/sec.js"></script></body></html>`
	e1withBody := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", body, "", "", "")
	e2 := entryJSON("https://a/sec.js", "2024-01-01T00:00:01.000Z", 1, "application/javascript", "", "", "", "")

	tree := buildTestTree(t, e1withBody, e2)

	host := tree.HostnameTree
	assert.True(t, host.HTTPContent)
	assert.True(t, host.HTTPSContent)
	assert.True(t, host.MixedContent)
}
