package hartree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSideCars(t *testing.T, dir, stem string, redirect, cookies, htmlBody string) {
	t.Helper()
	if redirect != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".last_redirect.txt"), []byte(redirect), 0o644))
	}
	if cookies != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".cookies.json"), []byte(cookies), 0o644))
	}
	if htmlBody != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, stem+".html"), []byte(htmlBody), 0o644))
	}
}

func TestLoadHarFile_SideCars(t *testing.T) {
	dir := t.TempDir()
	stem := "capture"

	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "", "", "/b", "", "")
	e2 := entryJSON("http://a/b", "2024-01-01T00:00:01.000Z", 1, "text/html", "<html></html>", "", "", "")
	doc := harTemplateFor(e1, e2)

	path := filepath.Join(dir, stem+".har")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	writeSideCars(t, dir, stem, "http://a/b", `[{"name":"sess","value":"1","domain":"a"}]`, "<html>rendered</html>")

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	assert.Equal(t, "http://a/b", hf.FinalRedirect)
	require.Len(t, hf.Cookies, 1)
	assert.Equal(t, "sess", hf.Cookies[0].Name)
	assert.Equal(t, "<html>rendered</html>", string(hf.HTMLContent))
}

func TestLoadHarFile_NoSideCars(t *testing.T) {
	dir := t.TempDir()
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", "", "", "", "")
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(harTemplateFor(e1)), 0o644))

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	assert.Empty(t, hf.FinalRedirect)
	assert.Nil(t, hf.Cookies)
	assert.Nil(t, hf.HTMLContent)
	assert.False(t, hf.HasInitialRedirects())
	assert.Nil(t, hf.InitialRedirects())
}

func TestSearchFinalRedirect_ProgressiveStrip(t *testing.T) {
	dir := t.TempDir()
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "", "", "/b", "", "")
	e2 := entryJSON("http://a/b", "2024-01-01T00:00:01.000Z", 1, "text/html", "<html></html>", "", "", "")
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(harTemplateFor(e1, e2)), 0o644))
	writeSideCars(t, dir, "capture", "http://a/b#section?x=1", "", "")

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	assert.Equal(t, "http://a/b", hf.FinalRedirect)
}

func TestHarFile_InitialRedirects_RedirectURLChain(t *testing.T) {
	dir := t.TempDir()
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "", "", "/b", "", "")
	e2 := entryJSON("http://a/b", "2024-01-01T00:00:01.000Z", 1, "text/html", "<html></html>", "", "", "")
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(harTemplateFor(e1, e2)), 0o644))
	writeSideCars(t, dir, "capture", "http://a/b", "", "")

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	require.True(t, hf.HasInitialRedirects())
	assert.Equal(t, []string{"http://a/b"}, hf.InitialRedirects())
	assert.False(t, hf.NeedTreeRedirects)
}

func TestHarFile_InitialRedirects_UnmatchedFallsBackToFinalRedirectOnly(t *testing.T) {
	dir := t.TempDir()
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", "", "", "", "")
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(harTemplateFor(e1)), 0o644))
	writeSideCars(t, dir, "capture", "http://a/somewhere-else", "", "")

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	require.True(t, hf.HasInitialRedirects())
	assert.Equal(t, []string{"http://a/somewhere-else"}, hf.InitialRedirects())
	assert.True(t, hf.NeedTreeRedirects)
}

func TestHarFile_PageRootFor(t *testing.T) {
	dir := t.TempDir()
	e1 := entryJSON("http://a/", "2024-01-01T00:00:00.000Z", 1, "text/html", "", "", "", "")
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(harTemplateFor(e1)), 0o644))

	hf, err := LoadHarFile(path, NewCaptureLogger("test"))
	require.NoError(t, err)

	page, ok := hf.PageRootFor("2024-01-01T00:00:00.000Z")
	require.True(t, ok)
	assert.Equal(t, "page_1", page.ID)

	_, ok = hf.PageRootFor("not-a-time")
	assert.False(t, ok)
}

func harTemplateFor(entries ...string) string {
	return "{\n  \"log\": {\n    \"version\": \"1.2\",\n    \"creator\": {\"name\": \"test\", \"version\": \"1\"},\n    \"pages\": [{\"startedDateTime\": \"2024-01-01T00:00:00.000Z\", \"id\": \"page_1\", \"title\": \"t\"}],\n    \"entries\": [" + joinEntries(entries) + "]\n  }\n}"
}
