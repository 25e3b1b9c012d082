package hartree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindExternalResources_TagsAndCSSAndJS(t *testing.T) {
	body := []byte(`<html><body>
<img src="/logo.png">
<script src="https://cdn.example/lib.js"></script>
<iframe src="/frame.html"></iframe>
<link href="/style.css">
<style>.x { background: url(/bg.png); }</style>
<script>window.location="/go-there";</script>
<meta http-equiv="refresh" content="0; url=/redirected">
</body></html>`)

	logger := NewCaptureLogger("test")
	known := NewURLSet([]string{
		"http://a.b/logo.png",
		"https://cdn.example/lib.js",
		"http://a.b/frame.html",
		"http://a.b/style.css",
		"http://a.b/bg.png",
		"http://a.b/go-there",
		"http://a.b/redirected",
	})

	got := FindExternalResources(logger, body, "http://a.b/", known, true)

	assert.Contains(t, got["img"], "http://a.b/logo.png")
	assert.Contains(t, got["script"], "https://cdn.example/lib.js")
	assert.Contains(t, got["iframe"], "http://a.b/frame.html")
	assert.Contains(t, got["link"], "http://a.b/style.css")
	assert.Contains(t, got["css"], "http://a.b/bg.png")
	assert.Contains(t, got["javascript"], "http://a.b/go-there")
	assert.Contains(t, got["meta_refresh"], "http://a.b/redirected")
}

func TestFindExternalResources_AlwaysPopulatesEveryCategory(t *testing.T) {
	logger := NewCaptureLogger("test")
	got := FindExternalResources(logger, []byte(`<html></html>`), "http://a.b/", URLSet{}, false)

	for _, category := range resourceCategories {
		_, ok := got[category]
		assert.True(t, ok, "missing category %q", category)
	}
}

func TestFindExternalResources_SkipsDataURLs(t *testing.T) {
	logger := NewCaptureLogger("test")
	body := []byte(`<img src="data:image/png;base64,aaaa">`)
	got := FindExternalResources(logger, body, "http://a.b/", URLSet{}, false)
	assert.Empty(t, got["img"])
}
