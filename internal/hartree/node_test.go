package hartree

import (
	"testing"

	"github.com/chromedp/cdproto/har"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEntry(url, mimeType string) *har.Entry {
	return &har.Entry{
		Pageref:         "page_1",
		StartedDateTime: "2024-01-01T00:00:00.000Z",
		Time:            12.5,
		Request: &har.Request{
			Method:  "GET",
			URL:     url,
			Headers: []*har.NameValuePair{},
			Cookies: []*har.Cookie{},
		},
		Response: &har.Response{
			Status: 200,
			Content: &har.Content{
				MimeType: mimeType,
			},
		},
	}
}

func TestLoadEntry_MIMEExclusivity(t *testing.T) {
	cases := map[string]func(n *URLNode) bool{
		"application/javascript": func(n *URLNode) bool { return n.JS },
		"image/png":              func(n *URLNode) bool { return n.Image },
		"text/css":               func(n *URLNode) bool { return n.CSS },
		"application/json":       func(n *URLNode) bool { return n.JSONMime },
		"text/html":              func(n *URLNode) bool { return n.HTML },
		"font/woff2":             func(n *URLNode) bool { return n.Font },
		"application/octet-stream": func(n *URLNode) bool { return n.OctetStream },
		"text/plain":             func(n *URLNode) bool { return n.Text },
		"video/mp4":              func(n *URLNode) bool { return n.Video },
		"application/vnd.apple.mpegurl": func(n *URLNode) bool { return n.Livestream },
		"": func(n *URLNode) bool { return n.UnsetMimetype },
		"application/x-something-weird": func(n *URLNode) bool { return n.UnknownMimetype },
	}

	logger := NewCaptureLogger("test")
	for mimeType, check := range cases {
		t.Run(mimeType, func(t *testing.T) {
			n := newURLNode()
			entry := baseEntry("http://a.b/x", mimeType)
			require.NoError(t, n.loadEntry(logger, entry, rawEntryExtensions{}, NewURLSet([]string{"http://a.b/x"})))
			assert.True(t, check(n), "expected classification flag to be set for %q", mimeType)
			assert.Equal(t, 1, countTrue(n), "exactly one MIME flag should be set")
		})
	}
}

func countTrue(n *URLNode) int {
	flags := []bool{
		n.JS, n.Image, n.CSS, n.JSONMime, n.HTML, n.Font, n.OctetStream,
		n.Text, n.Video, n.Livestream, n.UnsetMimetype, n.UnknownMimetype,
	}
	count := 0
	for _, f := range flags {
		if f {
			count++
		}
	}
	return count
}

func TestLoadEntry_ThirdPartyCookie(t *testing.T) {
	logger := NewCaptureLogger("test")
	n := newURLNode()
	entry := baseEntry("http://www.a.b/x", "text/html")
	entry.Response.Cookies = []*har.Cookie{
		{Name: "sess", Value: "1", Domain: ".a.b"},
		{Name: "track", Value: "2", Domain: "other.net"},
	}

	require.NoError(t, n.loadEntry(logger, entry, rawEntryExtensions{}, NewURLSet([]string{"http://www.a.b/x"})))

	require.Len(t, n.CookiesReceived, 2)
	assert.False(t, n.CookiesReceived[0].ThirdParty, "cookie scoped to .a.b is first-party for www.a.b")
	assert.True(t, n.CookiesReceived[1].ThirdParty, "cookie scoped to other.net is third-party for www.a.b")
	assert.True(t, n.SetThirdPartyCookies)
}

func TestLoadEntry_RedirectResolution(t *testing.T) {
	logger := NewCaptureLogger("test")

	t.Run("known target", func(t *testing.T) {
		n := newURLNode()
		entry := baseEntry("http://a.b/", "")
		entry.Response.RedirectURL = "/next"
		known := NewURLSet([]string{"http://a.b/", "http://a.b/next"})
		require.NoError(t, n.loadEntry(logger, entry, rawEntryExtensions{}, known))
		assert.True(t, n.Redirect)
		assert.False(t, n.RedirectToNothing)
		assert.Equal(t, "http://a.b/next", n.RedirectURL)
	})

	t.Run("unknown target", func(t *testing.T) {
		n := newURLNode()
		entry := baseEntry("http://a.b/", "")
		entry.Response.RedirectURL = "http://c.d/"
		known := NewURLSet([]string{"http://a.b/"})
		require.NoError(t, n.loadEntry(logger, entry, rawEntryExtensions{}, known))
		assert.True(t, n.Redirect)
		assert.True(t, n.RedirectToNothing)
		assert.Equal(t, "http://c.d/", n.RedirectURL)
	})
}

func TestLoadEntry_InitiatorScriptStack(t *testing.T) {
	logger := NewCaptureLogger("test")
	n := newURLNode()
	entry := baseEntry("http://cdn.example/lib.js", "application/javascript")
	ext := rawEntryExtensions{
		Initiator: &rawInitiator{
			Type: "script",
			Stack: &rawInitiatorStack{
				CallFrames: []rawCallFrame{{URL: "http://a.b/"}},
			},
		},
	}
	require.NoError(t, n.loadEntry(logger, entry, ext, NewURLSet([]string{entry.Request.URL})))
	assert.Equal(t, "http://a.b/", n.InitiatorURL)
}

func TestLoadEntry_UnsupportedInitiatorType(t *testing.T) {
	logger := NewCaptureLogger("test")
	n := newURLNode()
	entry := baseEntry("http://a.b/", "text/html")
	ext := rawEntryExtensions{Initiator: &rawInitiator{Type: "redirect"}}

	err := n.loadEntry(logger, entry, ext, NewURLSet([]string{entry.Request.URL}))
	require.Error(t, err)
	var initErr *InitiatorError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "redirect", initErr.Type)
}
