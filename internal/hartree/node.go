package hartree

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// CookieReceived is one Set-Cookie response header the node received,
// tagged with whether it qualifies as third-party.
type CookieReceived struct {
	Domain     string `json:"domain"`
	Cookie     string `json:"cookie"`
	ThirdParty bool   `json:"third_party"`
}

// CookieSetter attributes one request cookie (by "name=value") back to the
// node whose response set it, filled in by the resolver's cross-attribution
// pass.
type CookieSetter struct {
	Hostname   string `json:"hostname"`
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	ThirdParty bool   `json:"3rd_party"`
}

// URLNode represents one HAR entry: the request and response it recorded,
// plus the classification and cross-attribution fields the resolver fills
// in while building the causality tree.
type URLNode struct {
	UUID     string     `json:"uuid"`
	Children []*URLNode `json:"children"`

	Name                     string `json:"name"`
	Hostname                 string `json:"hostname"`
	AlternativeURLForReferer string `json:"alternative_url_for_referer"`

	URLSplit            *url.URL  `json:"-"`
	StartTime           time.Time `json:"-"`
	Time                time.Duration `json:"-"`
	TimeContentReceived time.Time `json:"-"`

	Pageref string `json:"pageref"`

	KnownTLD   string `json:"known_tld,omitempty"`
	UnknownTLD string `json:"unknown_tld,omitempty"`

	Request  *har.Request  `json:"request"`
	Response *har.Response `json:"response"`

	Referer   string `json:"referer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	RequestCookie        []*har.Cookie             `json:"request_cookie"`
	ResponseCookie       []*har.Cookie             `json:"response_cookie"`
	CookiesReceived      []CookieReceived          `json:"cookies_received,omitempty"`
	CookiesSent          map[string][]CookieSetter `json:"cookies_sent,omitempty"`
	SetThirdPartyCookies bool                      `json:"set_third_party_cookies,omitempty"`

	Body          []byte `json:"-"`
	BodyHash      string `json:"body_hash,omitempty"`
	MimeType      string `json:"mimetype,omitempty"`
	Filename      string `json:"filename,omitempty"`
	EmptyResponse bool   `json:"empty_response,omitempty"`

	ExternalResources map[string][]string `json:"external_ressources,omitempty"`

	IPAddress net.IP `json:"-"`

	InitiatorURL string `json:"initiator_url,omitempty"`

	Redirect          bool   `json:"redirect,omitempty"`
	RedirectURL       string `json:"redirect_url,omitempty"`
	RedirectToNothing bool   `json:"redirect_to_nothing,omitempty"`

	// Exactly one of the following is true once loadEntry has run, except
	// UnsetMimetype/UnknownMimetype are themselves part of that same
	// mutually-exclusive set.
	JS              bool `json:"js,omitempty"`
	Image           bool `json:"image,omitempty"`
	CSS             bool `json:"css,omitempty"`
	JSONMime        bool `json:"json,omitempty"`
	HTML            bool `json:"html,omitempty"`
	Font            bool `json:"font,omitempty"`
	OctetStream     bool `json:"octet_stream,omitempty"`
	Text            bool `json:"text,omitempty"`
	Video           bool `json:"video,omitempty"`
	Livestream      bool `json:"livestream,omitempty"`
	UnsetMimetype   bool `json:"unset_mimetype,omitempty"`
	UnknownMimetype bool `json:"unknown_mimetype,omitempty"`

	// Context flags, added by the resolver's external-resource propagation
	// pass only — never set during MIME classification.
	Iframe bool `json:"iframe,omitempty"`
	Audio  bool `json:"audio,omitempty"`
}

// newURLNode allocates a node with a fresh UUID.
func newURLNode() *URLNode {
	return &URLNode{UUID: newUUID()}
}

// newUUID mints a fresh node identifier, shared by URLNode and HostNode
// construction.
func newUUID() string {
	return uuid.New().String()
}

// loadEntry populates a URLNode from one HAR entry, in a fixed sequence of
// steps: identity fields, timing, headers, cookies, body, MIME
// classification, server IP and initiator, then redirect resolution. An
// unsupported initiator type is returned as an InitiatorError only after the
// remaining steps have run, so the node is otherwise fully populated.
func (n *URLNode) loadEntry(logger *slog.Logger, entry *har.Entry, ext rawEntryExtensions, known URLSet) error {
	// Step 1: name, url_split, hostname, alternative referer URL.
	n.Name = unquotePlus(entry.Request.URL)
	if parsed, err := url.Parse(n.Name); err == nil {
		n.URLSplit = parsed
		n.Hostname = parsed.Hostname()
	}
	n.AlternativeURLForReferer = strings.SplitN(n.Name, "#", 2)[0]

	// Step 2: start time, tolerating a trailing Z.
	if t, err := parseHARTime(entry.StartedDateTime); err == nil {
		n.StartTime = t
	}

	// Step 3: pageref, time, time_content_received.
	n.Pageref = entry.Pageref
	n.Time = time.Duration(entry.Time * float64(time.Millisecond))
	n.TimeContentReceived = n.StartTime.Add(n.Time)

	if n.Hostname == "" {
		logger.Warn("something is broken in that node", "url", n.Name)
	}

	// Step 4: TLD classification via the public suffix list.
	classifyTLD(logger, n)

	// Step 5: headers.
	n.Request = entry.Request
	n.Response = entry.Response
	for _, h := range entry.Request.Headers {
		switch strings.ToLower(h.Name) {
		case "referer":
			n.Referer = unquotePlus(h.Value)
		case "user-agent":
			n.UserAgent = h.Value
		}
	}

	// Step 6: cookies.
	n.loadCookies(entry)

	// Step 7: body.
	if err := n.loadBody(logger, entry, known); err != nil {
		return err
	}

	// Step 8: MIME classification. Runs unconditionally, independent of
	// whether a body was present.
	mimeType := ""
	if entry.Response.Content != nil {
		mimeType = entry.Response.Content.MimeType
	}
	classifyMIME(logger, n, mimeType)

	// Step 9: server IP + Chromium initiator.
	ip := entry.ServerIPAddress
	if ip == "" {
		ip = ext.ServerIPAddress
	}
	if ip != "" {
		n.IPAddress = net.ParseIP(ip)
	}
	var initErr error
	if ext.Initiator != nil {
		initErr = n.loadInitiator(ext.Initiator)
	}

	// Step 10: redirect resolution.
	if entry.Response.RedirectURL != "" {
		n.Redirect = true
		redirectURL := RebuildURL(logger, n.Name, entry.Response.RedirectURL, known)
		if known.has(redirectURL) {
			n.RedirectURL = redirectURL
		} else {
			n.RedirectToNothing = true
			n.RedirectURL = entry.Response.RedirectURL
			logger.Warn("unable to find that URL",
				"original_url", n.Name, "original_redirect", entry.Response.RedirectURL, "modified_redirect", redirectURL)
		}
	}

	return initErr
}

func parseHARTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.000Z07:00", s)
}

func classifyTLD(logger *slog.Logger, n *URLNode) {
	if n.Hostname == "" {
		logger.Warn("no TLD/domain broken", "url", n.Name)
		return
	}
	if ip := net.ParseIP(n.Hostname); ip != nil {
		// IP literal: neither a known nor an unknown TLD.
		return
	}
	suffix, icann := publicsuffix.PublicSuffix(n.Hostname)
	if suffix == "" {
		logger.Warn("no TLD/domain broken", "url", n.Name)
		return
	}
	if icann {
		n.KnownTLD = suffix
	} else {
		logger.Warn("unknown TLD", "url", n.Name, "tld", suffix)
		n.UnknownTLD = suffix
	}
}

func (n *URLNode) loadCookies(entry *har.Entry) {
	n.ResponseCookie = entry.Response.Cookies
	for _, cookie := range entry.Response.Cookies {
		cookieDomain := cookie.Domain
		if strings.HasPrefix(cookieDomain, ".") {
			cookieDomain = cookieDomain[1:]
		} else if cookieDomain == "" {
			cookieDomain = n.Hostname
		}
		thirdParty := !strings.HasSuffix(n.Hostname, cookieDomain)
		if thirdParty {
			n.SetThirdPartyCookies = true
		}
		n.CookiesReceived = append(n.CookiesReceived, CookieReceived{
			Domain:     cookieDomain,
			Cookie:     fmt.Sprintf("%s=%s", cookie.Name, cookie.Value),
			ThirdParty: thirdParty,
		})
	}

	n.RequestCookie = entry.Request.Cookies
	if len(entry.Request.Cookies) > 0 {
		n.CookiesSent = make(map[string][]CookieSetter, len(entry.Request.Cookies))
		for _, cookie := range entry.Request.Cookies {
			n.CookiesSent[fmt.Sprintf("%s=%s", cookie.Name, cookie.Value)] = nil
		}
	}
}

func (n *URLNode) loadBody(logger *slog.Logger, entry *har.Entry, known URLSet) error {
	content := entry.Response.Content
	if content == nil || content.Text == "" {
		n.EmptyResponse = true
		return nil
	}

	var body []byte
	if content.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content.Text)
		if err != nil {
			n.EmptyResponse = true
			logger.Warn("failed to decode base64 body", "url", n.Name, "error", err)
			return nil
		}
		body = decoded
	} else {
		body = []byte(content.Text)
	}

	n.Body = body
	sum := sha512.Sum512(body)
	n.BodyHash = hex.EncodeToString(sum[:])
	n.MimeType = content.MimeType
	n.ExternalResources = FindExternalResources(logger, body, n.Name, known, true)

	if n.URLSplit != nil {
		if base := path.Base(n.URLSplit.Path); base != "" && base != "." && base != "/" {
			n.Filename = base
		}
	}
	if n.Filename == "" {
		n.Filename = "file.bin"
	}

	return nil
}

func classifyMIME(logger *slog.Logger, n *URLNode, mimeType string) {
	lower := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mimeType, "javascript") || strings.Contains(mimeType, "ecmascript"):
		n.JS = true
	case strings.HasPrefix(mimeType, "image"):
		n.Image = true
	case strings.HasPrefix(mimeType, "text/css"):
		n.CSS = true
	case strings.Contains(mimeType, "json"):
		n.JSONMime = true
	case strings.HasPrefix(mimeType, "text/html"):
		n.HTML = true
	case strings.Contains(mimeType, "font"):
		n.Font = true
	case strings.Contains(mimeType, "octet-stream"):
		n.OctetStream = true
	case strings.Contains(mimeType, "text/plain") || strings.Contains(mimeType, "xml"):
		n.Text = true
	case strings.Contains(mimeType, "video"):
		n.Video = true
	case strings.Contains(lower, "mpegurl"):
		n.Livestream = true
	case mimeType == "":
		n.UnsetMimetype = true
	default:
		n.UnknownMimetype = true
		logger.Warn("unknown mimetype", "mimetype", mimeType, "url", n.Name)
	}
}

// loadInitiator interprets Chromium's `_initiator` extension. "other" is
// silently ignored; "redirect" or any unrecognized type becomes an
// InitiatorError, scoped to this entry.
func (n *URLNode) loadInitiator(initiator *rawInitiator) error {
	switch initiator.Type {
	case "other":
		return nil
	case "parser":
		if initiator.URL != "" {
			n.InitiatorURL = unquotePlus(initiator.URL)
		}
		return nil
	case "script":
		if u, ok := findInitiatorURL(initiator.Stack); ok {
			n.InitiatorURL = u
		}
		return nil
	default:
		return &InitiatorError{URL: n.Name, Pageref: n.Pageref, Type: initiator.Type}
	}
}
