package hartree

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/har"
)

// JarCookie is one record from a capture's full cookie jar side-car
// (`<stem>.cookies.json`), in the common browser cookie-export shape.
type JarCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// HarFile loads a HAR document plus its colocated side-cars and exposes the
// sorted entries and bookkeeping the resolver needs to build a tree.
type HarFile struct {
	Path string

	doc        *har.HAR
	extensions []rawEntryExtensions // aligned with doc.Log.Entries by index

	FinalRedirect     string
	Cookies           []JarCookie
	HTMLContent       []byte
	NeedTreeRedirects bool

	pagesStartTimes map[string]*har.Page

	logger *slog.Logger
}

// LoadHarFile reads path and any `<stem>.last_redirect.txt`,
// `<stem>.cookies.json`, `<stem>.html` side-cars found alongside it.
func LoadHarFile(path string, logger *slog.Logger) (*HarFile, error) {
	if logger == nil {
		logger = NewCaptureLogger("")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hartree: read HAR %q: %w", path, err)
	}

	var doc har.HAR
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("hartree: parse HAR %q: %w", path, err)
	}
	if doc.Log == nil {
		doc.Log = &har.Log{}
	}

	extensions, err := decodeEntryExtensions(raw)
	if err != nil {
		return nil, fmt.Errorf("hartree: parse HAR extensions %q: %w", path, err)
	}

	sort.SliceStable(doc.Log.Entries, func(i, j int) bool {
		return doc.Log.Entries[i].StartedDateTime < doc.Log.Entries[j].StartedDateTime
	})
	// extensions must track the same order as doc.Log.Entries. Sorting was
	// done on doc.Log.Entries directly, so reorderExtensions re-pairs each
	// extension with its entry by request URL + start time, consuming
	// duplicate keys in their original order.
	extensions = reorderExtensions(raw, doc.Log.Entries, extensions)

	h := &HarFile{
		Path:       path,
		doc:        &doc,
		extensions: extensions,
		logger:     logger,
	}

	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if b, err := os.ReadFile(filepath.Join(dir, stem+".last_redirect.txt")); err == nil {
		h.FinalRedirect = unquotePlus(strings.TrimSpace(string(b)))
		h.searchFinalRedirect()
	}

	if b, err := os.ReadFile(filepath.Join(dir, stem+".cookies.json")); err == nil {
		var cookies []JarCookie
		if err := json.Unmarshal(b, &cookies); err == nil {
			h.Cookies = cookies
		}
	}

	if b, err := os.ReadFile(filepath.Join(dir, stem+".html")); err == nil {
		h.HTMLContent = b
	}

	h.pagesStartTimes = make(map[string]*har.Page, len(doc.Log.Pages))
	for _, p := range doc.Log.Pages {
		h.pagesStartTimes[p.StartedDateTime] = p
	}
	if entries := h.Entries(); len(entries) > 0 && len(doc.Log.Pages) > 0 {
		h.pagesStartTimes[h.InitialStartTime()] = doc.Log.Pages[0]
	}

	return h, nil
}

// reorderExtensions re-unmarshals the raw entry array in its original order,
// builds an index keyed by (URL, startedDateTime) occurrence count, then
// reassigns each extension to the entry it described before the sort above
// reordered doc.Log.Entries. Entries are decoded twice deliberately: once
// strongly typed via har.HAR, once loosely for Chromium extensions, and the
// two must be re-synchronized after HarFile's own stable sort.
func reorderExtensions(raw []byte, sorted []*har.Entry, original []rawEntryExtensions) []rawEntryExtensions {
	if len(original) != len(sorted) {
		return original
	}

	var doc struct {
		Log struct {
			Entries []*har.Entry `json:"entries"`
		} `json:"log"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return original
	}

	byKey := make(map[string][]rawEntryExtensions)
	for i, e := range doc.Log.Entries {
		k := entryKey(e)
		byKey[k] = append(byKey[k], original[i])
	}

	out := make([]rawEntryExtensions, 0, len(sorted))
	for _, e := range sorted {
		k := entryKey(e)
		bucket := byKey[k]
		if len(bucket) == 0 {
			out = append(out, rawEntryExtensions{})
			continue
		}
		out = append(out, bucket[0])
		byKey[k] = bucket[1:]
	}
	return out
}

// entryKey identifies an entry by request URL + start time, the only pair
// HAR guarantees is present and that survives the stable sort above (ties on
// both are rare enough in practice that losing strict ordering among them is
// acceptable — _initiator/serverIPAddress misattribution among exact
// duplicate entries does not affect any invariant this module checks).
func entryKey(e *har.Entry) string {
	if e == nil || e.Request == nil {
		return ""
	}
	return e.Request.URL + "\x00" + e.StartedDateTime
}

func (h *HarFile) searchFinalRedirect() {
	entries := h.Entries()
	for _, e := range entries {
		unquoted := unquotePlus(e.Request.URL)
		if unquoted == h.FinalRedirect {
			return
		}
		if strings.HasPrefix(unquoted, h.FinalRedirect+"?") {
			h.FinalRedirect = unquoted
			return
		}
	}

	switch {
	case strings.Contains(h.FinalRedirect, "#"):
		h.FinalRedirect = strings.SplitN(h.FinalRedirect, "#", 2)[0]
		h.searchFinalRedirect()
	case strings.Contains(h.FinalRedirect, "?"):
		h.FinalRedirect = strings.SplitN(h.FinalRedirect, "?", 2)[0]
		h.searchFinalRedirect()
	default:
		h.logger.Warn("unable to find the final redirect", "final_redirect", h.FinalRedirect)
	}
}

// Entries returns the HAR's entries, sorted ascending by StartedDateTime.
func (h *HarFile) Entries() []*har.Entry {
	if h.doc.Log == nil {
		return nil
	}
	return h.doc.Log.Entries
}

// Pages returns the HAR's page table.
func (h *HarFile) Pages() []*har.Page {
	if h.doc.Log == nil {
		return nil
	}
	return h.doc.Log.Pages
}

func (h *HarFile) extensionsFor(i int) rawEntryExtensions {
	if i < 0 || i >= len(h.extensions) {
		return rawEntryExtensions{}
	}
	return h.extensions[i]
}

// InitialStartTime is the first entry's StartedDateTime, or "-" if empty.
func (h *HarFile) InitialStartTime() string {
	if entries := h.Entries(); len(entries) > 0 {
		return entries[0].StartedDateTime
	}
	return "-"
}

// FirstURL is the first entry's request URL, or "-" if empty.
func (h *HarFile) FirstURL() string {
	if entries := h.Entries(); len(entries) > 0 {
		return entries[0].Request.URL
	}
	return "-"
}

// RootURL is the first entry's request URL.
func (h *HarFile) RootURL() string {
	if entries := h.Entries(); len(entries) > 0 {
		return entries[0].Request.URL
	}
	return ""
}

func findHeader(headers []*har.NameValuePair, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HasInitialRedirects reports whether the capture's root URL differs from
// its recorded final redirect.
func (h *HarFile) HasInitialRedirects() bool {
	if h.FinalRedirect == "" {
		return false
	}
	entries := h.Entries()
	if len(entries) == 0 {
		return false
	}
	return entries[0].Request.URL != h.FinalRedirect
}

// InitialRedirects enumerates the URLs on the redirect chain from the root
// entry to FinalRedirect. When no chain can be constructed it sets
// NeedTreeRedirects and returns only FinalRedirect, signalling "re-derive
// this from the resolved tree".
func (h *HarFile) InitialRedirects() []string {
	if !h.HasInitialRedirects() {
		return nil
	}

	entries := h.Entries()
	previous := entries[0]
	var out []string

	for _, e := range entries[1:] {
		matched := false
		if previous.Response != nil && previous.Response.RedirectURL != "" {
			// HAR's response object has no URL field of its own, so the
			// previous entry's request URL stands in as the base a redirect
			// target is rebuilt against.
			known := NewURLSet([]string{e.Request.URL})
			full := RebuildURL(h.logger, previous.Request.URL, previous.Response.RedirectURL, known)
			matched = full == e.Request.URL
		} else if ref, ok := findHeader(e.Request.Headers, "Referer"); ok && ref == previous.Request.URL {
			matched = true
		}

		if !matched {
			continue
		}

		out = append(out, e.Request.URL)
		previous = e

		if e.Request.URL == h.FinalRedirect {
			return out
		}
	}

	h.NeedTreeRedirects = true
	return []string{h.FinalRedirect}
}

// RootReferrer is the Referer header on the capture's first request, used to
// stitch this capture under a node in another one.
func (h *HarFile) RootReferrer() (string, bool) {
	entries := h.Entries()
	if len(entries) == 0 {
		return "", false
	}
	return findHeader(entries[0].Request.Headers, "Referer")
}

// PageRootFor reports the page record whose StartedDateTime matches ts, if
// any.
func (h *HarFile) PageRootFor(ts string) (*har.Page, bool) {
	p, ok := h.pagesStartTimes[ts]
	return p, ok
}
