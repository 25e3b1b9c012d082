package capture

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
)

// entryExtension holds the Chromium-only fields a HAR entry carries that
// cdproto/har's Entry does not model — the counterpart, on the write side, of
// hartree's rawEntryExtensions decode. Kept out of har.Entry itself rather
// than grafted on by embedding, for the same reason hartree decodes them
// separately: a future cdproto release adding these fields itself would
// silently shadow a grafted one.
type entryExtension struct {
	initiator       *network.Initiator
	serverIPAddress string
}

// assembleHARWithExtensions constructs a har.HAR from a slice of completed
// entries and a page map (keyed by page ref string). The returned extensions
// slice is aligned by index with h.Log.Entries; MarshalHAR folds both back
// into one document.
func assembleHARWithExtensions(pages []har.Page, entries []completedEntry, browserVersion string) (har.HAR, []entryExtension) {
	h := har.HAR{
		Log: &har.Log{
			Version: "1.2",
			Browser: &har.Creator{
				Name:    "Google Chrome",
				Version: browserVersion,
			},
			Creator: &har.Creator{
				Name:    "har-capture",
				Version: "0.1.0",
			},
			Pages:   make([]*har.Page, 0, len(pages)),
			Entries: make([]*har.Entry, 0, len(entries)),
		},
	}

	for i := range pages {
		p := pages[i]
		h.Log.Pages = append(h.Log.Pages, &p)
	}

	exts := make([]entryExtension, 0, len(entries))
	for _, e := range entries {
		entry, ext := buildEntry(e)
		h.Log.Entries = append(h.Log.Entries, &entry)
		exts = append(exts, ext)
	}

	return h, exts
}

func buildEntry(e completedEntry) (har.Entry, entryExtension) {
	req := e.request
	resp := e.response

	content := &har.Content{
		MimeType: resp.Response.MimeType,
	}
	if e.body != "" {
		content.Text = e.body
		content.Size = int64(len(e.body))
		if e.bodyBase64 {
			content.Encoding = "base64"
		}
	}

	entry := har.Entry{
		Pageref:         req.pageRef,
		StartedDateTime: req.wallTime.Format(time.RFC3339Nano),
		Request: &har.Request{
			Method:      req.method,
			URL:         req.url,
			HTTPVersion: resp.Response.Protocol,
			Headers:     headersToHAR(req.headers),
			QueryString: []*har.NameValuePair{},
			Cookies:     []*har.Cookie{},
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: &har.Response{
			Status:      int64(resp.Response.Status),
			StatusText:  resp.Response.StatusText,
			HTTPVersion: resp.Response.Protocol,
			Headers:     headersToHAR(resp.Response.Headers),
			Cookies:     []*har.Cookie{},
			Content:     content,
			RedirectURL: redirectURL(resp.Response.Headers),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: buildTimings(resp.Response.Timing),
	}

	// Total time is the sum of all non-negative timings.
	entry.Time = totalTime(entry.Timings)

	ext := entryExtension{
		initiator:       req.initiator,
		serverIPAddress: resp.Response.RemoteIPAddress,
	}

	return entry, ext
}

// MarshalHAR renders h as HAR 1.2 JSON, then injects each entry's
// `_initiator` and `serverIPAddress` — the two Chromium extensions hartree's
// HarFile looks for that are outside the official schema and so have no home
// on har.Entry itself. exts must be aligned by index with h.Log.Entries.
func MarshalHAR(h har.HAR, exts []entryExtension) ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("capture: marshal HAR: %w", err)
	}
	if len(exts) == 0 {
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("capture: re-decode HAR for extension injection: %w", err)
	}

	log, _ := doc["log"].(map[string]any)
	entries, _ := log["entries"].([]any)
	for i, e := range entries {
		if i >= len(exts) {
			break
		}
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if ext := exts[i]; ext.initiator != nil {
			entry["_initiator"] = initiatorToRaw(ext.initiator)
		}
		if ext := exts[i]; ext.serverIPAddress != "" {
			entry["serverIPAddress"] = ext.serverIPAddress
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("capture: re-encode HAR with extensions: %w", err)
	}
	return out, nil
}

// initiatorToRaw renders a CDP Initiator in the shape hartree's rawInitiator
// expects: {"type", "url", "stack": {"callFrames": [{"url"}, ...]}}.
func initiatorToRaw(init *network.Initiator) map[string]any {
	out := map[string]any{"type": string(init.Type)}
	if init.URL != "" {
		out["url"] = init.URL
	}
	if init.Stack != nil {
		out["stack"] = stackToRaw(init.Stack)
	}
	return out
}

func stackToRaw(stack *runtime.StackTrace) map[string]any {
	frames := make([]map[string]any, 0, len(stack.CallFrames))
	for _, f := range stack.CallFrames {
		frames = append(frames, map[string]any{"url": f.URL})
	}
	out := map[string]any{"callFrames": frames}
	if stack.Parent != nil {
		out["parent"] = stackToRaw(stack.Parent)
	}
	return out
}

func buildTimings(t *network.ResourceTiming) *har.Timings {
	if t == nil {
		return &har.Timings{Send: -1, Wait: -1, Receive: -1}
	}

	// Chrome's ResourceTiming values are in milliseconds relative to
	// requestTime. A value of -1 means the phase did not occur.
	dns := phaseOrBlocked(t.DNSStart, t.DNSEnd)
	connect := phaseOrBlocked(t.ConnectStart, t.ConnectEnd)
	ssl := phaseOrBlocked(t.SslStart, t.SslEnd)
	send := phaseOrBlocked(t.SendStart, t.SendEnd)

	// Wait = from send end to first byte received (receiveHeadersEnd).
	wait := float64(-1)
	if t.SendEnd >= 0 && t.ReceiveHeadersEnd >= 0 {
		wait = t.ReceiveHeadersEnd - t.SendEnd
	}

	return &har.Timings{
		Blocked: -1,
		DNS:     dns,
		Connect: connect,
		Ssl:     ssl,
		Send:    send,
		Wait:    wait,
		Receive: -1, // Requires body download tracking; not available here.
	}
}

func phaseOrBlocked(start, end float64) float64 {
	if start < 0 || end < 0 {
		return -1
	}
	return end - start
}

func totalTime(t *har.Timings) float64 {
	total := float64(0)
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			total += v
		}
	}
	return total
}

func redirectURL(headers network.Headers) string {
	for k, v := range map[string]any(headers) {
		if k == "Location" || k == "location" {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func headersToHAR(headers network.Headers) []*har.NameValuePair {
	pairs := make([]*har.NameValuePair, 0, len(headers))
	for name, values := range map[string]any(headers) {
		if arr, ok := values.([]string); ok {
			for _, value := range arr {
				pairs = append(pairs, &har.NameValuePair{Name: name, Value: value})
			}
		} else {
			pairs = append(pairs, &har.NameValuePair{Name: name, Value: fmt.Sprint(values)})
		}
	}
	return pairs
}
