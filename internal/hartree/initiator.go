package hartree

import "encoding/json"

// rawInitiator mirrors Chromium DevTools Protocol's network.Initiator, a
// request-initiator extension `_initiator` is not part of the HAR 1.2 JSON
// schema and so is not modeled by github.com/chromedp/cdproto/har — it is
// decoded here, in a second narrow pass over the raw entry bytes, rather than
// grafted onto that package's Entry type by embedding (which would silently
// shadow the field if a future cdproto release ever adds one itself).
type rawInitiator struct {
	Type  string           `json:"type"`
	URL   string           `json:"url"`
	Stack *rawInitiatorStack `json:"stack"`
}

type rawInitiatorStack struct {
	CallFrames []rawCallFrame     `json:"callFrames"`
	Parent     *rawInitiatorStack `json:"parent"`
}

type rawCallFrame struct {
	URL string `json:"url"`
}

// rawEntryExtensions captures the two Chromium-only fields a HAR entry may
// carry that cdproto/har's Entry does not model.
type rawEntryExtensions struct {
	Initiator       *rawInitiator `json:"_initiator"`
	ServerIPAddress string        `json:"serverIPAddress"`
}

// decodeEntryExtensions parses `log.entries[].{_initiator,serverIPAddress}`
// for every entry, aligned by index with the already-decoded []*har.Entry.
func decodeEntryExtensions(raw []byte) ([]rawEntryExtensions, error) {
	var doc struct {
		Log struct {
			Entries []rawEntryExtensions `json:"entries"`
		} `json:"log"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Log.Entries, nil
}

// findInitiatorURL descends a (possibly nested) call stack, returning the
// first frame URL found.
func findInitiatorURL(stack *rawInitiatorStack) (string, bool) {
	if stack == nil {
		return "", false
	}
	if len(stack.CallFrames) > 0 {
		return unquotePlus(stack.CallFrames[0].URL), true
	}
	if stack.Parent != nil {
		return findInitiatorURL(stack.Parent)
	}
	return "", false
}
