package hartree

import (
	"encoding/json"
	"time"
)

// ToJSON renders n honoring the field-skip set baked into its struct tags:
// body, url_split, start_time, time, time_content_received and ip_address
// are never emitted.
func (n *URLNode) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// ToJSON renders h, including the derived urls_count field and the eagerly
// maintained mixed_content flag; urls itself is never emitted (json:"-").
func (h *HostNode) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// ToJSON renders the combined capture's hostname tree — the same shape a
// lone capture's HostnameTree would produce, delegating to the root
// capture's hostname tree.
func (ct *CrawledTree) ToJSON() ([]byte, error) {
	return ct.Root.HostnameTree.ToJSON()
}

// RootURL is the combined tree's entry point: the root capture's first
// request URL.
func (ct *CrawledTree) RootURL() string {
	return ct.Root.Har.RootURL()
}

// StartTime is the root capture's root node start time.
func (ct *CrawledTree) StartTime() time.Time {
	return ct.Root.URLTree.StartTime
}

// UserAgent is the root capture's root node user agent.
func (ct *CrawledTree) UserAgent() string {
	return ct.Root.URLTree.UserAgent
}

// ToMap round-trips v through JSON into a generic map, for tests asserting
// on the emitted shape without hand-maintaining a parallel struct.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
