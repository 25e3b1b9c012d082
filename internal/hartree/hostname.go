package hartree

import "strings"

// HostNode aggregates every URLNode sharing one hostname within a branch of
// the URL tree.
type HostNode struct {
	UUID     string      `json:"uuid"`
	Children []*HostNode `json:"children"`

	Name string `json:"name"`

	URLs []*URLNode `json:"-"`

	RequestCookie     int `json:"request_cookie"`
	ResponseCookie    int `json:"response_cookie"`
	JS                int `json:"js"`
	Redirect          int `json:"redirect"`
	RedirectToNothing int `json:"redirect_to_nothing"`
	Image             int `json:"image"`
	CSS               int `json:"css"`
	JSONMime          int `json:"json"`
	HTML              int `json:"html"`
	Font              int `json:"font"`
	OctetStream       int `json:"octet_stream"`
	Text              int `json:"text"`
	Video             int `json:"video"`
	Livestream        int `json:"livestream"`
	UnsetMimetype     int `json:"unset_mimetype"`
	UnknownMimetype   int `json:"unknown_mimetype"`
	Iframe            int `json:"iframe"`

	HTTPContent  bool `json:"http_content"`
	HTTPSContent bool `json:"https_content"`
	MixedContent bool `json:"mixed_content"`

	URLsCount int `json:"urls_count"`
}

// addURL folds one URLNode's counters into h.
func (h *HostNode) addURL(u *URLNode) {
	if h.UUID == "" {
		h.UUID = newUUID()
	}
	if h.Name == "" {
		h.Name = u.Hostname
	}
	h.URLs = append(h.URLs, u)
	h.URLsCount = len(h.URLs)

	h.RequestCookie += len(u.RequestCookie)
	h.ResponseCookie += len(u.ResponseCookie)
	if u.JS {
		h.JS++
	}
	if u.Redirect {
		h.Redirect++
	}
	if u.RedirectToNothing {
		h.RedirectToNothing++
	}
	if u.Image {
		h.Image++
	}
	if u.CSS {
		h.CSS++
	}
	if u.JSONMime {
		h.JSONMime++
	}
	if u.HTML {
		h.HTML++
	}
	if u.Font {
		h.Font++
	}
	if u.OctetStream {
		h.OctetStream++
	}
	if u.Text {
		h.Text++
	}
	if u.Video || u.Livestream {
		h.Video++
	}
	if u.UnknownMimetype || u.UnsetMimetype {
		h.UnknownMimetype++
	}
	if u.Iframe {
		h.Iframe++
	}

	switch {
	case strings.HasPrefix(u.Name, "http://"):
		h.HTTPContent = true
	case strings.HasPrefix(u.Name, "https://"):
		h.HTTPSContent = true
	}
	if h.HTTPContent && h.HTTPSContent {
		h.MixedContent = true
	}
}

// makeHostnameTree groups each of rootNodesURL's children by hostname into
// HostNodes under rootNodeHostname, then recurses into every non-leaf child.
// A child whose hostname equals rootNodeHostname's own name is folded into
// rootNodeHostname itself rather than into a new child HostNode.
// rootNodesURL may legitimately contain several URLNodes sharing one
// hostname (sibling URL nodes folded into the same HostNode).
func (t *Har2Tree) makeHostnameTree(rootNodesURL []*URLNode, rootNodeHostname *HostNode) {
	for _, rootNodeURL := range rootNodesURL {
		childrenHostnames := make(map[string]*HostNode)
		subRoots := make(map[*HostNode][]*URLNode)
		var subRootsOrder []*HostNode

		for _, childNodeURL := range rootNodeURL.Children {
			if childNodeURL.Hostname == "" {
				t.Logger.Warn("broken URL, no hostname", "url", childNodeURL.Name)
				continue
			}

			childNodeHostname, ok := childrenHostnames[childNodeURL.Hostname]
			if !ok && childNodeURL.Hostname == rootNodeHostname.Name {
				childNodeHostname, ok = rootNodeHostname, true
			}
			if !ok {
				childNodeHostname = &HostNode{UUID: newUUID(), Name: childNodeURL.Hostname}
				rootNodeHostname.Children = append(rootNodeHostname.Children, childNodeHostname)
				childrenHostnames[childNodeURL.Hostname] = childNodeHostname
			}
			childNodeHostname.addURL(childNodeURL)

			if len(childNodeURL.Children) > 0 {
				if _, seen := subRoots[childNodeHostname]; !seen {
					subRootsOrder = append(subRootsOrder, childNodeHostname)
				}
				subRoots[childNodeHostname] = append(subRoots[childNodeHostname], childNodeURL)
			}
		}

		for _, childNodeHostname := range subRootsOrder {
			t.makeHostnameTree(subRoots[childNodeHostname], childNodeHostname)
		}
	}
}
