package hartree

import (
	"errors"
	"fmt"
	"log/slog"
)

// cookieReceipt records one response cookie as seen globally across a
// capture, used by the cross-attribution pass below.
type cookieReceipt struct {
	domain     string
	node       *URLNode
	thirdParty bool
}

// Har2Tree resolves one HAR capture's entries into a URL tree plus the
// hostname tree folded from it.
type Har2Tree struct {
	Logger *slog.Logger
	Har    *HarFile

	URLTree      *URLNode
	HostnameTree *HostNode

	nodesByUUID map[string]*URLNode
	nodesList   []*URLNode

	allURLRequests  map[string][]*URLNode
	pagesRoot       map[string]string
	allRedirects    []string
	allReferer      map[string][]string
	allInitiatorURL map[string][]string

	cookiesReceived       map[string][]cookieReceipt
	locallyCreated        map[string]JarCookie
	locallyCreatedNotSent map[string]JarCookie

	RootReferer string
}

// BuildTree loads every entry in hf, runs the attachment passes, and folds
// the result into a hostname tree. Returns ErrEmptyCapture when hf has no
// entries — a condition the multi-capture stitcher treats as "skip this
// file", not a fatal error.
func BuildTree(hf *HarFile, logger *slog.Logger) (*Har2Tree, error) {
	if logger == nil {
		logger = NewCaptureLogger("")
	}
	entries := hf.Entries()
	if len(entries) == 0 {
		return nil, ErrEmptyCapture
	}

	known := make(URLSet, len(entries))
	allURLRequests := make(map[string][]*URLNode, len(entries))
	for _, e := range entries {
		name := unquotePlus(e.Request.URL)
		known[name] = struct{}{}
		if _, ok := allURLRequests[name]; !ok {
			allURLRequests[name] = nil
		}
	}

	t := &Har2Tree{
		Logger:          logger,
		Har:             hf,
		nodesByUUID:     make(map[string]*URLNode, len(entries)),
		allURLRequests:  allURLRequests,
		pagesRoot:       make(map[string]string),
		allReferer:      make(map[string][]string),
		allInitiatorURL: make(map[string][]string),
	}

	nodes := make([]*URLNode, 0, len(entries))
	for i, e := range entries {
		n := newURLNode()
		ext := hf.extensionsFor(i)
		if err := n.loadEntry(logger, e, ext, known); err != nil {
			var initErr *InitiatorError
			if errors.As(err, &initErr) {
				logger.Warn("unsupported initiator type, dropping initiator edge for this entry",
					"url", initErr.URL, "pageref", initErr.Pageref, "type", initErr.Type)
			} else {
				return nil, err
			}
		}

		if n.Redirect {
			t.allRedirects = append(t.allRedirects, n.RedirectURL)
		}
		if n.InitiatorURL != "" {
			t.allInitiatorURL[n.InitiatorURL] = append(t.allInitiatorURL[n.InitiatorURL], n.Name)
		}
		if p, ok := hf.PageRootFor(e.StartedDateTime); ok && p.ID == n.Pageref {
			t.pagesRoot[n.Pageref] = n.UUID
		}
		if n.Referer != "" {
			if n.Referer == n.Name {
				logger.Warn("referer to itself", "url", n.Name)
			} else {
				t.allReferer[n.Referer] = append(t.allReferer[n.Referer], n.Name)
			}
		}

		nodes = append(nodes, n)
		t.nodesByUUID[n.UUID] = n
		allURLRequests[n.Name] = append(allURLRequests[n.Name], n)
	}

	t.loadCookieCrossReferences(nodes, hf)
	t.propagateResourceContext(nodes)

	t.URLTree = nodes[0]
	t.nodesList = nodes[1:]
	t.RootReferer, _ = hf.RootReferrer()

	if err := t.makeTree(); err != nil {
		return nil, err
	}
	return t, nil
}

// loadCookieCrossReferences builds the global cookie-received index, then
// attributes every sent cookie back to the node(s) that plausibly set it.
func (t *Har2Tree) loadCookieCrossReferences(nodes []*URLNode, hf *HarFile) {
	t.cookiesReceived = make(map[string][]cookieReceipt)
	for _, n := range nodes {
		for _, c := range n.CookiesReceived {
			t.cookiesReceived[c.Cookie] = append(t.cookiesReceived[c.Cookie], cookieReceipt{
				domain:     c.Domain,
				node:       n,
				thirdParty: c.ThirdParty,
			})
		}
	}

	initialCookies := map[string]struct{}{}
	if len(nodes) > 0 {
		for key := range nodes[0].CookiesSent {
			initialCookies[key] = struct{}{}
		}
	}

	t.locallyCreated = make(map[string]JarCookie)
	for _, c := range hf.Cookies {
		id := fmt.Sprintf("%s=%s", c.Name, c.Value)
		if _, received := t.cookiesReceived[id]; received {
			continue
		}
		if _, initial := initialCookies[id]; initial {
			continue
		}
		t.locallyCreated[id] = c
	}
	t.locallyCreatedNotSent = make(map[string]JarCookie, len(t.locallyCreated))
	for k, v := range t.locallyCreated {
		t.locallyCreatedNotSent[k] = v
	}

	for _, n := range nodes {
		if n.CookiesSent == nil {
			continue
		}
		for key := range n.CookiesSent {
			delete(t.locallyCreatedNotSent, key)
			for _, receipt := range t.cookiesReceived[key] {
				if !hasSuffixFold(n.Hostname, receipt.domain) {
					continue
				}
				n.CookiesSent[key] = append(n.CookiesSent[key], CookieSetter{
					Hostname:   receipt.node.Hostname,
					UUID:       receipt.node.UUID,
					Name:       receipt.node.Name,
					ThirdParty: receipt.thirdParty,
				})
			}
		}
	}

	if len(t.locallyCreatedNotSent) > 0 {
		t.Logger.Info("cookies locally created and never sent", "count", len(t.locallyCreatedNotSent))
	}
}

func hasSuffixFold(hostname, domain string) bool {
	if len(domain) > len(hostname) {
		return false
	}
	return hostname[len(hostname)-len(domain):] == domain
}

// propagateResourceContext tags every node reachable through another node's
// external_ressources with the matching context flag — runs once, before
// attachment, over every node.
func (t *Har2Tree) propagateResourceContext(nodes []*URLNode) {
	for _, n := range nodes {
		if n.ExternalResources == nil {
			continue
		}
		for category, urls := range n.ExternalResources {
			for _, u := range urls {
				for _, target := range t.allURLRequests[u] {
					switch category {
					case "img":
						target.Image = true
					case "script":
						target.JS = true
					case "video":
						target.Video = true
					case "audio":
						target.Audio = true
					case "iframe":
						target.Iframe = true
					case "embed", "source", "object":
						target.OctetStream = true
					case "link":
						target.CSS = true
					}
				}
			}
		}
	}
}

// makeTree runs the attachment precedence over every node in nodesList,
// drains whatever remains via the page-root fallback, then folds the result
// into the hostname tree. A node that cannot be placed even by the fallback
// (malformed page table) is dropped with a warning rather than failing the
// whole capture.
func (t *Har2Tree) makeTree() error {
	t.attach(t.URLTree, nil)

	for len(t.nodesList) > 0 {
		n := t.nodesList[0]
		t.nodesList = t.nodesList[1:]

		rootUUID, ok := t.pagesRoot[n.Pageref]
		if ok && rootUUID != n.UUID {
			root, ok := t.nodesByUUID[rootUUID]
			if !ok {
				t.Logger.Warn("page root not found, dropping orphan node", "uuid", rootUUID, "pageref", n.Pageref, "url", n.Name)
				continue
			}
			t.attach(root, []*URLNode{n})
			continue
		}

		priorPageID, ok := t.priorPageID(n.Pageref)
		if !ok {
			t.Logger.Warn("no page precedes this pageref, dropping orphan node", "pageref", n.Pageref, "url", n.Name)
			continue
		}
		priorRootUUID, ok := t.pagesRoot[priorPageID]
		if !ok {
			t.Logger.Warn("no page root recorded for prior page, dropping orphan node", "pageref", priorPageID, "url", n.Name)
			continue
		}
		root, ok := t.nodesByUUID[priorRootUUID]
		if !ok {
			t.Logger.Warn("page root not found, dropping orphan node", "uuid", priorRootUUID, "url", n.Name)
			continue
		}
		t.attach(root, []*URLNode{n})
	}

	t.HostnameTree = &HostNode{}
	t.HostnameTree.addURL(t.URLTree)
	t.makeHostnameTree([]*URLNode{t.URLTree}, t.HostnameTree)
	return nil
}

// priorPageID finds the page immediately preceding pageref in the HAR's page
// table order, for attaching an orphaned page-root node under it.
func (t *Har2Tree) priorPageID(pageref string) (string, bool) {
	pages := t.Har.Pages()
	if len(pages) == 0 || pages[0].ID == pageref {
		return "", false
	}
	before := pages[0].ID
	for _, p := range pages[1:] {
		if p.ID == pageref {
			break
		}
		before = p.ID
	}
	return before, true
}

// attach runs the five-edge-kind attachment precedence under root. When
// pending is nil, root IS the node being examined (the initial call on the
// tree root); otherwise each node in pending is first linked as a child of
// root, then examined in turn.
func (t *Har2Tree) attach(root *URLNode, pending []*URLNode) {
	var targets []*URLNode
	if pending == nil {
		targets = []*URLNode{root}
	} else {
		targets = make([]*URLNode, 0, len(pending))
		for _, n := range pending {
			root.Children = append(root.Children, n)
			targets = append(targets, n)
		}
	}

	for _, unode := range targets {
		if unode.Redirect && !unode.RedirectToNothing {
			t.attachRedirect(unode)
			continue
		}
		t.attachInitiator(unode)
		t.attachReferer(unode, unode.Name)
		t.attachReferer(unode, unode.AlternativeURLForReferer)
		t.attachExternalResources(unode)
	}
}

func (t *Har2Tree) attachRedirect(unode *URLNode) {
	idx := -1
	for i, u := range t.allRedirects {
		if u == unode.RedirectURL {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	t.allRedirects = append(t.allRedirects[:idx], t.allRedirects[idx+1:]...)

	matching := t.takePending(unode.RedirectURL)
	t.attach(unode, matching)
}

func (t *Har2Tree) attachInitiator(unode *URLNode) {
	urls := t.allInitiatorURL[unode.Name]
	for _, u := range urls {
		matching := t.takeMatching(u, func(n *URLNode) bool { return n.InitiatorURL == unode.Name })
		t.attach(unode, matching)
	}
	if len(t.allInitiatorURL[unode.Name]) == 0 {
		delete(t.allInitiatorURL, unode.Name)
	}
}

func (t *Har2Tree) attachReferer(unode *URLNode, key string) {
	urls, ok := t.allReferer[key]
	if !ok {
		return
	}
	for _, u := range urls {
		matching := t.takeMatching(u, func(n *URLNode) bool { return n.Referer == key })
		t.attach(unode, matching)
	}
	if len(t.allReferer[key]) == 0 {
		delete(t.allReferer, key)
	}
}

func (t *Har2Tree) attachExternalResources(unode *URLNode) {
	if unode.ExternalResources == nil {
		return
	}
	for _, links := range unode.ExternalResources {
		for _, link := range links {
			if _, ok := t.allURLRequests[link]; !ok {
				continue
			}
			matching := t.takePending(link)
			t.attach(unode, matching)
		}
	}
}

// takePending removes and returns every node for url still present in
// nodesList, regardless of any other criterion.
func (t *Har2Tree) takePending(url string) []*URLNode {
	return t.takeMatching(url, func(*URLNode) bool { return true })
}

// takeMatching removes and returns every node for url still present in
// nodesList for which pred holds.
func (t *Har2Tree) takeMatching(url string, pred func(*URLNode) bool) []*URLNode {
	candidates := t.allURLRequests[url]
	if len(candidates) == 0 {
		return nil
	}

	pending := make(map[*URLNode]struct{}, len(t.nodesList))
	for _, n := range t.nodesList {
		pending[n] = struct{}{}
	}

	var matched []*URLNode
	for _, c := range candidates {
		if _, isPending := pending[c]; isPending && pred(c) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	matchedSet := make(map[*URLNode]struct{}, len(matched))
	for _, m := range matched {
		matchedSet[m] = struct{}{}
	}
	filtered := t.nodesList[:0:0]
	for _, n := range t.nodesList {
		if _, remove := matchedSet[n]; !remove {
			filtered = append(filtered, n)
		}
	}
	t.nodesList = filtered

	return matched
}

// RootAfterRedirect is the capture's final-redirect URL when the capture's
// first request was itself redirected, for use as the stitch-point lookup
// key when attaching this capture under another.
func (t *Har2Tree) RootAfterRedirect() (string, bool) {
	if t.Har.HasInitialRedirects() {
		return t.Har.FinalRedirect, true
	}
	return "", false
}
