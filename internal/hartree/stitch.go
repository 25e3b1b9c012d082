package hartree

import (
	"errors"
	"log/slog"
)

// CrawledTree joins every capture passed to BuildFromFiles into one combined
// URL tree plus the hostname tree folded from it.
type CrawledTree struct {
	Logger *slog.Logger
	Trees  []*Har2Tree
	Root   *Har2Tree

	referers map[string][]*Har2Tree
}

// BuildFromFiles loads and resolves every HAR in paths, then stitches them
// together by matching each sub-capture's root referer to the root URL (or,
// after an initial redirect, the final redirect URL) of a capture already in
// the combined tree; the sub-capture is attached under that capture's root
// node. Referers pointing at any other node URL are not matched. The first
// file with entries becomes the combined tree's
// root; files with zero entries are skipped. Returns ErrNoUsableCaptures if
// every file is empty.
func BuildFromFiles(paths []string, logger *slog.Logger) (*CrawledTree, error) {
	if logger == nil {
		logger = NewCaptureLogger("")
	}

	var trees []*Har2Tree
	for _, path := range paths {
		hf, err := LoadHarFile(path, logger)
		if err != nil {
			return nil, err
		}
		tree, err := BuildTree(hf, logger)
		if err != nil {
			if errors.Is(err, ErrEmptyCapture) {
				continue
			}
			return nil, err
		}
		trees = append(trees, tree)
	}
	if len(trees) == 0 {
		return nil, ErrNoUsableCaptures
	}

	ct := &CrawledTree{
		Logger: logger,
		Trees:  trees,
		Root:   trees[0],
	}
	ct.findParents()
	ct.joinTrees(ct.Root, nil)
	ct.rebuildHostnameTree()
	return ct, nil
}

// findParents indexes every non-root capture by the Referer header on its
// first request, so joinTrees can find sub-captures to attach under a node.
func (ct *CrawledTree) findParents() {
	ct.referers = make(map[string][]*Har2Tree)
	for _, t := range ct.Trees[1:] {
		if t.RootReferer != "" {
			ct.referers[t.RootReferer] = append(ct.referers[t.RootReferer], t)
		}
	}
}

// joinTrees recursively attaches every capture referring to root's effective
// root URL, deep-copying each sub-capture's URL tree before linking it under
// parent (root.URLTree on the initial call). The hostname tree is rebuilt
// exactly once, after the whole join finishes (see rebuildHostnameTree),
// rather than once per stitch level.
func (ct *CrawledTree) joinTrees(root *Har2Tree, parent *URLNode) {
	if parent == nil {
		parent = root.URLTree
	}

	key, ok := root.RootAfterRedirect()
	if !ok {
		key = root.Har.RootURL()
	}
	subTrees := ct.referers[key]
	delete(ct.referers, key)
	if len(subTrees) == 0 {
		return
	}

	for _, sub := range subTrees {
		copied := deepCopyURLNode(sub.URLTree)
		parent.Children = append(parent.Children, copied)
		ct.joinTrees(sub, copied)
	}
}

// rebuildHostnameTree folds the root capture's (now combined) URL tree into
// a fresh hostname tree, discarding the single-capture one BuildTree built.
func (ct *CrawledTree) rebuildHostnameTree() {
	root := &HostNode{}
	root.addURL(ct.Root.URLTree)
	ct.Root.makeHostnameTree([]*URLNode{ct.Root.URLTree}, root)
	ct.Root.HostnameTree = root
}

// deepCopyURLNode recursively copies n and its children, minting a fresh
// UUID at every level so a stitched sub-tree never shares identity with the
// standalone capture it came from. Maps and slices referenced by value
// (CookiesSent, ExternalResources, Body) are aliased rather than copied:
// nothing mutates them after the resolver finishes, so aliasing is safe and
// avoids a reflection-based generic deep copy.
func deepCopyURLNode(n *URLNode) *URLNode {
	if n == nil {
		return nil
	}
	cp := *n
	cp.UUID = newUUID()
	cp.Children = make([]*URLNode, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = deepCopyURLNode(c)
	}
	return &cp
}

// Redirects returns the ordered list of URLs from the combined tree's root
// to the node whose name equals the root capture's final redirect, oldest
// first. Empty if the root capture had no initial redirect or the node
// cannot be found.
func (ct *CrawledTree) Redirects() []string {
	target, ok := ct.Root.RootAfterRedirect()
	if !ok {
		return nil
	}
	node := findNodeByName(ct.Root.URLTree, target)
	if node == nil {
		ct.Logger.Warn("unable to find redirect target node", "url", target)
		return nil
	}

	var chain []string
	for n := node; n != nil; n = findParentOf(ct.Root.URLTree, n) {
		chain = append([]string{n.Name}, chain...)
	}
	return chain
}

func findNodeByName(n *URLNode, name string) *URLNode {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := findNodeByName(c, name); found != nil {
			return found
		}
	}
	return nil
}

// findParentOf walks from root to locate target's parent. The tree has no
// back-pointers (kept minimal per the node's fixed field set), so ancestor
// walks search from the root on demand; this is only used for the rarely
// called Redirects() accessor, not on any hot path.
func findParentOf(root, target *URLNode) *URLNode {
	for _, c := range root.Children {
		if c == target {
			return root
		}
		if found := findParentOf(c, target); found != nil {
			return found
		}
	}
	return nil
}
