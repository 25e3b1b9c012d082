package hartree

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// resourceCategories lists every key FindExternalResources always populates,
// even when empty — downstream code (the resolver's external-resource
// attachment and context-propagation passes) range over specific keys by
// name, so an absent key and an empty slice must mean the same thing.
var resourceCategories = []string{
	"img", "script", "video", "audio", "iframe", "embed", "source",
	"link", "object", "css", "javascript", "meta_refresh", "full_regex",
}

// tagAttrs maps an HTML tag (lower-case) to the attributes on it that may
// carry a URL.
var tagAttrs = map[string][]string{
	"img":    {"src", "srcset", "longdesc"},
	"script": {"src"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"iframe": {"src"},
	"embed":  {"src"},
	"source": {"src", "srcset"},
	"link":   {"href"},
	"object": {"data"},
}

var (
	cssURLRe        = regexp.MustCompile(`url\((.*?)\)`)
	jsLocationRe    = regexp.MustCompile(`(?:window|self|top)\.location[^"]*"(.*?)"`)
	fullTextURLRe   = regexp.MustCompile(`(?:https?:)?//(?:[A-Za-z0-9]|[$\-_@.&+]|[!*(),]|%[0-9a-fA-F]{2})+`)
)

// FindExternalResources walks an HTML body for every URL-bearing location it
// knows how to recognize: tag attributes, CSS url(...), inline-JS location
// writes, a meta refresh, and (advisory, many false positives by design) a
// full-text regex.
// Every returned URL has already been passed through RebuildURL and is
// guaranteed to start with "http".
func FindExternalResources(logger *slog.Logger, body []byte, baseURL string, known URLSet, fullTextSearch bool) map[string][]string {
	raw := make(map[string][]string, len(resourceCategories))
	for _, c := range resourceCategories {
		raw[c] = nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err == nil {
		walkNode(doc, raw)
	}

	raw["css"] = decodeMatches(cssURLRe.FindAllSubmatch(body, -1))
	raw["javascript"] = decodeMatches(jsLocationRe.FindAllSubmatch(body, -1))

	if fullTextSearch {
		raw["full_regex"] = decodeMatches(fullTextURLRe.FindAllSubmatch(body, -1))
	}

	return cleanupURLs(logger, raw, baseURL, known)
}

func decodeMatches(matches [][][]byte) []string {
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 2 {
			out = append(out, string(m[0]))
			continue
		}
		out = append(out, string(m[1]))
	}
	return out
}

// walkNode recurses over the parsed document tree, collecting the
// tag/attribute pairs from tagAttrs plus the one meta-refresh special case.
func walkNode(n *html.Node, out map[string][]string) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		if attrs, ok := tagAttrs[tag]; ok {
			for _, name := range attrs {
				if v, ok := attrVal(n, name); ok && v != "" {
					out[tag] = append(out[tag], v)
				}
			}
		}
		if tag == "meta" && strings.EqualFold(attrValOr(n, "http-equiv", ""), "refresh") {
			if content, ok := attrVal(n, "content"); ok {
				if _, after, found := strings.Cut(content, "="); found {
					out["meta_refresh"] = append(out["meta_refresh"], after)
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNode(c, out)
	}
}

func attrVal(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func attrValOr(n *html.Node, name, fallback string) string {
	if v, ok := attrVal(n, name); ok {
		return v
	}
	return fallback
}

// cleanupURLs applies the same cleanup rule to every raw candidate: skip
// data: URLs, strip quoting, rebuild against base, and keep only results
// that start with "http".
func cleanupURLs(logger *slog.Logger, raw map[string][]string, baseURL string, known URLSet) map[string][]string {
	out := make(map[string][]string, len(raw))
	for key, urls := range raw {
		cleaned := make([]string, 0, len(urls))
		for _, u := range urls {
			if strings.HasPrefix(u, "data:") {
				continue
			}
			candidate := strings.TrimSpace(u)
			if strings.HasPrefix(candidate, `\'`) || strings.HasPrefix(candidate, `\"`) {
				candidate = candidate[2 : len(candidate)-2]
			}
			if strings.HasPrefix(candidate, "'") || strings.HasPrefix(candidate, `"`) {
				candidate = candidate[1:]
			}
			if strings.HasSuffix(candidate, "'") || strings.HasSuffix(candidate, `"`) {
				candidate = candidate[:len(candidate)-1]
			}
			rebuilt := RebuildURL(logger, baseURL, candidate, known)
			if strings.HasPrefix(rebuilt, "http") {
				cleaned = append(cleaned, rebuilt)
			} else {
				logger.Debug("not a URL", "key", key, "candidate", rebuilt)
			}
		}
		out[key] = cleaned
	}
	return out
}
