package paths

import (
	"sort"
	"strings"
)

// Rule maps a hashtag prefix to the canonical expression prefix it stands for.
type Rule struct {
	Hashtag   string   // "#case"
	Canonical string   // "instance('casedb')/casedb/case[...]"
	Instances []string // data sources the canonical form requires
}

// TreeRooted reports whether the canonical form is an absolute node path,
// which makes references through the hashtag subject to tree rewrites.
func (r Rule) TreeRooted() bool {
	return strings.HasPrefix(r.Canonical, "/")
}

const (
	caseDB      = "instance('casedb')/casedb/case"
	sessionData = "instance('commcaresession')/session"
)

// DefaultRules are the case and user namespaces. The #form rule is derived
// from the document root by NewAliaser.
func DefaultRules() []Rule {
	return []Rule{
		{
			Hashtag:   "#case",
			Canonical: caseDB + "[@case_id = " + sessionData + "/data/case_id]",
			Instances: []string{"casedb", "commcaresession"},
		},
		{
			Hashtag:   "#user",
			Canonical: caseDB + "[@case_type = 'commcare-user'][hq_user_id = " + sessionData + "/context/userid]",
			Instances: []string{"casedb", "commcaresession"},
		},
	}
}

// Aliaser converts between absolute paths and their hashtag form. It is
// immutable once built.
type Aliaser struct {
	root  string
	rules []Rule // longest canonical first
	byTag map[string]Rule
}

// NewAliaser builds an aliaser for a document whose root node is named root.
// Rules with the hashtag #form are ignored; #form always maps to /root.
func NewAliaser(root string, rules ...Rule) *Aliaser {
	a := &Aliaser{root: root, byTag: make(map[string]Rule)}
	a.add(Rule{Hashtag: "#form", Canonical: "/" + root})
	for _, r := range rules {
		if r.Hashtag == "#form" || r.Hashtag == "" || r.Canonical == "" {
			continue
		}
		a.add(r)
	}
	sort.SliceStable(a.rules, func(i, j int) bool {
		return len(a.rules[i].Canonical) > len(a.rules[j].Canonical)
	})
	return a
}

func (a *Aliaser) add(r Rule) {
	if _, dup := a.byTag[r.Hashtag]; dup {
		for i := range a.rules {
			if a.rules[i].Hashtag == r.Hashtag {
				a.rules[i] = r
			}
		}
	} else {
		a.rules = append(a.rules, r)
	}
	a.byTag[r.Hashtag] = r
}

// Root returns the canonical root path, e.g. "/data".
func (a *Aliaser) Root() string { return "/" + a.root }

// Rule looks up the rule for a hashtag such as "#case".
func (a *Aliaser) Rule(hashtag string) (Rule, bool) {
	r, ok := a.byTag[hashtag]
	return r, ok
}

// Rules returns the configured rules, longest canonical first.
func (a *Aliaser) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

// Alias abbreviates the longest matching canonical prefix of p. Unknown
// prefixes pass through unchanged.
func (a *Aliaser) Alias(p string) string {
	for _, r := range a.rules {
		if rest, ok := cutBoundary(p, r.Canonical); ok {
			return r.Hashtag + rest
		}
	}
	return p
}

// Unalias expands a leading hashtag. Unknown hashtags pass through.
func (a *Aliaser) Unalias(s string) string {
	if !strings.HasPrefix(s, "#") {
		return s
	}
	tag := s
	if i := strings.IndexByte(s, '/'); i >= 0 {
		tag = s[:i]
	}
	r, ok := a.byTag[tag]
	if !ok {
		return s
	}
	return r.Canonical + s[len(tag):]
}

// cutBoundary strips prefix from s when it ends at a segment boundary and
// returns the remainder including its leading slash.
func cutBoundary(s, prefix string) (string, bool) {
	if s == prefix {
		return "", true
	}
	if strings.HasPrefix(s, prefix+"/") {
		return s[len(prefix):], true
	}
	return "", false
}
