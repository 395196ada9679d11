// Package datasource keeps the external data source declarations of a
// document in step with the instance('id') references its expressions make.
package datasource

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/agentic-research/formgraph/internal/refindex"
	"github.com/golang/glog"
)

// Source is one declared data source.
type Source struct {
	ID   string
	URI  string
	Refs int // distinct locations referencing ID
}

// Usage is one location requiring data source ID. URI is the location's own
// hint for where the source lives, or "" to take the registry's view.
// Implied usages come from a hashtag rather than literal text and cannot be
// rewritten, so their id is never changed.
type Usage struct {
	ID       string
	URI      string
	Location refindex.Location
	Implied  bool
}

// Conflict records a required (id, uri) pair whose id was already taken by
// a different uri and was therefore given a suffixed id.
type Conflict struct {
	ID       string
	URI      string
	Existing string // uri holding ID
	Assigned string
}

func (c Conflict) String() string {
	return fmt.Sprintf("data source %q: %s already uses %s; declared as %q", c.ID, c.URI, c.Existing, c.Assigned)
}

// Rename asks the caller to rewrite instance('From') to instance('To') at
// Locations.
type Rename struct {
	From      string
	To        string
	Locations []refindex.Location
}

// Plan is the outcome of one reconciliation.
type Plan struct {
	Renames   []Rename
	Conflicts []Conflict
	Added     []string
	Removed   []string
}

// Changed reports whether reconciliation altered anything.
func (p *Plan) Changed() bool {
	return len(p.Renames)+len(p.Conflicts)+len(p.Added)+len(p.Removed) > 0
}

// Registry holds the declared sources. It is derived state: Reconcile
// replaces it wholesale from the current usages.
type Registry struct {
	entries map[string]*Source
	catalog map[string]string
}

// NewRegistry creates an empty registry. catalog maps well-known ids to
// their uri and is consulted when nothing else names one.
func NewRegistry(catalog map[string]string) *Registry {
	c := make(map[string]string, len(catalog))
	for id, uri := range catalog {
		c[id] = uri
	}
	return &Registry{entries: make(map[string]*Source), catalog: c}
}

// Declare records a declaration read from a stored document. It has no
// references until the next Reconcile.
func (r *Registry) Declare(id, uri string) {
	if e, ok := r.entries[id]; ok {
		if e.URI == "" {
			e.URI = uri
		}
		return
	}
	r.entries[id] = &Source{ID: id, URI: uri}
}

// Get looks up a source by id.
func (r *Registry) Get(id string) (Source, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Source{}, false
	}
	return *e, true
}

// Sources lists the declared sources sorted by id.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of declared sources.
func (r *Registry) Len() int { return len(r.entries) }

// CatalogURI returns the well-known uri for id.
func (r *Registry) CatalogURI(id string) string { return r.catalog[id] }

type requirement struct {
	id    string
	uri   string
	fixed bool
	locs  []refindex.Location
}

// requirements groups usages into (id, uri) pairs. A usage without a uri
// takes the current declaration, then the catalog; a group left without a
// uri joins the single other group of its id when there is exactly one.
func (r *Registry) requirements(usages []Usage) []*requirement {
	byKey := make(map[[2]string]*requirement)
	var reqs []*requirement
	for _, u := range usages {
		uri := u.URI
		if uri == "" {
			if e, ok := r.entries[u.ID]; ok {
				uri = e.URI
			}
		}
		if uri == "" {
			uri = r.catalog[u.ID]
		}
		k := [2]string{u.ID, uri}
		req, ok := byKey[k]
		if !ok {
			req = &requirement{id: u.ID, uri: uri}
			byKey[k] = req
			reqs = append(reqs, req)
		}
		req.locs = append(req.locs, u.Location)
		req.fixed = req.fixed || u.Implied
	}

	perID := make(map[string][]*requirement)
	for _, req := range reqs {
		perID[req.id] = append(perID[req.id], req)
	}
	var merged []*requirement
	for _, req := range reqs {
		group := perID[req.id]
		if req.uri == "" && len(group) == 2 {
			other := group[0]
			if other == req {
				other = group[1]
			}
			other.locs = append(other.locs, req.locs...)
			other.fixed = other.fixed || req.fixed
			continue
		}
		merged = append(merged, req)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].id != merged[j].id {
			return merged[i].id < merged[j].id
		}
		return merged[i].uri < merged[j].uri
	})
	return merged
}

// Reconcile recomputes the declarations from usages. Requirements matching
// a current declaration keep it; a new requirement reuses the id of a
// declaration with the same uri, otherwise it claims its id, or a suffixed
// id (foo-1, foo-2, ...) when the id is taken by a different uri.
// Declarations nobody requires are dropped. Reconcile is idempotent once
// the returned renames are applied.
func (r *Registry) Reconcile(usages []Usage) *Plan {
	reqs := r.requirements(usages)
	next := make(map[string]*Source)
	byURI := make(map[string]string)
	assigned := make(map[*requirement]string)

	claim := func(req *requirement, id string) {
		e, ok := next[id]
		if !ok {
			e = &Source{ID: id, URI: req.uri}
			next[id] = e
			if req.uri != "" {
				if _, taken := byURI[req.uri]; !taken {
					byURI[req.uri] = id
				}
			}
		}
		e.Refs += countDistinct(req.locs)
		assigned[req] = id
	}

	// Hashtag-implied ids cannot be rewritten, so they claim first.
	for _, req := range reqs {
		if req.fixed {
			if _, taken := next[req.id]; !taken {
				claim(req, req.id)
			}
		}
	}
	for _, req := range reqs {
		if _, done := assigned[req]; done {
			continue
		}
		if e, ok := r.entries[req.id]; ok && e.URI == req.uri {
			if _, taken := next[req.id]; !taken {
				claim(req, req.id)
			}
		}
	}

	plan := &Plan{}
	for _, req := range reqs {
		if _, done := assigned[req]; done {
			continue
		}
		if id, ok := byURI[req.uri]; ok && req.uri != "" {
			claim(req, id)
			continue
		}
		if existing, taken := next[req.id]; !taken {
			claim(req, req.id)
		} else {
			id := r.suffixed(req.id, next, reqs)
			claim(req, id)
			c := Conflict{ID: req.id, URI: req.uri, Existing: existing.URI, Assigned: id}
			glog.Infof("datasource: %s", c)
			plan.Conflicts = append(plan.Conflicts, c)
		}
	}

	for _, req := range reqs {
		if id := assigned[req]; id != req.id {
			plan.Renames = append(plan.Renames, Rename{From: req.id, To: id, Locations: req.locs})
		}
	}
	for id := range next {
		if _, ok := r.entries[id]; !ok {
			plan.Added = append(plan.Added, id)
		}
	}
	for id := range r.entries {
		if _, ok := next[id]; !ok {
			plan.Removed = append(plan.Removed, id)
		}
	}
	sort.Strings(plan.Added)
	sort.Strings(plan.Removed)
	r.entries = next

	if plan.Changed() && bool(glog.V(1)) {
		glog.Infof("datasource: reconcile added=%v removed=%v renames=%d", plan.Added, plan.Removed, len(plan.Renames))
	}
	return plan
}

// suffixed returns the first id-N not declared and not required under its
// own name by another requirement.
func (r *Registry) suffixed(id string, next map[string]*Source, reqs []*requirement) string {
	wanted := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		wanted[req.id] = true
	}
	for n := 1; ; n++ {
		c := id + "-" + strconv.Itoa(n)
		if _, taken := next[c]; !taken && !wanted[c] {
			return c
		}
	}
}

func countDistinct(locs []refindex.Location) int {
	seen := make(map[refindex.Location]bool, len(locs))
	for _, l := range locs {
		seen[l] = true
	}
	return len(seen)
}

// Snapshot is a copy of the declarations used to undo a failed batch.
type Snapshot map[string]Source

// Snapshot copies the current declarations.
func (r *Registry) Snapshot() Snapshot {
	s := make(Snapshot, len(r.entries))
	for id, e := range r.entries {
		s[id] = *e
	}
	return s
}

// Restore replaces the declarations with s.
func (r *Registry) Restore(s Snapshot) {
	r.entries = make(map[string]*Source, len(s))
	for id, e := range s {
		r.entries[id] = &e
	}
}
