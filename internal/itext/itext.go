// Package itext is the localized-text registry: items keyed by a stable
// internal Key, carrying a user-visible ID and values per form and language.
package itext

import (
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Key identifies an item for its whole lifetime. Nodes link items by Key, so
// changing an item's ID never requires touching the nodes that use it.
type Key string

// NewKey returns a fresh, never reused key.
func NewKey() Key { return Key(ulid.Make().String()) }

// DefaultForm is the plain text form.
const DefaultForm = "default"

// KnownForms fixes the order in which forms are written out.
var KnownForms = []string{DefaultForm, "long", "short", "audio", "image", "video", "markdown"}

// Item is one localized-text entry.
type Item struct {
	Key    Key
	ID     string
	AutoID bool // ID derives from the owning node's path
	Shared bool // referenced rather than cloned on duplicate
	Forms  map[string]map[string]string
}

// Value returns the text for form and lang, or "".
func (it *Item) Value(form, lang string) string {
	return it.Forms[form][lang]
}

// IsEmpty reports whether no form holds a non-empty value in any language.
func (it *Item) IsEmpty() bool {
	for _, langs := range it.Forms {
		for _, v := range langs {
			if v != "" {
				return false
			}
		}
	}
	return true
}

// FormNames lists the forms that hold at least one value, in a stable order.
func (it *Item) FormNames() []string {
	var names []string
	for form, langs := range it.Forms {
		for _, v := range langs {
			if v != "" {
				names = append(names, form)
				break
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := formRank(names[i]), formRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

func formRank(form string) int {
	for i, f := range KnownForms {
		if f == form {
			return i
		}
	}
	return len(KnownForms)
}

func (it *Item) clone() *Item {
	c := *it
	c.Forms = make(map[string]map[string]string, len(it.Forms))
	for form, langs := range it.Forms {
		m := make(map[string]string, len(langs))
		for l, v := range langs {
			m[l] = v
		}
		c.Forms[form] = m
	}
	return &c
}

// AutoID derives the default id for a node's text property from its path:
// the path without the root segment, suffixed by the property name, e.g.
// "/data/group/q" and "label" yield "group/q-label".
func AutoID(path, prop string) string {
	p := strings.Trim(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	} else {
		p = ""
	}
	if p == "" {
		return prop
	}
	return p + "-" + prop
}

// Registry holds the items of one document. It is not safe for concurrent
// use; the document serializes access.
type Registry struct {
	items       map[Key]*Item
	order       []Key
	langs       []string
	defaultLang string
}

// NewRegistry creates a registry for the given languages; the first one is
// the default. At least one language is always present.
func NewRegistry(langs ...string) *Registry {
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &Registry{
		items:       make(map[Key]*Item),
		langs:       append([]string(nil), langs...),
		defaultLang: langs[0],
	}
}

// Languages returns the configured languages, default first.
func (r *Registry) Languages() []string { return append([]string(nil), r.langs...) }

// DefaultLanguage returns the language whose edits propagate to empty
// translations.
func (r *Registry) DefaultLanguage() string { return r.defaultLang }

// AddLanguage registers an extra language.
func (r *Registry) AddLanguage(lang string) {
	for _, l := range r.langs {
		if l == lang {
			return
		}
	}
	r.langs = append(r.langs, lang)
}

// Len is the number of items.
func (r *Registry) Len() int { return len(r.items) }

// Get looks up an item by key.
func (r *Registry) Get(key Key) (*Item, bool) {
	it, ok := r.items[key]
	return it, ok
}

// Items returns every item in creation order.
func (r *Registry) Items() []*Item {
	out := make([]*Item, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}
	return out
}

// ByID returns the items currently carrying id, in creation order.
func (r *Registry) ByID(id string) []*Item {
	var out []*Item
	for _, k := range r.order {
		if it := r.items[k]; it.ID == id {
			out = append(out, it)
		}
	}
	return out
}

// Create adds a new empty item with the given id.
func (r *Registry) Create(id string) *Item {
	it := &Item{Key: NewKey(), ID: id, Forms: make(map[string]map[string]string)}
	r.put(it)
	return it
}

// GetOrCreate returns the first item carrying id, creating it if needed.
func (r *Registry) GetOrCreate(id string) *Item {
	if found := r.ByID(id); len(found) > 0 {
		return found[0]
	}
	return r.Create(id)
}

// CreateAutoID creates an item whose id follows the node path.
func (r *Registry) CreateAutoID(path, prop string) *Item {
	it := r.Create(AutoID(path, prop))
	it.AutoID = true
	return it
}

func (r *Registry) put(it *Item) {
	if _, exists := r.items[it.Key]; !exists {
		r.order = append(r.order, it.Key)
	}
	r.items[it.Key] = it
}

// Put inserts a fully built item, as produced by a document parser.
func (r *Registry) Put(it *Item) {
	if it.Key == "" {
		it.Key = NewKey()
	}
	if it.Forms == nil {
		it.Forms = make(map[string]map[string]string)
	}
	r.put(it)
}

// SetID changes the user-visible id. Clearing AutoID is the caller's choice.
func (r *Registry) SetID(key Key, id string) bool {
	it, ok := r.items[key]
	if !ok {
		return false
	}
	it.ID = id
	return true
}

// Set stores a value. Setting the default language also fills every other
// language whose value is empty or still equal to the previous default.
func (r *Registry) Set(key Key, form, lang, value string) bool {
	it, ok := r.items[key]
	if !ok {
		return false
	}
	if form == "" {
		form = DefaultForm
	}
	if lang == "" {
		lang = r.defaultLang
	}
	langs := it.Forms[form]
	if langs == nil {
		langs = make(map[string]string)
		it.Forms[form] = langs
	}
	if lang == r.defaultLang {
		previous := langs[lang]
		for _, l := range r.langs {
			if l == lang {
				continue
			}
			if v := langs[l]; v == "" || v == previous {
				langs[l] = value
			}
		}
	}
	langs[lang] = value
	return true
}

// SetExact stores one value and nothing else. Used when rewriting
// references, where each language is rewritten on its own.
func (r *Registry) SetExact(key Key, form, lang, value string) bool {
	it, ok := r.items[key]
	if !ok {
		return false
	}
	langs := it.Forms[form]
	if langs == nil {
		langs = make(map[string]string)
		it.Forms[form] = langs
	}
	langs[lang] = value
	return true
}

// Clone copies an item under a fresh key. The id is kept; duplicate ids are
// resolved by DeduplicateIDs before serialization.
func (r *Registry) Clone(key Key) (*Item, bool) {
	it, ok := r.items[key]
	if !ok {
		return nil, false
	}
	c := it.clone()
	c.Key = NewKey()
	r.put(c)
	return c, true
}

// Remove deletes an item.
func (r *Registry) Remove(key Key) {
	if _, ok := r.items[key]; !ok {
		return
	}
	delete(r.items, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// GarbageCollect drops every item whose key is not reachable and returns
// the removed keys.
func (r *Registry) GarbageCollect(reachable map[Key]bool) []Key {
	var removed []Key
	kept := r.order[:0]
	for _, k := range r.order {
		if reachable[k] {
			kept = append(kept, k)
			continue
		}
		delete(r.items, k)
		removed = append(removed, k)
	}
	r.order = kept
	return removed
}

// DeduplicateIDs gives every non-empty item in discovery a distinct id. The
// first item to claim an id keeps it; later ones become id2, id3 and so on,
// skipping ids already held by another discovered item. Empty items are not
// serialized and claim nothing. Keys not in the registry are ignored and
// repeated keys count once. It returns the renamed keys with their new ids.
func (r *Registry) DeduplicateIDs(discovery []Key) map[Key]string {
	var ordered []*Item
	seen := make(map[Key]bool)
	taken := make(map[string]bool)
	for _, k := range discovery {
		it, ok := r.items[k]
		if !ok || seen[k] || it.IsEmpty() {
			continue
		}
		seen[k] = true
		ordered = append(ordered, it)
		taken[it.ID] = true
	}

	renamed := make(map[Key]string)
	claimed := make(map[string]bool)
	for _, it := range ordered {
		if !claimed[it.ID] {
			claimed[it.ID] = true
			continue
		}
		base := it.ID
		n := 2
		candidate := base + strconv.Itoa(n)
		for taken[candidate] {
			n++
			candidate = base + strconv.Itoa(n)
		}
		taken[candidate] = true
		claimed[candidate] = true
		it.ID = candidate
		renamed[it.Key] = candidate
	}
	return renamed
}

// Serializable returns the non-empty items among keys, once each, in the
// given order.
func (r *Registry) Serializable(keys []Key) []*Item {
	var out []*Item
	seen := make(map[Key]bool)
	for _, k := range keys {
		it, ok := r.items[k]
		if !ok || seen[k] || it.IsEmpty() {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// Snapshot is an opaque copy of the registry used to undo a failed batch.
type Snapshot struct {
	items map[Key]*Item
	order []Key
	langs []string
}

// Snapshot deep-copies the registry state.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		items: make(map[Key]*Item, len(r.items)),
		order: append([]Key(nil), r.order...),
		langs: append([]string(nil), r.langs...),
	}
	for k, it := range r.items {
		s.items[k] = it.clone()
	}
	return s
}

// Restore replaces the registry state with a snapshot.
func (r *Registry) Restore(s Snapshot) {
	r.items = s.items
	r.order = s.order
	r.langs = s.langs
}
