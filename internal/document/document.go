// Package document ties the node tree, expression index, rewrite engine and
// registries together. Every public mutation runs as one batch: it either
// completes, with references rewritten and registries reconciled, and fires
// a single Change, or fails and leaves everything as it was.
package document

import (
	"errors"
	"fmt"
	"slices"

	"github.com/agentic-research/formgraph/internal/datasource"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/agentic-research/formgraph/internal/refindex"
	"github.com/agentic-research/formgraph/internal/rewrite"
	"github.com/agentic-research/formgraph/internal/validate"
	"github.com/golang/glog"
)

// Change describes one completed batch.
type Change struct {
	Batch     uint64
	Op        string
	Affected  []graph.Ident
	Deltas    []graph.Delta
	Rewritten []refindex.Location
	Stale     []rewrite.StaleExpressionWarning
	Broken    []rewrite.BrokenReferenceWarning
	Conflicts []datasource.Conflict
	TextIDs   map[itext.Key]string // ids changed by deduplication
	Dropped   []itext.Key          // text items garbage collected
}

// Listener receives one Change per batch.
type Listener func(Change)

// Option configures a Document.
type Option func(*options)

type options struct {
	rules     []paths.Rule
	catalog   map[string]string
	reserved  []string
	allowed   []string
	checkers  []validate.Checker
	languages []string
}

// WithAliasRules replaces the default #case and #user rules.
func WithAliasRules(rules ...paths.Rule) Option {
	return func(o *options) { o.rules = rules }
}

// WithCatalog sets the well-known data source uris.
func WithCatalog(catalog map[string]string) Option {
	return func(o *options) { o.catalog = catalog }
}

// WithReserved sets node ids reported as reserved.
func WithReserved(names ...string) Option {
	return func(o *options) { o.reserved = names }
}

// WithAllowedReferences sets path tails below the root that may be
// referenced without a node.
func WithAllowedReferences(tails ...string) Option {
	return func(o *options) { o.allowed = tails }
}

// WithCheckers adds validation rules.
func WithCheckers(c ...validate.Checker) Option {
	return func(o *options) { o.checkers = append(o.checkers, c...) }
}

// WithLanguages sets the languages of a document created by New. The first
// is the default.
func WithLanguages(langs ...string) Option {
	return func(o *options) { o.languages = langs }
}

// Document is the editing facade. It is not safe for concurrent use; the
// host serializes edits.
type Document struct {
	opts    options
	tree    *graph.Store
	texts   *itext.Registry
	sources *datasource.Registry
	aliases *paths.Aliaser
	index   *refindex.Index
	engine  *rewrite.Engine

	pending   map[graph.Ident]string
	listeners []Listener
	seq       uint64
}

func buildOptions(opts []Option) options {
	o := options{rules: paths.DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates an empty document whose root is named root.
func New(root string, opts ...Option) *Document {
	o := buildOptions(opts)
	d, _ := open(graph.NewStore(root), itext.NewRegistry(o.languages...), nil, o)
	return d
}

// Open wraps an already built tree and text registry, as produced by a
// document parser. Ids are taken as they are; declared data sources seed
// the registry before the first reconciliation.
func Open(tree *graph.Store, texts *itext.Registry, declared []datasource.Source, opts ...Option) (*Document, error) {
	if tree == nil || texts == nil {
		return nil, errors.New("open document: tree and text registry are required")
	}
	return open(tree, texts, declared, buildOptions(opts))
}

func open(tree *graph.Store, texts *itext.Registry, declared []datasource.Source, o options) (*Document, error) {
	d := &Document{
		opts:    o,
		tree:    tree,
		texts:   texts,
		sources: datasource.NewRegistry(o.catalog),
		aliases: paths.NewAliaser(tree.Root().NodeID, o.rules...),
		pending: make(map[graph.Ident]string),
	}
	for _, s := range declared {
		d.sources.Declare(s.ID, s.URI)
	}
	d.reindexAll()

	b := newBatch("open")
	if err := d.reconcile(b); err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if glog.V(1) {
		glog.Infof("document: opened %s with %d nodes, %d texts, %d sources, %d indexed locations",
			d.aliases.Root(), tree.Len(), texts.Len(), d.sources.Len(), d.index.Len())
	}
	return d, nil
}

// OnChange registers a listener called after every completed batch.
func (d *Document) OnChange(l Listener) { d.listeners = append(d.listeners, l) }

// Tree exposes the node tree for reading.
func (d *Document) Tree() *graph.Store { return d.tree }

// Texts exposes the text registry for reading.
func (d *Document) Texts() *itext.Registry { return d.texts }

// Sources exposes the data source registry for reading.
func (d *Document) Sources() *datasource.Registry { return d.sources }

// Index exposes the expression index for reading.
func (d *Document) Index() *refindex.Index { return d.index }

// Aliases returns the hashtag mapping of this document.
func (d *Document) Aliases() *paths.Aliaser { return d.aliases }

// Alias abbreviates a path with the longest matching hashtag.
func (d *Document) Alias(p string) string { return d.aliases.Alias(p) }

// Unalias expands a leading hashtag.
func (d *Document) Unalias(s string) string { return d.aliases.Unalias(s) }

// AbsolutePath returns the path of a node.
func (d *Document) AbsolutePath(id graph.Ident) (string, error) { return d.tree.AbsolutePath(id) }

// Get returns a node by identity.
func (d *Document) Get(id graph.Ident) (*graph.Node, error) { return d.tree.Get(id) }

// GetByPath resolves an absolute or hashtag path.
func (d *Document) GetByPath(p string) (*graph.Node, error) {
	return d.tree.GetByPath(d.aliases.Unalias(p))
}

// References lists the locations referencing p or anything below it.
func (d *Document) References(p string) []refindex.Location {
	return d.index.Referencing(d.aliases.Unalias(p))
}

// PendingRename returns a rename attempt that was rejected for a sibling
// collision and not yet resolved.
func (d *Document) PendingRename(id graph.Ident) (string, bool) {
	v, ok := d.pending[id]
	return v, ok
}

// Diagnostics validates the whole document.
func (d *Document) Diagnostics() map[graph.Ident][]validate.Diagnostic {
	return validate.Diagnose(&validate.Input{
		Tree:     d.tree,
		Index:    d.index,
		Texts:    d.texts,
		Sources:  d.sources,
		Pending:  d.pending,
		Reserved: d.opts.reserved,
		Allowed:  d.opts.allowed,
		Checkers: d.opts.checkers,
	})
}

// ---------------------------------------------------------------------------
// rewrite.Target
// ---------------------------------------------------------------------------

// Value returns the text stored at loc.
func (d *Document) Value(loc refindex.Location) string {
	if loc.IsText() {
		it, ok := d.texts.Get(loc.Text)
		if !ok {
			return ""
		}
		return it.Value(loc.Form, loc.Lang)
	}
	n, err := d.tree.Get(loc.Node)
	if err != nil {
		return ""
	}
	return n.Props[loc.Prop]
}

// SetValue implements rewrite.Target.
func (d *Document) SetValue(loc refindex.Location, v string) error {
	if loc.IsText() {
		if !d.texts.SetExact(loc.Text, loc.Form, loc.Lang, v) {
			return fmt.Errorf("text item %s not found", loc.Text)
		}
		return nil
	}
	return d.tree.SetProp(loc.Node, loc.Prop, v)
}

// SelfPath implements rewrite.Target.
func (d *Document) SelfPath(loc refindex.Location) string {
	if loc.IsText() {
		return ""
	}
	p, _ := d.tree.AbsolutePath(loc.Node)
	return p
}

// ---------------------------------------------------------------------------
// indexing
// ---------------------------------------------------------------------------

func (d *Document) reindexAll() {
	d.index = refindex.New(d.aliases)
	d.engine = rewrite.New(d.index, d)
	d.tree.Walk(func(n *graph.Node, path string) bool {
		d.indexNodeAt(n, path)
		return true
	})
	for _, it := range d.texts.Items() {
		d.indexText(it.Key)
	}
}

func (d *Document) indexNode(id graph.Ident) {
	n, err := d.tree.Get(id)
	if err != nil {
		return
	}
	p, _ := d.tree.AbsolutePath(id)
	d.indexNodeAt(n, p)
}

func (d *Document) indexNodeAt(n *graph.Node, path string) {
	for _, p := range graph.ExpressionProps {
		d.index.Update(refindex.NodeLocation(n.ID, p), n.Props[p], path)
	}
}

func (d *Document) indexSubtree(id graph.Ident) {
	for _, c := range d.tree.Subtree(id) {
		d.indexNode(c)
	}
}

func (d *Document) indexText(key itext.Key) {
	d.index.RemoveText(key)
	it, ok := d.texts.Get(key)
	if !ok {
		return
	}
	for form, langs := range it.Forms {
		for lang, v := range langs {
			d.index.Update(refindex.TextLocation(key, form, lang), v, "")
		}
	}
}

// reachableTexts is the set of items linked from some node, with the keys
// in discovery order: pre-order over the tree, text properties in order.
func (d *Document) reachableTexts() (map[itext.Key]bool, []itext.Key) {
	reach := make(map[itext.Key]bool)
	var order []itext.Key
	d.tree.Walk(func(n *graph.Node, _ string) bool {
		for _, t := range graph.TextProps {
			if k, ok := n.Texts[t]; ok && !reach[k] {
				reach[k] = true
				order = append(order, k)
			}
		}
		return true
	})
	return reach, order
}

// ---------------------------------------------------------------------------
// batches
// ---------------------------------------------------------------------------

type batch struct {
	change Change
	seen   map[graph.Ident]bool
}

func newBatch(op string) *batch {
	return &batch{change: Change{Op: op}, seen: make(map[graph.Ident]bool)}
}

func (b *batch) affect(ids ...graph.Ident) {
	for _, id := range ids {
		if !id.IsZero() && !b.seen[id] {
			b.seen[id] = true
			b.change.Affected = append(b.change.Affected, id)
		}
	}
}

func (b *batch) deltas(ds []graph.Delta) {
	b.change.Deltas = append(b.change.Deltas, ds...)
	for _, dl := range ds {
		b.affect(dl.Node)
	}
}

func (b *batch) rewritten(res *rewrite.Result) {
	if res == nil {
		return
	}
	b.change.Rewritten = append(b.change.Rewritten, res.Rewritten...)
	b.change.Stale = append(b.change.Stale, res.Stale...)
	b.change.Broken = append(b.change.Broken, res.Broken...)
	for _, loc := range res.Rewritten {
		b.affect(loc.Node)
	}
}

// run executes fn as one batch. On error the tree journal is rolled back,
// the registries are restored and the index is rebuilt.
func (d *Document) run(op string, fn func(b *batch) error) (*Change, error) {
	if err := d.tree.Begin(); err != nil {
		return nil, err
	}
	texts := d.texts.Snapshot()
	sources := d.sources.Snapshot()
	b := newBatch(op)

	err := fn(b)
	if err == nil {
		err = d.reconcile(b)
	}
	if err != nil {
		if rerr := d.tree.Rollback(); rerr != nil {
			glog.Errorf("document: rollback %s: %v", op, rerr)
		}
		d.texts.Restore(texts)
		d.sources.Restore(sources)
		d.reindexAll()
		if glog.V(1) {
			glog.Infof("document: %s rejected: %v", op, err)
		}
		return nil, err
	}
	if err := d.tree.Commit(); err != nil {
		return nil, err
	}

	d.seq++
	b.change.Batch = d.seq
	if glog.V(1) {
		glog.Infof("document: batch %d %s: %d affected, %d rewritten, %d stale, %d broken",
			b.change.Batch, op, len(b.change.Affected), len(b.change.Rewritten), len(b.change.Stale), len(b.change.Broken))
	}
	for _, l := range d.listeners {
		l(b.change)
	}
	return &b.change, nil
}

// usages lists every reachable location requiring a data source.
func (d *Document) usages() []datasource.Usage {
	reach, _ := d.reachableTexts()
	var out []datasource.Usage
	for _, id := range d.index.Instances() {
		for _, loc := range d.index.InstanceLocations(id) {
			if loc.IsText() && !reach[loc.Text] {
				continue
			}
			u := datasource.Usage{ID: id, Location: loc}
			if !loc.IsText() {
				if n, err := d.tree.Get(loc.Node); err == nil {
					u.URI = n.Sources[id]
				}
			}
			if e, ok := d.index.Entry(loc); ok {
				u.Implied = slices.Contains(e.Implied, id)
			}
			out = append(out, u)
		}
	}
	return out
}

// reconcile brings the data source registry in line with the index and
// applies the id rewrites it asks for.
func (d *Document) reconcile(b *batch) error {
	plan := d.sources.Reconcile(d.usages())
	for _, r := range plan.Renames {
		res, err := d.engine.RenameInstance(r.From, r.To, r.Locations)
		if err != nil {
			return err
		}
		b.rewritten(res)
		for _, loc := range r.Locations {
			if loc.IsText() {
				continue
			}
			n, err := d.tree.Get(loc.Node)
			if err != nil {
				continue
			}
			if uri, ok := n.Sources[r.From]; ok {
				if err := d.tree.SetSource(n.ID, r.From, ""); err != nil {
					return err
				}
				if err := d.tree.SetSource(n.ID, r.To, uri); err != nil {
					return err
				}
			}
		}
	}
	b.change.Conflicts = append(b.change.Conflicts, plan.Conflicts...)
	return nil
}

// Reconcile runs data source reconciliation on its own. Without edits in
// between, a second call changes nothing.
func (d *Document) Reconcile() (*Change, error) {
	return d.run("reconcile", func(*batch) error { return nil })
}

// PrepareSerialization makes text ids unique in discovery order, drops
// unreachable text items and reconciles data sources. The serializer calls
// it right before reading the document out.
func (d *Document) PrepareSerialization() (*Change, error) {
	return d.run("serialize", func(b *batch) error {
		reach, order := d.reachableTexts()
		b.change.TextIDs = d.texts.DeduplicateIDs(order)
		d.collectTexts(b, reach)
		return nil
	})
}

func (d *Document) collectTexts(b *batch, reach map[itext.Key]bool) {
	for _, k := range d.texts.GarbageCollect(reach) {
		d.index.RemoveText(k)
		b.change.Dropped = append(b.change.Dropped, k)
	}
}
