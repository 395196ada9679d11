// Package report renders locations, changes and diagnostics as text for
// the CLI and the agent server.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/refindex"
	"github.com/agentic-research/formgraph/internal/validate"
)

// Describe renders a location with the user-visible names of its node or
// text item.
func Describe(d *document.Document, loc refindex.Location) string {
	if loc.IsText() {
		if it, ok := d.Texts().Get(loc.Text); ok {
			return fmt.Sprintf("text %s [%s/%s]", it.ID, loc.Form, loc.Lang)
		}
		return loc.String()
	}
	p, err := d.AbsolutePath(loc.Node)
	if err != nil {
		return loc.String()
	}
	return fmt.Sprintf("%s %s", p, loc.Prop)
}

// Locations prints one sorted line per location.
func Locations(w io.Writer, d *document.Document, locs []refindex.Location) {
	lines := make([]string, 0, len(locs))
	for _, loc := range locs {
		lines = append(lines, Describe(d, loc))
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// Change prints the path deltas, rewritten locations and warnings of c.
func Change(w io.Writer, d *document.Document, c *document.Change) {
	for _, dl := range c.Deltas {
		if dl.New == "" {
			fmt.Fprintf(w, "removed %s\n", dl.Old)
		} else {
			fmt.Fprintf(w, "%s -> %s\n", dl.Old, dl.New)
		}
	}
	fmt.Fprintf(w, "rewrote %d references\n", len(c.Rewritten))
	Locations(w, d, c.Rewritten)
	for _, s := range c.Stale {
		fmt.Fprintf(w, "warning: %s\n", s)
	}
	for _, b := range c.Broken {
		fmt.Fprintf(w, "warning: %s\n", b)
	}
	for _, cf := range c.Conflicts {
		fmt.Fprintf(w, "note: %s\n", cf)
	}
}

// Diagnostics prints the diagnostics of d by node path, each line prefixed
// with name, and returns the number of errors.
func Diagnostics(w io.Writer, name string, d *document.Document) int {
	type entry struct {
		path  string
		diags []validate.Diagnostic
	}
	var entries []entry
	for id, diags := range d.Diagnostics() {
		p, err := d.AbsolutePath(id)
		if err != nil {
			p = id.String()
		}
		entries = append(entries, entry{p, diags})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	errs := 0
	for _, e := range entries {
		for _, diag := range e.diags {
			if diag.Severity == validate.Error {
				errs++
			}
			fmt.Fprintf(w, "%s:%s: %s\n", name, e.path, diag)
		}
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s: ok\n", name)
	}
	return errs
}
