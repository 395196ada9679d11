// Package docfs presents a document as a billy.Filesystem. Every node is a
// directory named by its node id; its properties and texts are files whose
// names start with "@", e.g. /data/group/q/@bind.relevant or
// /data/group/q/@label. Renaming, moving and removing node directories go
// through the document, so references follow the edit.
package docfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
)

var errReadOnly = errors.New("read-only filesystem")

// AttrPrefix marks property and text files inside a node directory.
const AttrPrefix = "@"

// KindFile holds the node kind.
const KindFile = AttrPrefix + "kind"

// SourcesFile at the top level lists the registered data sources.
const SourcesFile = "_sources"

// FS adapts a document to billy.Filesystem. It serializes access to the
// document, so it may be served to concurrent clients.
type FS struct {
	mu       sync.Mutex
	doc      *document.Document
	opened   time.Time
	writable bool
}

// New returns a read-only view of d.
func New(d *document.Document) *FS {
	return &FS{doc: d, opened: time.Now()}
}

// SetWritable enables writes. Writing an attribute file commits on Close;
// renames and removals commit immediately.
func (fs *FS) SetWritable(w bool) { fs.writable = w }

// AttrName returns the file name of a property, "bind/relevant" becoming
// "@bind.relevant".
func AttrName(p graph.Prop) string {
	return AttrPrefix + strings.Replace(string(p), "/", ".", 1)
}

// target is a resolved path: a node directory, or an attribute of one.
type target struct {
	node *graph.Node
	attr string // "" for the directory itself
	prop graph.Prop
	text graph.TextProp
}

func (fs *FS) resolve(op, name string) (*target, error) {
	name = cleanPath(name)
	dir, base := path.Split(name)
	if strings.HasPrefix(base, AttrPrefix) {
		n, err := fs.doc.GetByPath(path.Clean(dir))
		if err != nil {
			return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
		}
		t := &target{node: n, attr: base}
		if base == KindFile {
			return t, nil
		}
		attr := strings.TrimPrefix(base, AttrPrefix)
		for _, tp := range graph.TextProps {
			if string(tp) == attr && n.Kind.Spec().Text(tp) != graph.NotAllowed {
				t.text = tp
				return t, nil
			}
		}
		p := graph.Prop(strings.Replace(attr, ".", "/", 1))
		if n.Kind.Spec().Prop(p) == graph.NotAllowed {
			return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
		}
		t.prop = p
		return t, nil
	}
	n, err := fs.doc.GetByPath(name)
	if err != nil {
		return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	}
	return &target{node: n}, nil
}

// value is the content of an attribute file and whether the file exists.
func (fs *FS) value(t *target) (string, bool) {
	switch {
	case t.attr == KindFile:
		return t.node.Kind.String(), true
	case t.text != "":
		key, ok := t.node.Texts[t.text]
		if !ok {
			return "", false
		}
		it, ok := fs.doc.Texts().Get(key)
		if !ok {
			return "", false
		}
		v := it.Value(itext.DefaultForm, fs.doc.Texts().DefaultLanguage())
		return v, v != ""
	default:
		v := t.node.Props[t.prop]
		return v, v != ""
	}
}

func (fs *FS) sources() []byte {
	var b strings.Builder
	for _, s := range fs.doc.Sources().Sources() {
		fmt.Fprintf(&b, "%s %s\n", s.ID, s.URI)
	}
	return []byte(b.String())
}

// --- billy.Basic ---

func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	filename = cleanPath(filename)
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0

	if filename == "/"+SourcesFile {
		if writing {
			return nil, &os.PathError{Op: "open", Path: filename, Err: errReadOnly}
		}
		return &bytesFile{name: SourcesFile, data: fs.sources()}, nil
	}

	t, err := fs.resolve("open", filename)
	if err != nil {
		return nil, err
	}
	if t.attr == "" {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	v, exists := fs.value(t)
	if !writing {
		if !exists {
			return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
		}
		return &bytesFile{name: filename, data: []byte(v)}, nil
	}

	if !fs.writable || t.attr == KindFile {
		return nil, &os.PathError{Op: "open", Path: filename, Err: errReadOnly}
	}
	if !exists && flag&os.O_CREATE == 0 {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	var buf []byte
	if flag&os.O_TRUNC == 0 {
		buf = []byte(v)
	}
	id := t.node.ID
	return &writeFile{
		name: filename,
		buf:  buf,
		onClose: func(content []byte) error {
			fs.mu.Lock()
			defer fs.mu.Unlock()
			return fs.commit(id, t, strings.TrimSuffix(string(content), "\n"))
		},
	}, nil
}

func (fs *FS) commit(id graph.Ident, t *target, v string) error {
	var err error
	if t.text != "" {
		_, err = fs.doc.SetText(id, t.text, "", "", v)
	} else {
		_, err = fs.doc.SetProperty(id, t.prop, v)
	}
	return err
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

// Rename renames or moves a node directory. A single call may change the
// name or the parent, not both.
func (fs *FS) Rename(oldpath, newpath string) error {
	if !fs.writable {
		return errReadOnly
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldpath, newpath = cleanPath(oldpath), cleanPath(newpath)
	from, err := fs.resolve("rename", oldpath)
	if err != nil {
		return err
	}
	if from.attr != "" {
		return &os.PathError{Op: "rename", Path: oldpath, Err: fmt.Errorf("attribute files cannot be renamed")}
	}
	oldDir, oldBase := path.Split(oldpath)
	newDir, newBase := path.Split(newpath)
	switch {
	case oldDir == newDir:
		_, err = fs.doc.Rename(from.node.ID, newBase)
	case oldBase == newBase:
		var parent graph.Ident
		if parent, err = fs.doc.Resolve(path.Clean(newDir)); err == nil {
			_, err = fs.doc.Move(from.node.ID, graph.Last, parent)
		}
	default:
		return &os.PathError{Op: "rename", Path: oldpath, Err: fmt.Errorf("cannot rename and move %s in one step", newpath)}
	}
	return err
}

// Remove deletes a node directory with its subtree, or clears an attribute.
func (fs *FS) Remove(filename string) error {
	if !fs.writable {
		return errReadOnly
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t, err := fs.resolve("remove", filename)
	if err != nil {
		return err
	}
	switch {
	case t.attr == "":
		_, err = fs.doc.Remove(t.node.ID)
	case t.attr == KindFile:
		err = &os.PathError{Op: "remove", Path: filename, Err: errReadOnly}
	default:
		err = fs.commit(t.node.ID, t, "")
	}
	return err
}

func (fs *FS) Join(elem ...string) string {
	return path.Join(elem...)
}

// --- billy.TempFile ---

func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *FS) ReadDir(name string) ([]os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	name = cleanPath(name)
	if name == "/" {
		root := fs.doc.Tree().Root()
		return []os.FileInfo{
			fs.dirInfo(root),
			&staticFileInfo{name: SourcesFile, size: int64(len(fs.sources())), mode: 0o444, modTime: fs.opened},
		}, nil
	}
	t, err := fs.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	if t.attr != "" {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: fmt.Errorf("not a directory")}
	}

	var infos []os.FileInfo
	for _, a := range fs.attrs(t.node) {
		v, _ := fs.value(a)
		infos = append(infos, fs.attrInfo(a, v))
	}
	kids, err := fs.doc.Tree().Children(t.node.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		infos = append(infos, fs.dirInfo(k))
	}
	return infos, nil
}

// attrs lists the attribute files present on n, kind first.
func (fs *FS) attrs(n *graph.Node) []*target {
	out := []*target{{node: n, attr: KindFile}}
	var props []string
	for p, v := range n.Props {
		if v != "" {
			props = append(props, string(p))
		}
	}
	sort.Strings(props)
	for _, p := range props {
		out = append(out, &target{node: n, attr: AttrName(graph.Prop(p)), prop: graph.Prop(p)})
	}
	for _, tp := range graph.TextProps {
		t := &target{node: n, attr: AttrPrefix + string(tp), text: tp}
		if _, ok := fs.value(t); ok {
			out = append(out, t)
		}
	}
	return out
}

func (fs *FS) MkdirAll(filename string, perm os.FileMode) error {
	return billy.ErrNotSupported
}

// --- billy.Symlink ---

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	filename = cleanPath(filename)
	switch filename {
	case "/":
		return &staticFileInfo{name: "/", mode: os.ModeDir | 0o555, modTime: fs.opened}, nil
	case "/" + SourcesFile:
		return &staticFileInfo{name: SourcesFile, size: int64(len(fs.sources())), mode: 0o444, modTime: fs.opened}, nil
	}
	t, err := fs.resolve("lstat", filename)
	if err != nil {
		return nil, err
	}
	if t.attr == "" {
		return fs.dirInfo(t.node), nil
	}
	v, ok := fs.value(t)
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return fs.attrInfo(t, v), nil
}

func (fs *FS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *FS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *FS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *FS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *FS) Capabilities() billy.Capability {
	caps := billy.ReadCapability | billy.SeekCapability
	if fs.writable {
		caps |= billy.WriteCapability
	}
	return caps
}

// --- internals ---

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func (fs *FS) dirInfo(n *graph.Node) os.FileInfo {
	mode := os.ModeDir | 0o555
	if fs.writable {
		mode = os.ModeDir | 0o755
	}
	return &staticFileInfo{name: n.NodeID, mode: mode, modTime: fs.opened}
}

func (fs *FS) attrInfo(t *target, v string) os.FileInfo {
	mode := os.FileMode(0o444)
	if fs.writable && t.attr != KindFile {
		mode = 0o644
	}
	return &staticFileInfo{name: t.attr, size: int64(len(v)), mode: mode, modTime: fs.opened}
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*FS)(nil)
	_ billy.Capable    = (*FS)(nil)
)
