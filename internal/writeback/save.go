package writeback

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/agentic-research/formgraph/internal/document"
	billy "github.com/go-git/go-billy/v5"
	"github.com/golang/glog"
)

// Save exports d and writes it to name on fs. The write is atomic: content
// goes to a temp file in the same directory, which is then renamed over
// name.
func Save(fs billy.Filesystem, name string, d *document.Document) error {
	doc, err := Export(d)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := WriteFile(fs, name, data); err != nil {
		return err
	}
	if glog.V(1) {
		glog.Infof("writeback: saved %s (%d bytes, %d texts, %d instances)", name, len(data), len(doc.Texts), len(doc.Instances))
	}
	return nil
}

// WriteFile replaces name with data through a temp file and a rename. The
// mode of an existing file is kept when fs supports it.
func WriteFile(fs billy.Filesystem, name string, data []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := fs.TempFile(dir, ".formgraph-save-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if ch, ok := fs.(billy.Change); ok {
		if info, err := fs.Stat(name); err == nil {
			_ = ch.Chmod(tmpName, info.Mode())
		}
	}

	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", name, err)
	}
	return nil
}
