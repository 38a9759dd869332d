package digest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Template names looked up in a TemplateStore.
const (
	HTMLTemplateName = "approval_digest.html"
	TextTemplateName = "approval_digest.txt"
)

// TemplateStore supplies named template sources.
type TemplateStore interface {
	// Lookup returns the template source for name and whether it exists.
	Lookup(name string) (string, bool, error)
}

// DirStore reads templates from a directory on disk.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. An empty dir has no templates.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Lookup implements TemplateStore.
func (s *DirStore) Lookup(name string) (string, bool, error) {
	if strings.TrimSpace(s.dir) == "" {
		return "", false, nil
	}
	if name != filepath.Base(name) {
		return "", false, fmt.Errorf("invalid template name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read template %s: %w", name, err)
	}
	return string(data), true, nil
}

// MapStore is an in-memory TemplateStore.
type MapStore map[string]string

// Lookup implements TemplateStore.
func (m MapStore) Lookup(name string) (string, bool, error) {
	src, ok := m[name]
	return src, ok, nil
}
