// Package workspace is the engine's view of the generated project on disk.
// All tool file operations resolve through it; paths cannot escape the
// project root, and writes are atomic (temp file + rename) so an interrupted
// engine never leaves a half-written file behind.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace roots file operations at a project directory.
type Workspace struct {
	root string
}

// New creates a workspace rooted at dir, creating it if needed.
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute project root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a model-supplied path (relative, or absolute within the root)
// to an absolute path, rejecting anything that escapes the root.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return w.root, nil
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	p = filepath.Clean(p)
	if p != w.root && !strings.HasPrefix(p, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", path)
	}
	return p, nil
}

// Read returns the file's contents.
func (w *Workspace) Read(path string) (string, error) {
	p, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write atomically writes content to path, creating parent directories.
func (w *Workspace) Write(path, content string) error {
	p, err := w.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".forge-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.WriteString(content)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Rename moves a file within the root, creating the destination's parents.
func (w *Workspace) Rename(from, to string) error {
	src, err := w.Resolve(from)
	if err != nil {
		return err
	}
	dst, err := w.Resolve(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.Rename(src, dst)
}

// Delete removes a file. Deleting a missing file is not an error.
func (w *Workspace) Delete(path string) error {
	p, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether path resolves to an existing file or directory.
func (w *Workspace) Exists(path string) bool {
	p, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List returns the relative paths of all regular files under dir (or the
// whole root for ""), sorted by directory walk order. Dot-directories are
// skipped.
func (w *Workspace) List(dir string) ([]string, error) {
	p, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(w.root, path)
		if rerr != nil {
			return rerr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
