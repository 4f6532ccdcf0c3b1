// Package project supplies validated project root directories. Every
// filesystem and shell operation in the service is scoped to a project
// resolved through this package, never to a raw client-supplied path.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("project: not found")
	ErrInvalidName = errors.New("project: invalid name")
)

// Metadata describes one project directory for listings.
type Metadata struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	DiskUsageBytes int64     `json:"disk_usage_bytes"`
	LastModified   time.Time `json:"last_modified"`
	IsGitRepo      bool      `json:"is_git_repo"`
}

// Store resolves project names to directories under a single root.
type Store struct {
	root string
}

// NewStore creates the projects root if needed and returns a Store over
// it.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("project: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("project: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute projects root directory.
func (s *Store) Root() string { return s.root }

// Resolve validates name and returns the existing project directory for
// it. Names containing path separators or traversal components are
// rejected before touching the filesystem.
func (s *Store) Resolve(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.root, name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return path, nil
}

// List returns metadata for every project directory under the root,
// sorted by name.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("project: read root: %w", err)
	}

	metas := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		gitInfo, gitErr := os.Stat(filepath.Join(path, ".git"))
		metas = append(metas, Metadata{
			Name:           entry.Name(),
			Path:           path,
			DiskUsageBytes: diskUsage(path),
			LastModified:   info.ModTime(),
			IsGitRepo:      gitErr == nil && gitInfo.IsDir(),
		})
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// diskUsage sums regular file sizes under dir. Errors on individual
// entries are skipped; an unreadable project still gets listed.
func diskUsage(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

func validName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	return true
}
