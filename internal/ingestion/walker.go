// Package ingestion imports annotation document files into a corpus store
// and exports stored documents back to files.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/annis-go/internal/salt"
)

// FileEntry represents a document file to be imported.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the slash separated path relative to the import root.
	RelPath string

	// Format is the document encoding detected from the extension.
	Format salt.Format

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// WalkOptions selects the files WalkCorpus returns.
type WalkOptions struct {
	// Patterns are doublestar globs matched against RelPath. A file must
	// match at least one of them.
	Patterns []string

	// IgnoreFile is read from the root in addition to .gitignore.
	IgnoreFile string
}

// DefaultPatterns match every supported document encoding.
var DefaultPatterns = []string{"**/*.json", "**/*.yaml", "**/*.yml"}

// Default patterns to ignore (in addition to the ignore files).
var defaultIgnorePatterns = []string{
	".git/",
	".annis-go/",
	"node_modules/",
	".DS_Store",
	"*.tmp",
	"*~",
}

// WalkCorpus walks root and returns all document files that match the
// include patterns and are not ignored.
func WalkCorpus(root string, opts WalkOptions) ([]FileEntry, error) {
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	for _, p := range opts.Patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}

	patterns, err := loadIgnoreFiles(root, opts.IgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("loading ignore files: %w", err)
	}
	matcher := newMatcher(patterns)

	var entries []FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		entry, ok, err := readEntry(root, path, opts.Patterns, matcher)
		if err != nil {
			return err
		}
		if ok {
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

// readEntry loads one file if it is a wanted document.
func readEntry(root, path string, patterns []string, matcher gitignore.Matcher) (FileEntry, bool, error) {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return FileEntry{}, false, err
	}
	if !isIncluded(relPath, patterns, matcher) {
		return FileEntry{}, false, nil
	}
	if _, err := salt.FormatFromPath(path); err != nil {
		return FileEntry{}, false, nil
	}
	entry, err := loadEntry(path, relPath)
	return entry, err == nil, err
}

// ReadFileEntry loads a single document file outside of a walk.
func ReadFileEntry(path string) (FileEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileEntry{}, err
	}
	return loadEntry(abs, filepath.Base(abs))
}

func loadEntry(path, relPath string) (FileEntry, error) {
	format, err := salt.FormatFromPath(path)
	if err != nil {
		return FileEntry{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileEntry{}, err
	}
	hash := sha256.Sum256(content)

	return FileEntry{
		Path:    path,
		RelPath: filepath.ToSlash(relPath),
		Format:  format,
		Content: content,
		SHA256:  hex.EncodeToString(hash[:]),
	}, nil
}

// isIncluded reports whether relPath matches an include pattern and no
// ignore pattern.
func isIncluded(relPath string, patterns []string, matcher gitignore.Matcher) bool {
	if matcher != nil && matcher.Match(splitPath(relPath), false) {
		return false
	}
	slashed := filepath.ToSlash(relPath)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, slashed); ok {
			return true
		}
	}
	return false
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// loadIgnoreFiles reads .gitignore and the extra ignore file from root.
// Missing files are not an error.
func loadIgnoreFiles(root, ignoreFile string) ([]gitignore.Pattern, error) {
	names := []string{".gitignore"}
	if ignoreFile != "" && ignoreFile != ".gitignore" {
		names = append(names, ignoreFile)
	}

	var patterns []gitignore.Pattern
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(root, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}
	return patterns, nil
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, root string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}
	if matcher == nil {
		return false
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(filepath.ToSlash(path), "/")
}
