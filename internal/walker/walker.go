// Package walker implements the source discovery half of the indexer (C2):
// walking a project root, applying include/exclude patterns and VCS-ignore
// rules, and streaming back the files eligible for chunking.
package walker

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/korrel8/semcode/internal/gitignore"
	"github.com/korrel8/semcode/internal/semerr"
)

// gitignoreCacheSize bounds the number of parsed gitignore matchers kept per
// Walker, mirroring the teacher's scanner cache.
const gitignoreCacheSize = 1000

// DefaultMaxFileSize is applied when Options.MaxFileSize is unset.
const DefaultMaxFileSize = 10 * 1024 * 1024

// File is one discovered, eligible source file.
type File struct {
	Path     string // relative to root
	AbsPath  string
	Size     int64
	ModTime  int64 // unix millis
	Language string
}

// Result is streamed from Walk's channel: either a File or a non-fatal Error
// encountered while reading it.
type Result struct {
	File  *File
	Error error
}

// Options configures a single Walk call.
type Options struct {
	Root             string
	IncludePatterns  []string
	ExcludePatterns  []string
	RespectGitignore bool
	FollowSymlinks   bool
	MaxFileSize      int64
	Workers          int
}

// Walker discovers files under a root directory, reusing parsed gitignore
// matchers across calls.
type Walker struct {
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu        sync.RWMutex
}

// New constructs a Walker.
func New() (*Walker, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return &Walker{gitignoreCache: cache}, nil
}

// Walk streams eligible files under opts.Root. The returned channel is
// closed when the walk completes or ctx is cancelled. Symlink cycles are
// bounded by tracking visited (device, inode) pairs, closing a gap the
// teacher's own walker leaves open.
func (w *Walker) Walk(ctx context.Context, opts Options) (<-chan Result, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInvalidPath, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	if !info.IsDir() {
		return nil, semerr.New(semerr.ErrCodeInvalidPath, "root path is not a directory: "+absRoot, nil)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan Result, workers*10)
	visited := newVisitedSet()

	go func() {
		defer close(results)
		w.walk(ctx, absRoot, opts, maxFileSize, visited, results)
	}()

	return results, nil
}

// walk recurses manually rather than using filepath.WalkDir, so that
// directory symlinks can be optionally followed while still bounding cycles
// via visited, a gap the teacher's filepath.WalkDir-based scanner leaves
// open (it never follows directory symlinks at all).
func (w *Walker) walk(ctx context.Context, absRoot string, opts Options, maxFileSize int64, visited *visitedSet, results chan<- Result) {
	rootInfo, err := os.Stat(absRoot)
	if err != nil {
		select {
		case results <- Result{Error: err}:
		case <-ctx.Done():
		}
		return
	}
	visited.visitDir(rootInfo)
	w.walkDir(ctx, absRoot, absRoot, opts, maxFileSize, visited, results)
}

func (w *Walker) walkDir(ctx context.Context, absRoot, dir string, opts Options, maxFileSize int64, visited *visitedSet, results chan<- Result) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		select {
		case results <- Result{Error: err}:
		case <-ctx.Done():
		}
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		path := filepath.Join(dir, entry.Name())
		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			continue
		}

		isSymlink := entry.Type()&fs.ModeSymlink != 0
		info, statErr := entry.Info()
		isDir := entry.IsDir()

		if isSymlink {
			if !opts.FollowSymlinks {
				continue
			}
			target, err := os.Stat(path) // follows the link
			if err != nil {
				continue
			}
			info = target
			isDir = target.IsDir()
		}
		if statErr != nil && !isSymlink {
			continue
		}

		if isDir {
			if shouldExcludeDir(relPath, opts.ExcludePatterns) {
				continue
			}
			if !visited.visitDir(info) {
				continue // symlink cycle back to an ancestor
			}
			w.walkDir(ctx, absRoot, path, opts, maxFileSize, visited, results)
			continue
		}

		if shouldExcludeFile(relPath, opts.ExcludePatterns) {
			continue
		}
		if len(opts.IncludePatterns) > 0 && !matchesAny(relPath, opts.IncludePatterns) {
			continue
		}
		if opts.RespectGitignore && w.isGitignored(relPath, absRoot) {
			continue
		}
		if info.Size() > maxFileSize {
			continue
		}
		if isBinary(path) {
			continue
		}

		file := &File{
			Path:     relPath,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime().UnixMilli(),
			Language: DetectLanguage(relPath),
		}

		select {
		case results <- Result{File: file}:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Walker) isGitignored(relPath, absRoot string) bool {
	rootMatcher := w.getGitignoreMatcher(absRoot, "")
	if rootMatcher != nil && rootMatcher.Match(relPath, false) {
		return true
	}

	parts := strings.Split(filepath.Dir(relPath), string(filepath.Separator))
	currentDir := absRoot
	currentBase := ""
	for _, part := range parts {
		if part == "." {
			continue
		}
		currentDir = filepath.Join(currentDir, part)
		if currentBase == "" {
			currentBase = part
		} else {
			currentBase = filepath.Join(currentBase, part)
		}
		matcher := w.getGitignoreMatcher(currentDir, currentBase)
		if matcher != nil && matcher.Match(relPath, false) {
			return true
		}
	}
	return false
}

func (w *Walker) getGitignoreMatcher(dir, base string) *gitignore.Matcher {
	w.cacheMu.RLock()
	matcher, ok := w.gitignoreCache.Get(dir)
	w.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		return nil
	}
	matcher = gitignore.New()
	if err := matcher.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}

	w.cacheMu.Lock()
	w.gitignoreCache.Add(dir, matcher)
	w.cacheMu.Unlock()
	return matcher
}

func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
}

func shouldExcludeDir(relPath string, patterns []string) bool {
	for _, p := range defaultExcludeDirs {
		if matchDirPattern(relPath, p) {
			return true
		}
	}
	for _, p := range patterns {
		if matchDirPattern(relPath, p) {
			return true
		}
	}
	return false
}

func shouldExcludeFile(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, p := range patterns {
		if matchFilePattern(baseName, relPath, p) {
			return true
		}
	}
	return false
}

func matchesAny(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, p := range patterns {
		if matchFilePattern(baseName, relPath, p) {
			return true
		}
	}
	return false
}

func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		suffix = strings.TrimSuffix(suffix, "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

func matchFilePattern(baseName, relPath, pattern string) bool {
	// A leading "**/" means "at any depth"; file patterns match the base name.
	pattern = strings.TrimPrefix(pattern, "**/")
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	return baseName == pattern
}
