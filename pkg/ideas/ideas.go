// Package ideas manages the queue of user-supplied idea documents that seed
// planning. Ideas are markdown files dropped into a directory and archived
// exactly once, after the plan derived from them is durably written.
package ideas

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"devloop/pkg/logx"
)

// Idea is one queued document, content capped at load time.
type Idea struct {
	Path     string
	Filename string
	Content  string
}

// Queue is the on-disk idea directory and its archive.
type Queue struct {
	dir        string
	archiveDir string
	maxBytes   int
	logger     *logx.Logger
}

// NewQueue creates a queue over dir, archiving consumed ideas to archiveDir.
// maxBytes caps idea content; oversized files are truncated, not rejected.
func NewQueue(dir, archiveDir string, maxBytes int) *Queue {
	return &Queue{
		dir:        dir,
		archiveDir: archiveDir,
		maxBytes:   maxBytes,
		logger:     logx.NewLogger("ideas"),
	}
}

// List returns every pending idea, sorted by filename for stable ordering.
// A missing queue directory is an empty queue, not an error.
func (q *Queue) List() ([]Idea, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ideas directory: %w", err)
	}

	var ideas []Idea
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		idea, err := q.Load(entry.Name())
		if err != nil {
			q.logger.Warn("skipping unreadable idea %s: %v", entry.Name(), err)
			continue
		}
		ideas = append(ideas, idea)
	}

	sort.Slice(ideas, func(i, j int) bool { return ideas[i].Filename < ideas[j].Filename })
	return ideas, nil
}

// Load reads a single idea by filename, applying the content cap. Used both
// by List and to re-pin an idea recovered from persisted state.
func (q *Queue) Load(filename string) (Idea, error) {
	path := filepath.Join(q.dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return Idea{}, fmt.Errorf("read idea: %w", err)
	}

	content := string(data)
	if q.maxBytes > 0 && len(content) > q.maxBytes {
		q.logger.Warn("idea %s is %d bytes, truncating to %d", filename, len(content), q.maxBytes)
		content = content[:q.maxBytes]
	}

	return Idea{Path: path, Filename: filename, Content: content}, nil
}

// Archive moves a consumed idea into the archive directory, falling back to
// deletion if the move fails. Call only after the plan is durably written.
func (q *Queue) Archive(filename string) error {
	src := filepath.Join(q.dir, filename)
	if err := os.MkdirAll(q.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	dst := filepath.Join(q.archiveDir, filename)
	if _, err := os.Stat(dst); err == nil {
		// A same-named idea was archived before; keep both.
		dst = filepath.Join(q.archiveDir, uniqueName(q.archiveDir, filename))
	}

	if err := os.Rename(src, dst); err != nil {
		q.logger.Warn("archive %s failed (%v), deleting instead", filename, err)
		if rmErr := os.Remove(src); rmErr != nil {
			return fmt.Errorf("archive and delete both failed: %w", rmErr)
		}
	}
	return nil
}

func uniqueName(dir, filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

var selectionRe = regexp.MustCompile(`SELECTED_IDEA:\s*(\d+)`)

// ParseSelection extracts the 1-based index from a selection response and
// returns it 0-based. ok is false when the token is missing, unparseable,
// or out of range for count ideas; the caller falls back to autonomous
// planning in that case.
func ParseSelection(response string, count int) (int, bool) {
	match := selectionRe.FindStringSubmatch(response)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}
