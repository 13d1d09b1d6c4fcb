// Package router implements the inbound message router (SPEC_FULL.md §4.7):
// dispatching platform messages to the right agent instance, the privileged
// !shell escape hatch, and the attachment download cache.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttachmentCache writes downloaded chat attachments under
// <projectPath>/.discode/files/ with timestamp-prefixed, collision-resistant
// names, and prunes the directory down to the most recent N files.
// Fetching the bytes themselves is the caller's responsibility (file
// downloading internals are out of scope here); this type only owns the
// on-disk write and rotation.
type AttachmentCache struct {
	MaxFiles int
}

// NewAttachmentCache builds a cache that retains at most maxFiles entries.
func NewAttachmentCache(maxFiles int) *AttachmentCache {
	if maxFiles <= 0 {
		maxFiles = 100
	}
	return &AttachmentCache{MaxFiles: maxFiles}
}

func (c *AttachmentCache) dir(projectPath string) string {
	return filepath.Join(projectPath, ".discode", "files")
}

// Save atomically writes data to the cache directory under a name derived
// from origName, then rotates the directory down to MaxFiles entries.
// Returns the absolute path of the written file.
func (c *AttachmentCache) Save(projectPath, origName string, data []byte) (string, error) {
	dir := c.dir(projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir attachment cache: %w", err)
	}

	name := sanitizeFilename(origName)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	stamped := fmt.Sprintf("%d-%s-%s%s", time.Now().UnixMilli(), base, shortUUID(), ext)
	dest := filepath.Join(dir, stamped)

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment temp: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename attachment: %w", err)
	}

	if err := c.rotate(dir); err != nil {
		return dest, err
	}
	return dest, nil
}

// rotate removes the oldest files in dir until at most MaxFiles remain.
func (c *AttachmentCache) rotate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read attachment cache dir: %w", err)
	}
	if len(entries) <= c.MaxFiles {
		return nil
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	excess := len(files) - c.MaxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(filepath.Join(dir, files[i].name))
	}
	return nil
}

// sanitizeFilename strips path separators and other characters that could
// escape the cache directory or confuse shells.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "file"
	}
	return out
}

func shortUUID() string {
	id := uuid.New().String()
	return id[:8]
}
