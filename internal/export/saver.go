package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/bobarin/reelcut/internal/models"
)

const (
	maxFilenameRunes = 50
	fallbackFilename = "export"
)

// SanitizeFilename derives a download name from a project title: spaces
// become underscores, every other non-alphanumeric rune is dropped, and the
// result is capped at 50 runes.
func SanitizeFilename(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(title) {
		if n == maxFilenameRunes {
			break
		}
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			continue
		}
		n++
	}
	if b.Len() == 0 || strings.Trim(b.String(), "_") == "" {
		return fallbackFilename
	}
	return b.String()
}

// Artifact is an encoded file ready to be persisted.
type Artifact struct {
	Path      string
	AudioPath string // realtime capture sidecar, empty otherwise
	Filename  string // sanitized name including extension
	Format    models.ExportFormat
	Partial   bool
}

// Saver persists a finished artifact and returns where it went.
type Saver interface {
	Save(ctx context.Context, a Artifact) (string, error)
}

// LocalSaver moves artifacts into a directory on this host.
type LocalSaver struct {
	Dir string
}

func (s LocalSaver) Save(ctx context.Context, a Artifact) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	dst := uniquePath(filepath.Join(s.Dir, a.Filename))
	if err := moveFile(a.Path, dst); err != nil {
		return "", err
	}
	if a.AudioPath != "" {
		audioDst := strings.TrimSuffix(dst, filepath.Ext(dst)) + filepath.Ext(a.AudioPath)
		if err := moveFile(a.AudioPath, audioDst); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// uniquePath appends _1, _2, ... until p does not exist.
func uniquePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	os.Remove(src)
	return nil
}
