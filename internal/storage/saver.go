package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/export"
)

// ExportSaver uploads an export's artifacts under one project/export prefix
// and removes the local copies once they are stored.
type ExportSaver struct {
	Storage   *Storage
	ProjectID uuid.UUID
	ExportID  uuid.UUID
}

var _ export.Saver = (*ExportSaver)(nil)

func (s *ExportSaver) Save(ctx context.Context, a export.Artifact) (string, error) {
	key := ExportPath(s.ProjectID, s.ExportID, a.Filename)
	if err := s.Storage.UploadFile(ctx, key, a.Path, a.Format.ContentType()); err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}
	os.Remove(a.Path)

	if a.AudioPath != "" {
		audioKey := strings.TrimSuffix(key, filepath.Ext(key)) + filepath.Ext(a.AudioPath)
		if err := s.Storage.UploadFile(ctx, audioKey, a.AudioPath, "audio/wav"); err != nil {
			return "", fmt.Errorf("failed to upload audio sidecar: %w", err)
		}
		os.Remove(a.AudioPath)
	}

	return key, nil
}
