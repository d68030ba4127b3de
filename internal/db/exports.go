package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/models"
)

const exportColumns = `
	id, project_id, format, fps, resolution, subtitles, allow_realtime_fallback,
	trailing_clip_path, phase, percent, message, eta_seconds, backend, partial,
	filename, storage_path, error_message, created_at, updated_at
`

func scanExport(row interface{ Scan(...interface{}) error }, e *models.Export) error {
	return row.Scan(
		&e.ID, &e.ProjectID, &e.Format, &e.FPS, &e.Resolution, &e.Subtitles,
		&e.AllowRealtimeFallback, &e.TrailingClipPath, &e.Phase, &e.Percent,
		&e.Message, &e.ETASeconds, &e.Backend, &e.Partial, &e.Filename,
		&e.StoragePath, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
}

func (db *DB) CreateExport(ctx context.Context, export *models.Export) error {
	query := `
		INSERT INTO exports (
			id, project_id, format, fps, resolution, subtitles,
			allow_realtime_fallback, trailing_clip_path, phase, percent, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		export.ID, export.ProjectID, export.Format, export.FPS, export.Resolution,
		export.Subtitles, export.AllowRealtimeFallback, export.TrailingClipPath,
		export.Phase, export.Percent, export.Message,
	).Scan(&export.CreatedAt, &export.UpdatedAt)
}

func (db *DB) GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`

	export := &models.Export{}
	err := scanExport(db.QueryRowContext(ctx, query, id), export)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("export not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}

	return export, nil
}

// ListProjectExports returns a project's exports, newest first.
func (db *DB) ListProjectExports(ctx context.Context, projectID uuid.UUID) ([]models.Export, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	defer rows.Close()

	var exports []models.Export
	for rows.Next() {
		var e models.Export
		if err := scanExport(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		exports = append(exports, e)
	}

	return exports, rows.Err()
}

// UpdateExportProgress mirrors one progress event onto the export row.
func (db *DB) UpdateExportProgress(ctx context.Context, id uuid.UUID, ev models.ProgressEvent) error {
	query := `
		UPDATE exports
		SET phase = $1, percent = $2, message = $3, eta_seconds = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, ev.Phase, ev.Percent, ev.Message, ev.ETASeconds, id)
	return err
}

func (db *DB) SetExportBackend(ctx context.Context, id uuid.UUID, backend string) error {
	query := `UPDATE exports SET backend = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, backend, id)
	return err
}

// SetExportResult records where the finished (or partial) file was stored.
func (db *DB) SetExportResult(ctx context.Context, id uuid.UUID, phase models.ExportPhase, filename, storagePath string, partial bool) error {
	query := `
		UPDATE exports
		SET phase = $1, filename = $2, storage_path = $3, partial = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, phase, filename, storagePath, partial, id)
	return err
}

func (db *DB) SetExportError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE exports
		SET phase = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.ExportPhaseError, errorMessage, id)
	return err
}
