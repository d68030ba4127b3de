package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/models"
)

// GetProjectScenes returns the project's scenes in playback order.
func (db *DB) GetProjectScenes(ctx context.Context, projectID uuid.UUID) ([]models.Scene, error) {
	query := `
		SELECT
			id, project_id, scene_index, text, word_timings, duration_hint,
			image_url, audio_url, COALESCE(clip_url, ''), COALESCE(clip_status, ''),
			COALESCE(media_mode, ''), focus_x
		FROM scenes
		WHERE project_id = $1
		ORDER BY scene_index
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.Scene
	for rows.Next() {
		var s models.Scene
		err := rows.Scan(
			&s.ID, &s.ProjectID, &s.SceneIndex, &s.Text, &s.WordTimings,
			&s.DurationHint, &s.ImageURL, &s.AudioURL, &s.ClipURL,
			&s.ClipStatus, &s.MediaMode, &s.FocusX,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		scenes = append(scenes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scenes: %w", err)
	}

	return scenes, nil
}
