package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bobarin/reelcut/internal/export"
	"github.com/bobarin/reelcut/internal/models"
)

// Manifest describes one export run from the command line.
type Manifest struct {
	Title                 string          `yaml:"title"`
	FPS                   int             `yaml:"fps"`
	Resolution            string          `yaml:"resolution"`
	Format                string          `yaml:"format"`
	Subtitles             *bool           `yaml:"subtitles"` // default true
	AllowRealtimeFallback bool            `yaml:"allow_realtime_fallback"`
	Music                 string          `yaml:"music"`
	MusicVolume           *float64        `yaml:"music_volume"`
	TrailingClip          string          `yaml:"trailing_clip"`
	Scenes                []SceneManifest `yaml:"scenes"`
}

// SceneManifest is one scene entry. Asset fields take URLs or paths
// relative to the manifest file.
type SceneManifest struct {
	Text      string              `yaml:"text"`
	Image     string              `yaml:"image"`
	Audio     string              `yaml:"audio"`
	Clip      string              `yaml:"clip"`
	MediaMode string              `yaml:"media_mode"`
	FocusX    *float64            `yaml:"focus_x"` // default 50
	Duration  float64             `yaml:"duration"`
	Words     []models.WordTiming `yaml:"words"`
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	m.resolvePaths(filepath.Dir(path))
	return &m, nil
}

func (m *Manifest) validate() error {
	var errs []error
	if len(m.Scenes) == 0 {
		errs = append(errs, errors.New("at least one scene is required"))
	}
	if m.FPS != 0 && m.FPS != 30 && m.FPS != 60 {
		errs = append(errs, fmt.Errorf("fps must be 30 or 60, got %d", m.FPS))
	}
	switch m.Format {
	case "", "mp4", "webm":
	default:
		errs = append(errs, fmt.Errorf("format must be mp4 or webm, got %q", m.Format))
	}
	if m.MusicVolume != nil && (*m.MusicVolume < 0 || *m.MusicVolume > 1) {
		errs = append(errs, fmt.Errorf("music_volume must be between 0 and 1"))
	}
	for i, s := range m.Scenes {
		switch s.MediaMode {
		case "", string(models.MediaModeImage), string(models.MediaModeVideo):
		default:
			errs = append(errs, fmt.Errorf("scene %d: media_mode must be image or video", i))
		}
	}
	return errors.Join(errs...)
}

// resolvePaths makes relative asset paths relative to dir.
func (m *Manifest) resolvePaths(dir string) {
	m.Music = resolve(dir, m.Music)
	m.TrailingClip = resolve(dir, m.TrailingClip)
	for i := range m.Scenes {
		s := &m.Scenes[i]
		s.Image = resolve(dir, s.Image)
		s.Audio = resolve(dir, s.Audio)
		s.Clip = resolve(dir, s.Clip)
	}
}

func resolve(dir, ref string) string {
	if ref == "" || strings.Contains(ref, "://") || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}

// Request converts the manifest into an export request.
func (m *Manifest) Request() export.Request {
	projectID := uuid.New()
	scenes := make([]models.Scene, len(m.Scenes))
	for i, s := range m.Scenes {
		focus := 50.0
		if s.FocusX != nil {
			focus = *s.FocusX
		}
		scenes[i] = models.Scene{
			ID:           uuid.New(),
			ProjectID:    projectID,
			SceneIndex:   i,
			Text:         s.Text,
			WordTimings:  s.Words,
			DurationHint: s.Duration,
			ImageURL:     s.Image,
			AudioURL:     s.Audio,
			ClipURL:      s.Clip,
			MediaMode:    models.MediaMode(s.MediaMode),
			FocusX:       focus,
		}
		if s.Clip != "" {
			scenes[i].ClipStatus = models.ClipStatusCompleted
		}
	}

	subtitles := true
	if m.Subtitles != nil {
		subtitles = *m.Subtitles
	}

	return export.Request{
		Title:                 m.Title,
		Scenes:                scenes,
		MusicURL:              m.Music,
		MusicVolume:           m.MusicVolume,
		TrailingClipPath:      m.TrailingClip,
		Subtitles:             subtitles,
		FPS:                   m.FPS,
		Resolution:            models.ParseResolution(m.Resolution),
		Format:                models.ExportFormat(m.Format),
		AllowRealtimeFallback: m.AllowRealtimeFallback,
	}
}
