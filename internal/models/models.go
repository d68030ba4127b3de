package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type MediaMode string

const (
	MediaModeImage MediaMode = "image"
	MediaModeVideo MediaMode = "video"
)

type ClipStatus string

const (
	ClipStatusPending    ClipStatus = "pending"
	ClipStatusProcessing ClipStatus = "processing"
	ClipStatusCompleted  ClipStatus = "completed"
	ClipStatusFailed     ClipStatus = "failed"
)

// ExportPhase is the lifecycle state of one export session.
type ExportPhase string

const (
	ExportPhaseIdle      ExportPhase = "idle"
	ExportPhaseLoading   ExportPhase = "loading"
	ExportPhaseMixing    ExportPhase = "mixing"
	ExportPhaseEncoding  ExportPhase = "encoding"
	ExportPhaseDone      ExportPhase = "done"
	ExportPhaseCancelled ExportPhase = "cancelled"
	ExportPhaseError     ExportPhase = "error"
)

// Terminal reports whether no further transitions can happen from p.
func (p ExportPhase) Terminal() bool {
	return p == ExportPhaseDone || p == ExportPhaseCancelled || p == ExportPhaseError
}

type ExportFormat string

const (
	ExportFormatMP4  ExportFormat = "mp4"
	ExportFormatWebM ExportFormat = "webm"
	ExportFormatAVI  ExportFormat = "avi" // realtime capture fallback only
)

// ContentType returns the MIME type used when the file is uploaded or served.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatWebM:
		return "video/webm"
	case ExportFormatAVI:
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}

// Resolution is a fixed 9:16 render profile.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var (
	Resolution1080p = Resolution{Width: 1080, Height: 1920}
	Resolution720p  = Resolution{Width: 720, Height: 1280}
)

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution maps a profile name ("1080p", "720p" or "WxH") to a supported
// resolution. Anything unrecognised falls back to 1080p.
func ParseResolution(s string) Resolution {
	switch s {
	case "720p", "720", "720x1280":
		return Resolution720p
	default:
		return Resolution1080p
	}
}

// WordTiming locates one narration word inside its scene, in seconds.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordTimings is stored as a JSONB column on scenes.
type WordTimings []WordTiming

func (w WordTimings) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	return json.Marshal(w)
}

func (w *WordTimings) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported word timings type %T", value)
	}
	return json.Unmarshal(data, w)
}

// Models

type Project struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	Title              string     `json:"title"`
	BackgroundMusicURL *string    `json:"background_music_url,omitempty"`
	MusicVolume        *float64   `json:"music_volume,omitempty"` // nil = engine default (0.12)
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Scene is one narrated unit of the output video. Read-only for the duration
// of an export session.
type Scene struct {
	ID           uuid.UUID   `json:"id"`
	ProjectID    uuid.UUID   `json:"project_id"`
	SceneIndex   int         `json:"scene_index"`
	Text         string      `json:"text"`
	WordTimings  WordTimings `json:"word_timings,omitempty"`
	DurationHint float64     `json:"duration_hint"` // seconds, 0 = unknown
	ImageURL     string      `json:"image_url"`
	AudioURL     string      `json:"audio_url"`
	ClipURL      string      `json:"clip_url,omitempty"`
	ClipStatus   ClipStatus  `json:"clip_status,omitempty"`
	MediaMode    MediaMode   `json:"media_mode,omitempty"` // empty = prefer clip
	FocusX       float64     `json:"focus_x"`              // horizontal framing bias, 0-100
}

// WantsClip reports whether the scene should render from its motion clip.
func (s Scene) WantsClip() bool {
	return s.MediaMode != MediaModeImage && s.ClipStatus == ClipStatusCompleted && s.ClipURL != ""
}

// HasVisual reports whether the scene has any visual asset to draw.
func (s Scene) HasVisual() bool {
	return s.ImageURL != "" || s.WantsClip()
}

// Export is the persisted record of one export session.
type Export struct {
	ID                    uuid.UUID    `json:"id"`
	ProjectID             uuid.UUID    `json:"project_id"`
	Format                ExportFormat `json:"format"`
	FPS                   int          `json:"fps"`
	Resolution            string       `json:"resolution"`
	Subtitles             bool         `json:"subtitles"`
	AllowRealtimeFallback bool         `json:"allow_realtime_fallback"`
	TrailingClipPath      *string      `json:"trailing_clip_path,omitempty"`
	Phase                 ExportPhase  `json:"phase"`
	Percent               float64      `json:"percent"`
	Message               string       `json:"message"`
	ETASeconds            *float64     `json:"eta_seconds,omitempty"`
	Backend               *string      `json:"backend,omitempty"`
	Partial               bool         `json:"partial"`
	Filename              *string      `json:"filename,omitempty"`
	StoragePath           *string      `json:"storage_path,omitempty"`
	ErrorMessage          *string      `json:"error_message,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// DTOs for API requests/responses

type CreateExportRequest struct {
	Format                *string `json:"format,omitempty"`     // Default: "mp4"
	FPS                   *int    `json:"fps,omitempty"`        // Default: 30
	Resolution            *string `json:"resolution,omitempty"` // Default: "1080p"
	Subtitles             *bool   `json:"subtitles,omitempty"`  // Default: true
	AllowRealtimeFallback bool    `json:"allow_realtime_fallback"`
	TrailingClipPath      *string `json:"trailing_clip_path,omitempty"`
}

type CreateExportResponse struct {
	ExportID uuid.UUID   `json:"export_id"`
	Phase    ExportPhase `json:"phase"`
}

type ExportResponse struct {
	Export
	DownloadURL *string `json:"download_url,omitempty"`
}

// ProgressEvent is the wire form of one entry in a session's event stream.
type ProgressEvent struct {
	Seq        int         `json:"seq"`
	Phase      ExportPhase `json:"phase"`
	Percent    float64     `json:"percent"`
	Message    string      `json:"message"`
	ETASeconds *float64    `json:"eta_seconds,omitempty"`
	At         time.Time   `json:"at"`
}
