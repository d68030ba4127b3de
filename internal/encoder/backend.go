// Package encoder turns composited frames and the session mixdown into a
// video file. Two strategies exist: a deterministic, seek-per-frame encoder
// driving ffmpeg, and a wall-clock capture fallback that needs no external
// binary.
package encoder

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
)

const (
	BackendDeterministic = "deterministic"
	BackendRealtime      = "realtime"
)

// ErrNoFrames is returned when a sink is finalized before any frame was written.
var ErrNoFrames = errors.New("no frames encoded")

// Renderer is the frame source an encoder drives.
type Renderer interface {
	// SeekTo positions the media visible at t and returns the sources to
	// wait on.
	SeekTo(t float64) []*media.ClipSource
	// Draw renders the frame at t. The image is only valid until the next call.
	Draw(t float64) *image.RGBA
}

// Job is one encode request.
type Job struct {
	Renderer Renderer
	Mixdown  *audio.Buffer
	Frames   int // total output frames
	FPS      int
	Width    int
	Height   int
	Format   models.ExportFormat
	// OutputPath is the destination without extension; backends add their own.
	OutputPath string

	// Cancelled is polled at least once per frame or tick.
	Cancelled func() bool
	// Progress, when set, is called after every submitted frame.
	Progress func(done, total int)
}

func (j Job) cancelled() bool {
	return j.Cancelled != nil && j.Cancelled()
}

func (j Job) progress(done int) {
	if j.Progress != nil {
		j.Progress(done, j.Frames)
	}
}

// Result describes the produced file.
type Result struct {
	Backend   string
	Path      string // empty when nothing was kept
	AudioPath string // realtime sidecar audio
	Format    models.ExportFormat
	Frames    int
	Duration  float64
	Cancelled bool
	Partial   bool
}

// Backend is one encode strategy.
type Backend interface {
	Name() string
	Encode(ctx context.Context, job Job) (*Result, error)
}

// withExt replaces any extension on p with ext.
func withExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + "." + ext
}
