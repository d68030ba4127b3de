// Package export runs export sessions: it probes the encoder, prepares the
// scene assets, mixes the soundtrack, encodes the video and persists the
// result, reporting progress as one ordered event stream per session.
package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/encoder"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
	"github.com/bobarin/reelcut/internal/render"
	"github.com/bobarin/reelcut/internal/scene"
)

// Progress bands per phase, in percent.
const (
	loadingStart  = 0.0
	loadingEnd    = 30.0
	mixingEnd     = 35.0
	encodingEnd   = 98.0
	encodingSpan  = encodingEnd - mixingEnd
	minETAElapsed = 500 * time.Millisecond
)

// ErrNoVisual is reported by callers when StartExport declines a request
// because nothing could be drawn.
var ErrNoVisual = errors.New("no scene has a usable visual asset")

// Loader is what a session needs from the asset loader.
type Loader interface {
	scene.AssetLoader
	LoadAudioFile(ctx context.Context, path string) *audio.Buffer
}

// LoaderFactory builds a loader whose scratch files live under scratchDir.
type LoaderFactory func(scratchDir string) Loader

// BackendFactory builds the encoder backend selected by the capability probe.
type BackendFactory func(choice encoder.Choice, scratchDir string, logger zerolog.Logger) encoder.Backend

// Request describes one export.
type Request struct {
	ID                    uuid.UUID // optional, generated when nil
	Title                 string
	Scenes                []models.Scene
	MusicURL              string
	MusicVolume           *float64 // nil = controller default
	TrailingClipPath      string
	Subtitles             bool
	FPS                   int
	Resolution            models.Resolution
	Format                models.ExportFormat
	AllowRealtimeFallback bool
}

func (r Request) withDefaults() Request {
	if r.FPS != 60 {
		r.FPS = 30
	}
	if r.Resolution.Width <= 0 || r.Resolution.Height <= 0 {
		r.Resolution = models.Resolution1080p
	}
	if r.Format != models.ExportFormatWebM {
		r.Format = models.ExportFormatMP4
	}
	return r
}

// Options wires a Controller.
type Options struct {
	NewLoader   LoaderFactory
	Aligner     scene.Aligner // optional
	Environment func(ctx context.Context) encoder.Environment
	NewBackend  BackendFactory // nil = DefaultBackends
	Saver       Saver
	ScratchDir  string // parent of per-session scratch dirs, "" = os.TempDir()
	MusicGain   float64
	SeekTimeout time.Duration
	Logger      zerolog.Logger
}

// Controller owns at most one running session.
type Controller struct {
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	active *Session
}

func NewController(opts Options) *Controller {
	if opts.NewBackend == nil {
		opts.NewBackend = DefaultBackends(opts.SeekTimeout)
	}
	if opts.Saver == nil {
		opts.Saver = LocalSaver{Dir: "."}
	}
	return &Controller{
		opts: opts,
		log:  opts.Logger.With().Str("component", "export").Logger(),
	}
}

// DefaultBackends returns a factory for the ffmpeg-backed deterministic
// encoder and the MJPEG capture fallback.
func DefaultBackends(seekTimeout time.Duration) BackendFactory {
	return func(choice encoder.Choice, scratchDir string, logger zerolog.Logger) encoder.Backend {
		if choice.Backend == encoder.BackendRealtime {
			return encoder.NewRealtime(logger)
		}
		d := encoder.NewDeterministic(choice.Capability, scratchDir, logger)
		if seekTimeout > 0 {
			d.SeekTimeout = seekTimeout
		}
		return d
	}
}

// Active returns the running session, if any.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// StartExport starts a session in the background. It returns false without
// doing anything when no scene has a visual asset or a session is already
// running.
func (c *Controller) StartExport(ctx context.Context, req Request) (*Session, bool) {
	if !lo.SomeBy(req.Scenes, func(s models.Scene) bool { return s.HasVisual() }) {
		c.log.Warn().Int("scenes", len(req.Scenes)).Msg("Export not started: no scene has a visual asset")
		return nil, false
	}

	c.mu.Lock()
	if c.active != nil {
		running := c.active.ID
		c.mu.Unlock()
		c.log.Warn().Str("export_id", running.String()).Msg("Export not started: another export is running")
		return nil, false
	}
	s := newSession(req.ID)
	c.active = s
	c.mu.Unlock()

	go c.run(ctx, s, req.withDefaults())
	return s, true
}

// CancelExport flags the running session for cancellation. It reports
// whether there was one.
func (c *Controller) CancelExport() bool {
	s := c.Active()
	if s == nil {
		return false
	}
	s.Cancel()
	c.log.Info().Str("export_id", s.ID.String()).Msg("Export cancellation requested")
	return true
}

func (c *Controller) run(ctx context.Context, s *Session, req Request) {
	log := c.log.With().Str("export_id", s.ID.String()).Logger()
	start := time.Now()
	out, msg := c.execute(ctx, s, req, log)
	if out.Err != nil {
		log.Error().Err(out.Err).Str("phase", string(out.Phase)).Msg("Export failed")
	} else {
		log.Info().
			Str("phase", string(out.Phase)).
			Str("backend", out.Backend).
			Int("frames", out.Frames).
			Bool("partial", out.Partial).
			Dur("elapsed", time.Since(start)).
			Msg("Export finished")
	}

	// The slot is released before the terminal event so that anyone woken by
	// it can start the next export.
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
	s.finish(out, msg)
}

// execute runs one session to a terminal outcome. Everything acquired here
// is released by defers on every return path.
func (c *Controller) execute(ctx context.Context, s *Session, req Request, log zerolog.Logger) (Outcome, string) {
	fail := func(err error) (Outcome, string) {
		return Outcome{Phase: models.ExportPhaseError, Err: err}, err.Error()
	}
	cancelled := func(msg string) (Outcome, string) {
		return Outcome{Phase: models.ExportPhaseCancelled}, msg
	}

	// -----------------------------------------------------------------
	// Capability probe
	// -----------------------------------------------------------------
	var env encoder.Environment
	if c.opts.Environment != nil {
		env = c.opts.Environment(ctx)
	}
	choice, err := encoder.Choose(env, req.Format, req.AllowRealtimeFallback)
	if err != nil {
		return fail(err)
	}
	if choice.Reason != nil {
		log.Warn().Err(choice.Reason).Msg("Deterministic encoder unavailable, using realtime capture")
	}

	scratch, err := os.MkdirTemp(c.opts.ScratchDir, "export-*")
	if err != nil {
		return fail(fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	// -----------------------------------------------------------------
	// Loading
	// -----------------------------------------------------------------
	s.emit(models.ExportPhaseLoading, loadingStart, "Loading assets", nil)
	loader := c.opts.NewLoader(scratch)

	var music *audio.Buffer
	if req.MusicURL != "" {
		music = loader.LoadAudio(ctx, req.MusicURL)
		if music == nil {
			log.Warn().Str("url", req.MusicURL).Msg("Background music unavailable, exporting without it")
		}
	}

	var trailing *media.ClipSource
	var trailingAudio *audio.Buffer
	if req.TrailingClipPath != "" {
		clip, err := loader.OpenClip(ctx, req.TrailingClipPath)
		if err != nil {
			log.Warn().Err(err).Str("path", req.TrailingClipPath).Msg("Trailing clip unavailable, exporting without it")
		} else {
			trailing = clip
			defer trailing.Close()
			if clip.Info().HasAudio {
				trailingAudio = loader.LoadAudioFile(ctx, clip.Path())
			}
		}
	}
	s.emit(models.ExportPhaseLoading, 5, fmt.Sprintf("Preparing %d scenes", len(req.Scenes)), nil)

	arena, err := scene.NewPreparer(loader, c.opts.Aligner, log).Prepare(ctx, req.Scenes)
	if err != nil {
		if s.Cancelled() || ctx.Err() != nil {
			return cancelled("Export cancelled")
		}
		return fail(err)
	}
	defer arena.Close()
	if !arena.HasVisual() {
		log.Warn().Msg("Every visual asset failed to load, frames will be blank")
	}
	if s.Cancelled() {
		return cancelled("Export cancelled")
	}
	s.emit(models.ExportPhaseLoading, loadingEnd, fmt.Sprintf("Prepared %d scenes", arena.Len()), nil)

	// -----------------------------------------------------------------
	// Mixing
	// -----------------------------------------------------------------
	var trailingDur float64
	if trailing != nil {
		trailingDur = trailing.Duration()
	}
	tl := scene.NewTimeline(arena, trailingDur)

	s.emit(models.ExportPhaseMixing, loadingEnd, "Mixing audio", nil)
	gain := c.opts.MusicGain
	if req.MusicVolume != nil {
		gain = *req.MusicVolume
	}
	mixdown := audio.NewMixer(gain).Mix(tl.MixInput(arena, music, trailingAudio))
	log.Debug().Float64("total", tl.Total).Int("samples", mixdown.Frames()).Msg("Mixdown ready")
	if s.Cancelled() {
		return cancelled("Export cancelled")
	}
	s.emit(models.ExportPhaseMixing, mixingEnd, "Audio mixed", nil)

	// -----------------------------------------------------------------
	// Encoding
	// -----------------------------------------------------------------
	comp, err := render.New(arena, tl, trailing, render.Options{
		Width:     req.Resolution.Width,
		Height:    req.Resolution.Height,
		Subtitles: req.Subtitles,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to set up compositor: %w", err))
	}
	defer comp.Close()

	backend := c.opts.NewBackend(choice, scratch, log)
	total := tl.FrameCount(req.FPS)
	filename := SanitizeFilename(req.Title)
	msg := fmt.Sprintf("Encoding %d frames (%s)", total, backend.Name())
	if choice.Reason != nil {
		msg += fmt.Sprintf(". ffmpeg is unavailable, so this is AVI video with a separate WAV audio track instead of %s", req.Format)
	}
	s.emit(models.ExportPhaseEncoding, mixingEnd, msg, nil)

	meter := newThroughput(time.Now())
	lastPercent := -1
	job := encoder.Job{
		Renderer:   comp,
		Mixdown:    mixdown,
		Frames:     total,
		FPS:        req.FPS,
		Width:      req.Resolution.Width,
		Height:     req.Resolution.Height,
		Format:     req.Format,
		OutputPath: filepath.Join(scratch, filename),
		Cancelled:  s.Cancelled,
		Progress: func(done, total int) {
			pct := mixingEnd + encodingSpan*float64(done)/float64(total)
			if int(pct) == lastPercent && done != total {
				return
			}
			lastPercent = int(pct)
			s.emit(models.ExportPhaseEncoding, pct,
				fmt.Sprintf("Encoding frame %d of %d", done, total),
				meter.eta(time.Now(), done, total))
		},
	}

	res, err := backend.Encode(ctx, job)
	if err != nil {
		if s.Cancelled() || errors.Is(err, context.Canceled) {
			return cancelled("Export cancelled")
		}
		return fail(err)
	}
	if res.Cancelled && res.Path == "" {
		return cancelled("Export cancelled, nothing was saved")
	}

	// -----------------------------------------------------------------
	// Saving
	// -----------------------------------------------------------------
	name := filename + "." + string(res.Format)
	s.emit(models.ExportPhaseEncoding, encodingEnd, "Saving "+name, nil)
	location, err := c.opts.Saver.Save(ctx, Artifact{
		Path:      res.Path,
		AudioPath: res.AudioPath,
		Filename:  name,
		Format:    res.Format,
		Partial:   res.Partial,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to save export: %w", err))
	}

	out := Outcome{
		Phase:       models.ExportPhaseDone,
		Backend:     res.Backend,
		Filename:    name,
		Location:    location,
		Frames:      res.Frames,
		TotalFrames: total,
		Partial:     res.Partial,
	}
	if res.AudioPath != "" {
		out.AudioPath = audioSidecar(location, res.AudioPath)
	}
	if res.Cancelled {
		out.Phase = models.ExportPhaseCancelled
		return out, fmt.Sprintf("Export cancelled, saved %d of %d frames", res.Frames, total)
	}
	if res.Format != req.Format {
		kind := strings.ToUpper(string(res.Format)) + " video"
		if res.AudioPath != "" {
			kind += " with a separate " + strings.ToUpper(strings.TrimPrefix(filepath.Ext(res.AudioPath), ".")) + " audio track"
		}
		return out, fmt.Sprintf("Export complete: %s (%s, %s was requested)", name, kind, req.Format)
	}
	return out, "Export complete: " + name
}

func audioSidecar(location, audioPath string) string {
	return location[:len(location)-len(filepath.Ext(location))] + filepath.Ext(audioPath)
}

// throughput estimates time remaining from the frame rate observed so far.
type throughput struct {
	start time.Time
}

func newThroughput(start time.Time) *throughput {
	return &throughput{start: start}
}

func (m *throughput) eta(now time.Time, done, total int) *float64 {
	elapsed := now.Sub(m.start)
	if done <= 0 || elapsed < minETAElapsed {
		return nil
	}
	rate := float64(done) / elapsed.Seconds()
	remaining := float64(total-done) / rate
	if math.IsInf(remaining, 0) || math.IsNaN(remaining) {
		return nil
	}
	remaining = math.Round(remaining*10) / 10
	return &remaining
}
