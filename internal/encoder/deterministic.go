package encoder

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/models"
)

const (
	// DefaultSeekTimeout bounds the per-frame wait for media sources.
	DefaultSeekTimeout = 500 * time.Millisecond
	// DefaultMaxPending is the sink queue depth above which frame production pauses.
	DefaultMaxPending = 8

	audioChunkSec    = 1.0
	backpressurePoll = 5 * time.Millisecond
)

// Sink consumes encoded streams and writes the container.
type Sink interface {
	// WriteAudio appends one mixdown chunk. All audio precedes the first frame.
	WriteAudio(chunk *audio.Buffer) error
	// WriteFrame queues one frame. The sink copies img before returning.
	WriteFrame(img *image.RGBA, keyframe bool) error
	// Pending is the number of queued frames not yet handed to the encoder.
	Pending() int
	// Finish finalizes the container with the frames written so far; audio
	// is cut to the same length.
	Finish(frames int) error
	// Abort stops encoding and removes any partial output.
	Abort() error
}

// SinkConfig describes the container a Sink produces.
type SinkConfig struct {
	Path       string
	ScratchDir string
	Width      int
	Height     int
	FPS        int
	SampleRate int
	Channels   int
	Capability Capability
}

// SinkFactory opens a sink.
type SinkFactory func(ctx context.Context, cfg SinkConfig) (Sink, error)

// Deterministic encodes every frame at its exact timestamp.
type Deterministic struct {
	Capability  Capability
	NewSink     SinkFactory
	ScratchDir  string
	SeekTimeout time.Duration
	MaxPending  int
	Logger      zerolog.Logger
}

// NewDeterministic returns a deterministic backend writing through ffmpeg.
func NewDeterministic(caps Capability, scratchDir string, logger zerolog.Logger) *Deterministic {
	return &Deterministic{
		Capability:  caps,
		NewSink:     NewFFmpegSink,
		ScratchDir:  scratchDir,
		SeekTimeout: DefaultSeekTimeout,
		MaxPending:  DefaultMaxPending,
		Logger:      logger,
	}
}

func (d *Deterministic) Name() string { return BackendDeterministic }

// Encode writes the mixdown in one-second chunks, then every frame in time
// order. On cancellation it finalizes the frames written so far.
func (d *Deterministic) Encode(ctx context.Context, job Job) (*Result, error) {
	if job.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", job.FPS)
	}
	format := job.Format
	if format == "" {
		format = models.ExportFormatMP4
	}
	path := withExt(job.OutputPath, string(format))
	log := d.Logger.With().Str("backend", BackendDeterministic).Str("video_codec", d.Capability.VideoCodec).Logger()

	sink, err := d.NewSink(ctx, SinkConfig{
		Path:       path,
		ScratchDir: d.ScratchDir,
		Width:      job.Width,
		Height:     job.Height,
		FPS:        job.FPS,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Capability: d.Capability,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder: %w", err)
	}

	if job.Mixdown != nil {
		for _, chunk := range audio.Chunks(job.Mixdown, audioChunkSec) {
			if err := sink.WriteAudio(chunk); err != nil {
				sink.Abort()
				return nil, fmt.Errorf("audio encode failed: %w", err)
			}
		}
	}

	seekTimeout := d.SeekTimeout
	if seekTimeout <= 0 {
		seekTimeout = DefaultSeekTimeout
	}
	maxPending := d.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	written := 0
	cancelled := false
	for i := 0; i < job.Frames; i++ {
		if job.cancelled() {
			cancelled = true
			break
		}
		if err := ctx.Err(); err != nil {
			sink.Abort()
			return nil, err
		}

		t := float64(i) / float64(job.FPS)
		for _, src := range job.Renderer.SeekTo(t) {
			if !src.WaitReady(ctx, seekTimeout) {
				log.Debug().Int("frame", i).Str("clip", src.Path()).Msg("Seek wait timed out, drawing current frame")
			}
		}
		img := job.Renderer.Draw(t)

		for sink.Pending() > maxPending {
			select {
			case <-ctx.Done():
				sink.Abort()
				return nil, ctx.Err()
			case <-time.After(backpressurePoll):
			}
		}

		if err := sink.WriteFrame(img, i%job.FPS == 0); err != nil {
			sink.Abort()
			return nil, fmt.Errorf("frame %d encode failed: %w", i, err)
		}
		written++
		job.progress(written)
	}

	if cancelled && written == 0 {
		sink.Abort()
		log.Info().Msg("Export cancelled before the first frame, nothing kept")
		return &Result{Backend: BackendDeterministic, Format: format, Cancelled: true}, nil
	}

	if err := sink.Finish(written); err != nil {
		sink.Abort()
		return nil, fmt.Errorf("failed to finalize container: %w", err)
	}

	res := &Result{
		Backend:   BackendDeterministic,
		Path:      path,
		Format:    format,
		Frames:    written,
		Duration:  float64(written) / float64(job.FPS),
		Cancelled: cancelled,
		Partial:   cancelled,
	}
	log.Info().Int("frames", written).Int("total", job.Frames).Bool("partial", cancelled).Str("path", path).Msg("Encode finished")
	return res, nil
}
