package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/icza/mjpeg"
	"github.com/rs/zerolog"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/models"
)

const defaultJPEGQuality = 85

// Realtime plays the timeline at wall-clock speed and captures what is drawn
// into a Motion-JPEG AVI, with the mixdown captured alongside into a WAV.
// A cancelled capture is discarded.
type Realtime struct {
	Quality int
	Logger  zerolog.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func NewRealtime(logger zerolog.Logger) *Realtime {
	return &Realtime{Quality: defaultJPEGQuality, Logger: logger}
}

func (r *Realtime) Name() string { return BackendRealtime }

func (r *Realtime) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Encode captures job.Frames frames. Late ticks repeat the current frame so
// the AVI's frame count tracks elapsed wall-clock time.
func (r *Realtime) Encode(ctx context.Context, job Job) (*Result, error) {
	if job.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", job.FPS)
	}
	log := r.Logger.With().Str("backend", BackendRealtime).Logger()
	aviPath := withExt(job.OutputPath, string(models.ExportFormatAVI))
	wavPath := withExt(job.OutputPath, "wav")

	video, err := mjpeg.New(aviPath, int32(job.Width), int32(job.Height), int32(job.FPS))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	wav, err := audio.NewWAVWriter(wavPath, audio.SampleRate, audio.Channels)
	if err != nil {
		video.Close()
		os.Remove(aviPath)
		return nil, err
	}

	discard := func() {
		video.Close()
		wav.Close()
		removeCapture(aviPath, wavPath)
	}

	quality := r.Quality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}

	mix := job.Mixdown
	audioDone := 0
	captureAudio := func(upTo float64) error {
		if mix == nil {
			return nil
		}
		target := audio.FrameCount(upTo, mix.SampleRate)
		if target > mix.Frames() {
			target = mix.Frames()
		}
		if target <= audioDone {
			return nil
		}
		if err := wav.Write(mix.Slice(audioDone, target)); err != nil {
			return err
		}
		audioDone = target
		return nil
	}

	interval := time.Second / time.Duration(job.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var jpegBuf bytes.Buffer
	start := r.now()
	written := 0
	for written < job.Frames {
		select {
		case <-ctx.Done():
			discard()
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if job.cancelled() {
			discard()
			log.Info().Int("frames", written).Msg("Capture cancelled, discarding partial recording")
			return &Result{Backend: BackendRealtime, Format: models.ExportFormatAVI, Cancelled: true}, nil
		}

		elapsed := r.now().Sub(start).Seconds()
		due := int(math.Floor(elapsed*float64(job.FPS))) + 1
		if due > job.Frames {
			due = job.Frames
		}
		if due <= written {
			continue
		}

		job.Renderer.SeekTo(elapsed)
		img := job.Renderer.Draw(elapsed)

		jpegBuf.Reset()
		if err := jpeg.Encode(&jpegBuf, img, &jpeg.Options{Quality: quality}); err != nil {
			discard()
			return nil, fmt.Errorf("frame encode failed: %w", err)
		}
		for written < due {
			if err := video.AddFrame(jpegBuf.Bytes()); err != nil {
				discard()
				return nil, fmt.Errorf("capture write failed: %w", err)
			}
			written++
		}
		if err := captureAudio(float64(written) / float64(job.FPS)); err != nil {
			discard()
			return nil, fmt.Errorf("audio capture failed: %w", err)
		}
		job.progress(written)
	}

	if err := captureAudio(math.Inf(1)); err != nil {
		discard()
		return nil, fmt.Errorf("audio capture failed: %w", err)
	}
	if err := video.Close(); err != nil {
		wav.Close()
		removeCapture(aviPath, wavPath)
		return nil, fmt.Errorf("failed to finalize capture: %w", err)
	}
	if err := wav.Close(); err != nil {
		removeCapture(aviPath, wavPath)
		return nil, fmt.Errorf("failed to finalize capture audio: %w", err)
	}

	log.Info().Int("frames", written).Str("path", aviPath).Msg("Capture finished")
	return &Result{
		Backend:   BackendRealtime,
		Path:      aviPath,
		AudioPath: wavPath,
		Format:    models.ExportFormatAVI,
		Frames:    written,
		Duration:  float64(written) / float64(job.FPS),
	}, nil
}

// removeCapture deletes the capture files and any index spool the AVI writer
// left next to them.
func removeCapture(aviPath, wavPath string) {
	spools, _ := filepath.Glob(aviPath + "*")
	for _, p := range append(spools, aviPath, wavPath) {
		os.Remove(p)
	}
}
