package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/models"
)

const (
	frameQueue    = 16
	stderrTailMax = 4096
)

var errAudioAfterVideo = errors.New("audio must be written before the first frame")

// FFmpegSink spools the mixdown to a WAV file, then pipes raw RGBA frames
// into an ffmpeg process that muxes both into the output container.
type FFmpegSink struct {
	ctx     context.Context
	cfg     SinkConfig
	wavPath string
	wav     *audio.WAVWriter

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	queue  chan []byte
	done   chan error
	pool   sync.Pool

	errMu   sync.Mutex
	pumpErr error

	started  bool
	finished bool
}

// NewFFmpegSink is the SinkFactory used by the deterministic backend.
func NewFFmpegSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	dir := cfg.ScratchDir
	if dir == "" {
		dir = filepath.Dir(cfg.Path)
	}
	f, err := os.CreateTemp(dir, "mixdown-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create mixdown spool: %w", err)
	}
	wavPath := f.Name()
	f.Close()

	w, err := audio.NewWAVWriter(wavPath, cfg.SampleRate, cfg.Channels)
	if err != nil {
		os.Remove(wavPath)
		return nil, err
	}

	size := cfg.Width * cfg.Height * 4
	s := &FFmpegSink{
		ctx:     ctx,
		cfg:     cfg,
		wavPath: wavPath,
		wav:     w,
		stderr:  &tailBuffer{max: stderrTailMax},
		queue:   make(chan []byte, frameQueue),
		done:    make(chan error, 1),
	}
	s.pool.New = func() any { return make([]byte, size) }
	return s, nil
}

func (s *FFmpegSink) WriteAudio(chunk *audio.Buffer) error {
	if s.started {
		return errAudioAfterVideo
	}
	return s.wav.Write(chunk)
}

// WriteFrame queues img. Keyframes are forced by ffmpeg on the same fps
// interval the caller uses, so the flag needs no per-frame signalling.
func (s *FFmpegSink) WriteFrame(img *image.RGBA, keyframe bool) error {
	if !s.started {
		if err := s.start(); err != nil {
			return err
		}
	}
	buf := s.pool.Get().([]byte)
	copyRGBA(buf, img, s.cfg.Width, s.cfg.Height)

	if err := s.writeErr(); err != nil {
		s.pool.Put(buf)
		return fmt.Errorf("encoder stopped accepting frames: %w", s.exitErr(err))
	}
	s.queue <- buf
	return nil
}

func (s *FFmpegSink) Pending() int { return len(s.queue) }

func (s *FFmpegSink) Finish(frames int) error {
	if frames == 0 || !s.started {
		return ErrNoFrames
	}
	s.finished = true
	close(s.queue)
	err := <-s.done
	s.done <- err
	if err != nil {
		return s.exitErr(err)
	}
	os.Remove(s.wavPath)
	return nil
}

func (s *FFmpegSink) Abort() error {
	if !s.started {
		s.wav.Close()
	} else {
		if !s.finished {
			s.finished = true
			close(s.queue)
		}
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		<-s.done
	}
	os.Remove(s.wavPath)
	if err := os.Remove(s.cfg.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Args returns the ffmpeg command line for this sink.
func (s *FFmpegSink) Args() []string {
	return ffmpegArgs(s.cfg, s.wavPath)
}

func ffmpegArgs(cfg SinkConfig, wavPath string) []string {
	video := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":         "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"framerate": cfg.FPS,
	})
	aud := ffmpeg.Input(wavPath)

	out := ffmpeg.KwArgs{
		"c:v":              cfg.Capability.VideoCodec,
		"c:a":              cfg.Capability.AudioCodec,
		"pix_fmt":          "yuv420p",
		"g":                cfg.FPS,
		"force_key_frames": fmt.Sprintf("expr:eq(mod(n,%d),0)", cfg.FPS),
		"shortest":         "",
	}
	switch cfg.Capability.Format {
	case models.ExportFormatWebM:
		out["b:a"] = "128k"
		out["row-mt"] = 1
	default:
		out["b:a"] = "192k"
		out["movflags"] = "+faststart"
	}
	if cfg.Capability.VideoCodec == "libx264" {
		out["preset"] = "veryfast"
		out["crf"] = 20
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, aud}, cfg.Path, out).
		OverWriteOutput().
		GetArgs()
}

// start closes the audio spool and launches ffmpeg.
func (s *FFmpegSink) start() error {
	if err := s.wav.Close(); err != nil {
		return err
	}
	bin := s.cfg.Capability.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	s.cmd = exec.CommandContext(s.ctx, bin, s.Args()...)
	s.cmd.Stderr = s.stderr

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	s.stdin = stdin
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	s.started = true

	go s.pump()
	return nil
}

// pump feeds queued frames to ffmpeg until the queue is closed, then waits
// for the process to exit.
func (s *FFmpegSink) pump() {
	var writeErr error
	for buf := range s.queue {
		if writeErr == nil {
			if _, writeErr = s.stdin.Write(buf); writeErr != nil {
				s.errMu.Lock()
				s.pumpErr = writeErr
				s.errMu.Unlock()
			}
		}
		s.pool.Put(buf)
	}
	s.stdin.Close()
	waitErr := s.cmd.Wait()
	if waitErr != nil {
		s.done <- waitErr
		return
	}
	s.done <- writeErr
}

func (s *FFmpegSink) writeErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.pumpErr
}

func (s *FFmpegSink) exitErr(err error) error {
	tail := strings.TrimSpace(s.stderr.String())
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, tail)
}

func copyRGBA(dst []byte, img *image.RGBA, w, h int) {
	b := img.Bounds()
	row := w * 4
	if b.Dx() < w {
		row = b.Dx() * 4
	}
	for y := 0; y < h && y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst[y*w*4:], img.Pix[off:off+row])
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
