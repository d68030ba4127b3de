package media

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SourceState is the seek state of a clip source.
type SourceState int32

const (
	StateIdle SourceState = iota
	StateSeeking
	StateReady
)

func (s SourceState) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

const pollInterval = 2 * time.Millisecond

// FrameDecoder produces the video frame shown at a timestamp.
type FrameDecoder interface {
	DecodeAt(ctx context.Context, t float64) (image.Image, error)
	Close() error
}

// ClipInfo describes an opened clip.
type ClipInfo struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

// ClipOpener opens a local clip file for frame-accurate decoding.
type ClipOpener interface {
	OpenClip(ctx context.Context, path string) (FrameDecoder, ClipInfo, error)
}

// ClipSource is a seekable motion clip. Seeks run asynchronously; callers
// poll State or WaitReady and read the current frame with Frame.
type ClipSource struct {
	path string
	info ClipInfo
	dec  FrameDecoder
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	decodeMu sync.Mutex // serializes decoder access

	mu      sync.Mutex
	state   SourceState
	gen     uint64
	target  float64
	frame   image.Image
	playing bool
	closed  bool
}

// NewClipSource wraps an opened decoder. path is the local file backing the
// clip, used for audio extraction.
func NewClipSource(path string, info ClipInfo, dec FrameDecoder, logger zerolog.Logger) *ClipSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClipSource{
		path:   path,
		info:   info,
		dec:    dec,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		frame:  Placeholder(),
		target: -1,
	}
}

// PlaceholderClip is a zero-duration clip that always shows a transparent frame.
func PlaceholderClip() *ClipSource {
	return NewClipSource("", ClipInfo{}, nil, zerolog.Nop())
}

func (c *ClipSource) Path() string { return c.path }

func (c *ClipSource) Info() ClipInfo { return c.info }

func (c *ClipSource) Duration() float64 { return c.info.Duration }

func (c *ClipSource) IsPlaceholder() bool { return c.dec == nil }

// State returns the current seek state.
func (c *ClipSource) State() SourceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frame returns the most recently decoded frame.
func (c *ClipSource) Frame() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Seek asks for the frame at t, clamped to the clip. It returns immediately;
// a newer Seek supersedes any decode still in flight.
func (c *ClipSource) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	if d := c.info.Duration; d > 0 && t > d {
		t = d
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.dec == nil {
		c.target = t
		c.state = StateReady
		c.mu.Unlock()
		return
	}
	if c.target == t && c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.target = t
	c.state = StateSeeking
	c.mu.Unlock()

	go c.decode(gen, t)
}

func (c *ClipSource) decode(gen uint64, t float64) {
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()

	if c.stale(gen) {
		return
	}

	frame, err := c.dec.DecodeAt(c.ctx, t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Float64("t", t).Str("clip", c.path).Msg("Clip frame decode failed, keeping previous frame")
	} else if frame != nil {
		c.frame = frame
	}
	c.state = StateReady
}

func (c *ClipSource) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen || c.closed
}

// WaitReady polls until the pending seek completes, timeout elapses or ctx
// is done. It reports whether the source is ready.
func (c *ClipSource) WaitReady(ctx context.Context, timeout time.Duration) bool {
	if c.State() != StateSeeking {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return c.State() != StateSeeking
		case <-tick.C:
			if c.State() != StateSeeking {
				return true
			}
		}
	}
}

// Play marks the source as advancing with the timeline.
func (c *ClipSource) Play() {
	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()
}

// Pause stops the source. Any in-flight seek still completes.
func (c *ClipSource) Pause() {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
}

func (c *ClipSource) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Close releases the decoder. Pending seeks are abandoned.
func (c *ClipSource) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateIdle
	c.mu.Unlock()

	c.cancel()
	if c.dec == nil {
		return nil
	}
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	return c.dec.Close()
}
