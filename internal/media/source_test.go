package media

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeDecoder returns a 1x1 frame whose red channel encodes the requested
// time in tenths of a second.
type fakeDecoder struct {
	mu     sync.Mutex
	delay  time.Duration
	calls  []float64
	closed bool
}

func (d *fakeDecoder) DecodeAt(ctx context.Context, t float64) (image.Image, error) {
	if d.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.delay):
		}
	}
	d.mu.Lock()
	d.calls = append(d.calls, t)
	d.mu.Unlock()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: uint8(t * 10), A: 255})
	return img, nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func redAt(img image.Image) uint8 {
	return img.(*image.NRGBA).NRGBAAt(0, 0).R
}

func TestClipSourceSeekThenReady(t *testing.T) {
	dec := &fakeDecoder{}
	c := NewClipSource("clip.mp4", ClipInfo{Duration: 3}, dec, zerolog.Nop())
	defer c.Close()

	if c.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", c.State())
	}
	c.Seek(1.5)
	if !c.WaitReady(context.Background(), time.Second) {
		t.Fatal("seek did not complete")
	}
	if c.State() != StateReady {
		t.Errorf("state = %v, want ready", c.State())
	}
	if got := redAt(c.Frame()); got != 15 {
		t.Errorf("frame for t=1.5 has marker %d, want 15", got)
	}
}

func TestClipSourceClampsSeek(t *testing.T) {
	dec := &fakeDecoder{}
	c := NewClipSource("", ClipInfo{Duration: 2}, dec, zerolog.Nop())
	defer c.Close()

	c.Seek(9)
	c.WaitReady(context.Background(), time.Second)
	if got := redAt(c.Frame()); got != 20 {
		t.Errorf("marker = %d, want clamp to 2s (20)", got)
	}
}

func TestClipSourceWaitReadyTimesOut(t *testing.T) {
	dec := &fakeDecoder{delay: 200 * time.Millisecond}
	c := NewClipSource("", ClipInfo{Duration: 5}, dec, zerolog.Nop())
	defer c.Close()

	c.Seek(1)
	start := time.Now()
	if c.WaitReady(context.Background(), 20*time.Millisecond) {
		t.Error("expected WaitReady to time out")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("WaitReady blocked for %v", elapsed)
	}
	if !IsPlaceholder(c.Frame()) {
		t.Error("expected the previous (placeholder) frame while seeking")
	}
}

func TestClipSourceLatestSeekWins(t *testing.T) {
	dec := &fakeDecoder{delay: 10 * time.Millisecond}
	c := NewClipSource("", ClipInfo{Duration: 5}, dec, zerolog.Nop())
	defer c.Close()

	c.Seek(1)
	c.Seek(2)
	c.Seek(3)
	if !c.WaitReady(context.Background(), time.Second) {
		t.Fatal("seek did not complete")
	}
	if got := redAt(c.Frame()); got != 30 {
		t.Errorf("marker = %d, want 30 from the last seek", got)
	}
}

func TestClipSourceRepeatSeekIsNoop(t *testing.T) {
	dec := &fakeDecoder{}
	c := NewClipSource("", ClipInfo{Duration: 5}, dec, zerolog.Nop())
	defer c.Close()

	c.Seek(1)
	c.WaitReady(context.Background(), time.Second)
	c.Seek(1)
	if c.State() != StateReady {
		t.Errorf("state after repeated seek = %v, want ready", c.State())
	}
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if len(dec.calls) != 1 {
		t.Errorf("decode calls = %d, want 1", len(dec.calls))
	}
}

func TestPlaceholderClipIsAlwaysReady(t *testing.T) {
	c := PlaceholderClip()
	c.Seek(4)
	if c.State() != StateReady {
		t.Errorf("state = %v, want ready", c.State())
	}
	if !IsPlaceholder(c.Frame()) {
		t.Error("expected placeholder frame")
	}
}

func TestClipSourceCloseAndPause(t *testing.T) {
	dec := &fakeDecoder{}
	c := NewClipSource("", ClipInfo{Duration: 5}, dec, zerolog.Nop())

	c.Play()
	if !c.Playing() {
		t.Error("expected playing after Play")
	}
	c.Pause()
	if c.Playing() {
		t.Error("expected paused after Pause")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !dec.closed {
		t.Error("decoder not closed")
	}
	c.Seek(2)
	if c.State() != StateIdle {
		t.Errorf("seek after close changed state to %v", c.State())
	}
}
