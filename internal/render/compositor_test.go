package render

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
	"github.com/bobarin/reelcut/internal/scene"
	"github.com/bobarin/reelcut/internal/subtitles"
)

const (
	testW = 90
	testH = 160
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

type solidDecoder struct{ c color.NRGBA }

func (d solidDecoder) DecodeAt(ctx context.Context, t float64) (image.Image, error) {
	return solid(32, 32, d.c), nil
}

func (solidDecoder) Close() error { return nil }

func clipOf(dur float64, c color.NRGBA) *media.ClipSource {
	return media.NewClipSource("", media.ClipInfo{Duration: dur, Width: 32, Height: 32}, solidDecoder{c}, zerolog.Nop())
}

func newCompositor(t *testing.T, assets []scene.Asset, trailing *media.ClipSource, subs bool) *Compositor {
	t.Helper()
	return newCompositorSized(t, assets, trailing, Options{Width: testW, Height: testH, Subtitles: subs})
}

func newCompositorSized(t *testing.T, assets []scene.Asset, trailing *media.ClipSource, opts Options) *Compositor {
	t.Helper()
	arena := scene.NewArena(assets)
	var trailingDur float64
	if trailing != nil {
		trailingDur = trailing.Duration()
	}
	c, err := New(arena, scene.NewTimeline(arena, trailingDur), trailing, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func TestPlanScenarioBFreezeFrameSwitch(t *testing.T) {
	clip := clipOf(2, green)
	defer clip.Close()
	c := newCompositor(t, []scene.Asset{{
		Scene:    models.Scene{FocusX: 50},
		Image:    solid(8, 8, red),
		Clip:     clip,
		Freeze:   solid(8, 8, blue),
		Duration: 5,
	}}, nil, false)

	const fps = 30
	prevZoom := 0.0
	for i := 0; i < 150; i++ {
		p := c.Plan(float64(i) / fps)
		if i < 60 {
			if p.Layer != LayerClip {
				t.Fatalf("frame %d layer = %v, want clip", i, p.Layer)
			}
			continue
		}
		if p.Layer != LayerFreeze {
			t.Fatalf("frame %d layer = %v, want freeze", i, p.Layer)
		}
		if i > 60 && p.Zoom <= prevZoom {
			t.Fatalf("frame %d zoom %v not above previous %v", i, p.Zoom, prevZoom)
		}
		prevZoom = p.Zoom
	}
	if z := c.Plan(2).Zoom; z != 1 {
		t.Errorf("zoom at freeze start = %v, want 1", z)
	}
	if z := c.Plan(5).Zoom; z != 1+MaxZoom {
		t.Errorf("zoom at scene end = %v, want %v", z, 1+MaxZoom)
	}
}

func TestPlanStillZoomsAcrossWholeScene(t *testing.T) {
	c := newCompositor(t, []scene.Asset{
		{Image: solid(8, 8, red), Duration: 4},
		{Image: solid(8, 8, blue), Duration: 2},
	}, nil, false)

	if p := c.Plan(0); p.Layer != LayerStill || p.Zoom != 1 {
		t.Errorf("plan(0) = %+v", p)
	}
	if p := c.Plan(2); p.Zoom != 1+MaxZoom/2 {
		t.Errorf("mid-scene zoom = %v, want %v", p.Zoom, 1+MaxZoom/2)
	}
	if p := c.Plan(4); p.Scene != 1 || p.Zoom != 1 {
		t.Errorf("second scene should restart zoom, got %+v", p)
	}
	// Silence pad holds the last scene at full zoom.
	if p := c.Plan(6.5); p.Scene != 1 || p.Zoom != 1+MaxZoom {
		t.Errorf("silence pad plan = %+v", p)
	}
}

func TestZoomHelperSharedByBothCases(t *testing.T) {
	if ZoomAt(2, 2, 5) != ZoomAt(0, 0, 3) || ZoomAt(2, 5, 5) != ZoomAt(0, 3, 3) {
		t.Error("remaining-time and whole-scene zoom should normalize identically")
	}
	if ZoomAt(1, 1, 1) != 1+MaxZoom {
		t.Error("zero-length span should be at full zoom")
	}
}

func TestPlanTrailingClip(t *testing.T) {
	sceneClip := clipOf(3, green)
	trailing := clipOf(2, blue)
	defer sceneClip.Close()
	defer trailing.Close()

	c := newCompositor(t, []scene.Asset{{Image: solid(8, 8, red), Clip: sceneClip, Freeze: solid(8, 8, red), Duration: 3}}, trailing, false)

	c.SeekTo(1)
	if !sceneClip.Playing() {
		t.Error("scene clip should play during its scene")
	}

	p := c.Plan(3.5)
	if p.Layer != LayerTrailing || p.TimeInScene != 0.5 {
		t.Fatalf("plan(3.5) = %+v, want trailing at 0.5", p)
	}
	waits := c.SeekTo(3.5)
	if len(waits) != 1 || waits[0] != trailing {
		t.Fatalf("SeekTo returned %v, want the trailing clip", waits)
	}
	if sceneClip.Playing() {
		t.Error("scene sources must be paused during the trailing clip")
	}
	if !trailing.WaitReady(context.Background(), time.Second) {
		t.Fatal("trailing seek did not complete")
	}
	img := c.Draw(3.5)
	if got := img.RGBAAt(testW/2, testH/4); got.B < 200 || got.R > 10 {
		t.Errorf("trailing frame pixel = %v, want blue", got)
	}
}

func TestDrawLayers(t *testing.T) {
	clip := clipOf(1, green)
	defer clip.Close()
	c := newCompositor(t, []scene.Asset{
		{Image: solid(8, 8, red), Clip: clip, Freeze: solid(8, 8, blue), Duration: 2},
		{Image: solid(8, 8, red), Duration: 2},
	}, nil, false)

	for _, s := range c.SeekTo(0.5) {
		s.WaitReady(context.Background(), time.Second)
	}
	tests := []struct {
		t    float64
		want color.RGBA
	}{
		{0.5, color.RGBA{G: 255, A: 255}},
		{1.5, color.RGBA{B: 255, A: 255}},
		{3, color.RGBA{R: 255, A: 255}},
	}
	for _, tt := range tests {
		got := c.Draw(tt.t).RGBAAt(testW/2, testH/4)
		if got != tt.want {
			t.Errorf("Draw(%v) top pixel = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestDrawBottomGradientDarkens(t *testing.T) {
	c := newCompositor(t, []scene.Asset{{Image: solid(8, 8, color.NRGBA{R: 255, G: 255, B: 255, A: 255}), Duration: 1}}, nil, false)
	img := c.Draw(0.5)
	top := img.RGBAAt(testW/2, 2)
	bottom := img.RGBAAt(testW/2, testH-1)
	if top.R != 255 {
		t.Errorf("top pixel = %v, want untouched white", top)
	}
	if bottom.R >= 128 {
		t.Errorf("bottom pixel = %v, want darkened by gradient", bottom)
	}
}

func TestDrawPlaceholderIsBlack(t *testing.T) {
	c := newCompositor(t, []scene.Asset{{Image: media.Placeholder(), Duration: 1}}, nil, false)
	if got := c.Draw(0.1).RGBAAt(testW/2, testH/4); got != (color.RGBA{A: 255}) {
		t.Errorf("pixel = %v, want opaque black", got)
	}
}

func TestSubtitlesHighlightActiveWord(t *testing.T) {
	words := models.WordTimings{
		{Word: "ONE", Start: 0, End: 1},
		{Word: "TWO", Start: 1, End: 2},
	}
	assets := []scene.Asset{{
		Scene:    models.Scene{Text: "one two"},
		Image:    solid(8, 8, color.NRGBA{A: 255}),
		Words:    words,
		Duration: 2,
	}}

	// Large enough for solid glyph stems.
	on := newCompositorSized(t, assets, nil, Options{Width: 360, Height: 640, Subtitles: true})
	if p := on.Plan(1.5); p.ActiveWord != 1 || p.PageFirst != 0 {
		t.Errorf("plan = %+v, want active word 1 on page 0", p)
	}
	if !hasAccent(on.Draw(1.5)) {
		t.Error("expected accent-coloured active word")
	}

	off := newCompositorSized(t, assets, nil, Options{Width: 360, Height: 640})
	if p := off.Plan(1.5); p.ActiveWord != -1 {
		t.Errorf("subtitles off should not plan a word, got %d", p.ActiveWord)
	}
	if hasAccent(off.Draw(1.5)) {
		t.Error("no caption expected when subtitles are disabled")
	}
}

func TestShadowOnlyUnderActiveWord(t *testing.T) {
	faces, err := newCaptionFaces(640)
	if err != nil {
		t.Fatal(err)
	}
	defer faces.Close()

	l := &subtitles.Layout{Words: models.WordTimings{
		{Word: "ONE", Start: 0, End: 1},
		{Word: "TWO", Start: 1, End: 2},
	}}
	page := subtitles.Page{Words: []int{0, 1}, Lines: [][]int{{0, 1}}, End: 2}

	// White words on white leave no trace, so any dark pixel is shadow
	white := func() *image.RGBA {
		img := image.NewRGBA(image.Rect(0, 0, 360, 640))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		return img
	}

	none := white()
	faces.drawPage(none, l, page, -1)
	if n := darkPixels(none); n != 0 {
		t.Errorf("inactive words cast %d shadow pixels, want 0", n)
	}

	active := white()
	faces.drawPage(active, l, page, 1)
	if darkPixels(active) == 0 {
		t.Error("active word should cast a shadow")
	}
}

func darkPixels(img *image.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if p := img.RGBAAt(x, y); p.R < 160 && p.G < 160 && p.B < 160 {
				n++
			}
		}
	}
	return n
}

func hasAccent(img *image.RGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := img.RGBAAt(x, y)
			if p.R > 200 && p.G > 150 && p.B < 80 {
				return true
			}
		}
	}
	return false
}

func TestCoverRectBias(t *testing.T) {
	src := image.Rect(0, 0, 400, 400)
	left := coverRect(src, 90, 160, 0, 1)
	right := coverRect(src, 90, 160, 1, 1)
	center := coverRect(src, 90, 160, 0.5, 1)

	if left.Min.X != 0 || right.Max.X != 400 {
		t.Errorf("left=%v right=%v, want crops pinned to edges", left, right)
	}
	if center.Min.X <= left.Min.X || center.Max.X >= right.Max.X {
		t.Errorf("center crop %v not between %v and %v", center, left, right)
	}
	if left.Dy() != 400 || left.Min.Y != 0 {
		t.Errorf("portrait frame from square source should use full height, got %v", left)
	}

	zoomed := coverRect(src, 90, 160, 0.5, 1.15)
	if zoomed.Dy() >= center.Dy() || zoomed.Min.Y <= 0 {
		t.Errorf("zoomed crop %v should be tighter and vertically centered", zoomed)
	}
}
