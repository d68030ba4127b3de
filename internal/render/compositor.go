// Package render draws output frames as a pure function of session time.
package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/scene"
	"github.com/bobarin/reelcut/internal/subtitles"
)

// Layer identifies the visual source of a frame.
type Layer int

const (
	LayerNone Layer = iota
	LayerClip
	LayerFreeze
	LayerStill
	LayerTrailing
)

func (l Layer) String() string {
	switch l {
	case LayerClip:
		return "clip"
	case LayerFreeze:
		return "freeze"
	case LayerStill:
		return "still"
	case LayerTrailing:
		return "trailing"
	default:
		return "none"
	}
}

// FramePlan is what Draw will render at a given time.
type FramePlan struct {
	Layer       Layer
	Scene       int     // -1 for the trailing clip
	TimeInScene float64 // seconds into the scene (or trailing clip)
	Zoom        float64
	FocusX      float64
	ActiveWord  int // -1 when no subtitle is shown
	PageFirst   int
}

// Options configures a Compositor.
type Options struct {
	Width     int
	Height    int
	Subtitles bool
}

// Compositor renders frames over an immutable arena. It owns one canvas;
// the image returned by Draw is only valid until the next call.
type Compositor struct {
	arena    *scene.Arena
	timeline scene.Timeline
	trailing *media.ClipSource

	width     int
	height    int
	subtitles bool

	layouts  []*subtitles.Layout
	faces    *captionFaces
	gradient *image.NRGBA
	canvas   *image.RGBA
}

// New builds a compositor. trailing may be nil.
func New(arena *scene.Arena, tl scene.Timeline, trailing *media.ClipSource, opts Options) (*Compositor, error) {
	c := &Compositor{
		arena:     arena,
		timeline:  tl,
		trailing:  trailing,
		width:     opts.Width,
		height:    opts.Height,
		subtitles: opts.Subtitles,
		gradient:  bottomGradient(opts.Width, opts.Height),
		canvas:    image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
	}

	faces, err := newCaptionFaces(opts.Height)
	if err != nil {
		return nil, err
	}
	c.faces = faces

	measurer := subtitles.FaceMeasurer{Face: faces.base}
	c.layouts = make([]*subtitles.Layout, arena.Len())
	for i := 0; i < arena.Len(); i++ {
		a := arena.At(i)
		c.layouts[i] = subtitles.NewLayout(a.Scene.Text, a.Duration, a.Words, measurer, opts.Width)
	}
	return c, nil
}

func (c *Compositor) Timeline() scene.Timeline { return c.timeline }

// Layout returns the subtitle layout of scene i.
func (c *Compositor) Layout(i int) *subtitles.Layout { return c.layouts[i] }

// Plan resolves what is visible at t.
func (c *Compositor) Plan(t float64) FramePlan {
	tl := c.timeline
	if c.trailing != nil && tl.InTrailing(t) {
		return FramePlan{
			Layer:       LayerTrailing,
			Scene:       -1,
			TimeInScene: t - tl.NarrationEnd,
			Zoom:        1,
			FocusX:      0.5,
			ActiveWord:  -1,
		}
	}

	idx, inScene := tl.Locate(t)
	if idx < 0 {
		return FramePlan{Layer: LayerNone, Scene: -1, ActiveWord: -1}
	}
	a := c.arena.At(idx)
	p := FramePlan{Scene: idx, TimeInScene: inScene, FocusX: a.FocusX(), Zoom: 1, ActiveWord: -1}

	clipDur := a.ClipDuration()
	switch {
	case clipDur > 0 && inScene < clipDur:
		p.Layer = LayerClip
	case a.Clip != nil && a.Freeze != nil:
		p.Layer = LayerFreeze
		p.Zoom = ZoomAt(clipDur, inScene, a.Duration)
	default:
		p.Layer = LayerStill
		p.Zoom = ZoomAt(0, inScene, a.Duration)
	}

	if c.subtitles {
		if page, word, ok := c.layouts[idx].PageAt(inScene); ok {
			p.ActiveWord = word
			p.PageFirst = page.First
		}
	}
	return p
}

// SeekTo issues seeks for the sources visible at t and pauses the rest. It
// returns the sources the caller should wait on before drawing.
func (c *Compositor) SeekTo(t float64) []*media.ClipSource {
	p := c.Plan(t)

	var active *media.ClipSource
	var target float64
	switch p.Layer {
	case LayerClip:
		active, target = c.arena.At(p.Scene).Clip, p.TimeInScene
	case LayerTrailing:
		active, target = c.trailing, p.TimeInScene
	}

	for _, clip := range c.arena.Clips() {
		if clip != active {
			clip.Pause()
		}
	}
	if c.trailing != nil && c.trailing != active {
		c.trailing.Pause()
	}
	if active == nil {
		return nil
	}
	active.Play()
	active.Seek(target)
	return []*media.ClipSource{active}
}

// Draw renders the frame at t.
func (c *Compositor) Draw(t float64) *image.RGBA {
	p := c.Plan(t)
	fill(c.canvas, color.Black)

	switch p.Layer {
	case LayerTrailing:
		drawCover(c.canvas, c.trailing.Frame(), p.FocusX, p.Zoom)
	case LayerClip:
		drawCover(c.canvas, c.arena.At(p.Scene).Clip.Frame(), p.FocusX, 1)
	case LayerFreeze:
		drawCover(c.canvas, c.arena.At(p.Scene).Freeze, p.FocusX, p.Zoom)
	case LayerStill:
		drawCover(c.canvas, c.arena.At(p.Scene).Image, p.FocusX, p.Zoom)
	}

	draw.Draw(c.canvas, c.canvas.Bounds(), c.gradient, image.Point{}, draw.Over)

	if p.ActiveWord >= 0 {
		l := c.layouts[p.Scene]
		page := l.Pages[p.PageFirst/subtitles.WordsPerPage]
		c.faces.drawPage(c.canvas, l, page, p.ActiveWord)
	}
	return c.canvas
}

// Close releases font resources.
func (c *Compositor) Close() {
	if c.faces != nil {
		c.faces.Close()
	}
}
