package scene

import (
	"context"
	"fmt"
	"image"
	"math"
	"path"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/reelcut/internal/audio"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/models"
)

// freezeWait bounds the seek used to capture the freeze frame.
const freezeWait = 5 * time.Second

// AssetLoader is the subset of media.Loader the preparer uses.
type AssetLoader interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	LoadImage(ctx context.Context, ref string) image.Image
	LoadAudio(ctx context.Context, ref string) *audio.Buffer
	OpenClip(ctx context.Context, ref string) (*media.ClipSource, error)
}

// Aligner produces word timings from narration audio.
type Aligner interface {
	Align(ctx context.Context, audioData []byte, filename string) (models.WordTimings, error)
}

// Preparer builds one Asset per scene.
type Preparer struct {
	loader  AssetLoader
	aligner Aligner
	log     zerolog.Logger
}

// NewPreparer returns a preparer. aligner may be nil.
func NewPreparer(loader AssetLoader, aligner Aligner, logger zerolog.Logger) *Preparer {
	return &Preparer{loader: loader, aligner: aligner, log: logger}
}

// Prepare loads every scene concurrently and returns the arena in scene
// order. Asset failures are absorbed; only context cancellation is an error.
func (p *Preparer) Prepare(ctx context.Context, scenes []models.Scene) (*Arena, error) {
	assets := make([]Asset, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range scenes {
		g.Go(func() error {
			assets[i] = p.PrepareScene(gctx, scenes[i])
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		NewArena(assets).Close()
		return nil, fmt.Errorf("scene preparation cancelled: %w", err)
	}
	return NewArena(assets), nil
}

// PrepareScene loads one scene's media and computes its render duration.
func (p *Preparer) PrepareScene(ctx context.Context, s models.Scene) Asset {
	log := p.log.With().Int("scene", s.SceneIndex).Logger()
	a := Asset{Scene: s, Words: s.WordTimings}

	if s.WantsClip() {
		clip, freeze, err := p.loadClip(ctx, s.ClipURL)
		if err != nil {
			log.Warn().Err(err).Str("url", s.ClipURL).Msg("Clip unusable, falling back to still image")
		} else {
			a.Clip, a.Freeze = clip, freeze
		}
	}
	a.Image = p.loader.LoadImage(ctx, s.ImageURL)

	a.Narration = p.loader.LoadAudio(ctx, s.AudioURL)
	if s.AudioURL != "" && a.Narration == nil {
		log.Warn().Str("url", s.AudioURL).Float64("hint", s.DurationHint).Msg("Narration unavailable, using duration hint")
	}
	a.Duration = RenderDuration(a.Narration, s.DurationHint)

	if len(a.Words) == 0 && p.aligner != nil && a.Narration != nil {
		a.Words = p.align(ctx, log, s)
	}

	log.Debug().
		Float64("duration", a.Duration).
		Bool("clip", a.Clip != nil).
		Int("words", len(a.Words)).
		Msg("Scene prepared")
	return a
}

// loadClip opens the clip from a downloaded blob, captures the frame just
// before its end and rewinds it to 0.
func (p *Preparer) loadClip(ctx context.Context, ref string) (*media.ClipSource, image.Image, error) {
	clip, err := p.loader.OpenClip(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	clip.Seek(math.Max(0, clip.Duration()-FreezeOffset))
	if !clip.WaitReady(ctx, freezeWait) {
		clip.Close()
		return nil, nil, fmt.Errorf("timed out capturing freeze frame")
	}
	freeze := clip.Frame()
	if media.IsPlaceholder(freeze) {
		clip.Close()
		return nil, nil, fmt.Errorf("clip produced no frame at %.2fs", clip.Duration()-FreezeOffset)
	}

	clip.Seek(0)
	clip.WaitReady(ctx, freezeWait)
	return clip, freeze, nil
}

func (p *Preparer) align(ctx context.Context, log zerolog.Logger, s models.Scene) models.WordTimings {
	data, err := p.loader.Fetch(ctx, s.AudioURL)
	if err != nil {
		log.Warn().Err(err).Msg("Alignment skipped, narration refetch failed")
		return nil
	}
	words, err := p.aligner.Align(ctx, data, path.Base(s.AudioURL))
	if err != nil {
		log.Warn().Err(err).Msg("Alignment failed, using weighted timings")
		return nil
	}
	return words
}
