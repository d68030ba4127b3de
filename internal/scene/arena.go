package scene

import (
	"github.com/samber/lo"

	"github.com/bobarin/reelcut/internal/media"
)

// Arena is the ordered, read-only list of render assets for one session.
// Derived views (such as dropping a clip) are new arenas sharing the loaded
// media.
type Arena struct {
	assets []Asset
}

func NewArena(assets []Asset) *Arena {
	cp := make([]Asset, len(assets))
	copy(cp, assets)
	return &Arena{assets: cp}
}

func (a *Arena) Len() int { return len(a.assets) }

// At returns a copy of asset i.
func (a *Arena) At(i int) Asset { return a.assets[i] }

// Assets returns a copy of the asset list.
func (a *Arena) Assets() []Asset {
	cp := make([]Asset, len(a.assets))
	copy(cp, a.assets)
	return cp
}

// Durations returns the render duration of every asset, in order.
func (a *Arena) Durations() []float64 {
	return lo.Map(a.assets, func(x Asset, _ int) float64 { return x.Duration })
}

// HasVisual reports whether at least one asset can be drawn.
func (a *Arena) HasVisual() bool {
	return lo.SomeBy(a.assets, func(x Asset) bool { return x.HasVisual() })
}

// WithoutClip returns a view in which scene i renders from its still image.
// The clip source itself stays open; it is owned by the arena it was copied from.
func (a *Arena) WithoutClip(i int) *Arena {
	next := NewArena(a.assets)
	if i < 0 || i >= len(next.assets) {
		return next
	}
	next.assets[i].Clip = nil
	next.assets[i].Freeze = nil
	return next
}

// Clips returns every clip source referenced by the arena.
func (a *Arena) Clips() []*media.ClipSource {
	return lo.FilterMap(a.assets, func(x Asset, _ int) (*media.ClipSource, bool) {
		return x.Clip, x.Clip != nil
	})
}

// Close releases every clip decoder.
func (a *Arena) Close() {
	for i := range a.assets {
		if c := a.assets[i].Clip; c != nil {
			c.Close()
		}
	}
}
