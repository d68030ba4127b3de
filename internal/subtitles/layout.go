package subtitles

import (
	"strings"

	"golang.org/x/image/font"

	"github.com/bobarin/reelcut/internal/models"
)

const (
	// WordsPerPage is how many words are shown at once. The live preview uses
	// the same value so exported pages match what the user saw.
	WordsPerPage = 7

	// LineWidthFraction bounds a display line relative to canvas width.
	LineWidthFraction = 0.8
)

// Measurer reports the rendered width of a string in pixels.
type Measurer interface {
	Measure(s string) float64
}

// FaceMeasurer measures text with a font face.
type FaceMeasurer struct {
	Face font.Face
}

func (m FaceMeasurer) Measure(s string) float64 {
	adv := font.MeasureString(m.Face, s)
	return float64(adv) / 64
}

// Page is one screenful of subtitle words.
type Page struct {
	First int     // index of the first word in the layout
	Words []int   // word indices on this page
	Lines [][]int // word indices grouped into wrapped display lines
	Start float64
	End   float64
}

// Layout is the timed, paginated subtitle layout for one scene.
type Layout struct {
	Words models.WordTimings
	Pages []Page
}

// NewLayout computes timings for text and wraps them into pages.
func NewLayout(text string, duration float64, external models.WordTimings, m Measurer, canvasWidth int) *Layout {
	words := Timings(text, duration, external)
	return &Layout{
		Words: words,
		Pages: paginate(words, m, LineWidthFraction*float64(canvasWidth)),
	}
}

// PageAt returns the page holding the word active at t.
func (l *Layout) PageAt(t float64) (Page, int, bool) {
	if l == nil {
		return Page{}, -1, false
	}
	idx := ActiveIndex(l.Words, t)
	if idx < 0 {
		return Page{}, -1, false
	}
	p := idx / WordsPerPage
	if p >= len(l.Pages) {
		return Page{}, -1, false
	}
	return l.Pages[p], idx, true
}

func paginate(words models.WordTimings, m Measurer, maxWidth float64) []Page {
	var pages []Page
	for first := 0; first < len(words); first += WordsPerPage {
		last := first + WordsPerPage
		if last > len(words) {
			last = len(words)
		}
		p := Page{
			First: first,
			Start: words[first].Start,
			End:   words[last-1].End,
		}
		for i := first; i < last; i++ {
			p.Words = append(p.Words, i)
		}
		p.Lines = wrap(words, p.Words, m, maxWidth)
		pages = append(pages, p)
	}
	return pages
}

// wrap greedily fills lines up to maxWidth. A word wider than maxWidth gets a
// line of its own.
func wrap(words models.WordTimings, idx []int, m Measurer, maxWidth float64) [][]int {
	if m == nil {
		return [][]int{idx}
	}
	var lines [][]int
	var line []int
	var text []string
	for _, i := range idx {
		candidate := strings.Join(append(text, words[i].Word), " ")
		if len(line) > 0 && m.Measure(candidate) > maxWidth {
			lines = append(lines, line)
			line, text = nil, nil
		}
		line = append(line, i)
		text = append(text, words[i].Word)
	}
	if len(line) > 0 {
		lines = append(lines, line)
	}
	return lines
}
