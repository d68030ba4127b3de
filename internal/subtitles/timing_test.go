package subtitles

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/image/font/basicfont"

	"github.com/bobarin/reelcut/internal/models"
)

func TestTimingsPartitionDuration(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		duration float64
	}{
		{"single word", "Hello", 1.5},
		{"sentence", "The quick brown fox jumps over the lazy dog.", 4},
		{"punctuation", "Wait, what? Really; no. Yes!", 3.3},
		{"irregular spacing", "  spaced\tout \n words  ", 2.2},
		{"long", strings.Repeat("word, another. ", 40), 37.77},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Timings(tt.text, tt.duration, nil)
			if len(got) != len(strings.Fields(tt.text)) {
				t.Fatalf("got %d timings, want %d", len(got), len(strings.Fields(tt.text)))
			}
			if got[0].Start != 0 {
				t.Errorf("first start = %v, want 0", got[0].Start)
			}
			if got[len(got)-1].End != tt.duration {
				t.Errorf("last end = %v, want %v", got[len(got)-1].End, tt.duration)
			}
			for i, w := range got {
				if w.End <= w.Start {
					t.Errorf("word %d (%q) not increasing: %v..%v", i, w.Word, w.Start, w.End)
				}
				if i > 0 && w.Start != got[i-1].End {
					t.Errorf("gap between word %d and %d: %v != %v", i-1, i, got[i-1].End, w.Start)
				}
			}
		})
	}
}

func TestTimingsProportionalToWeight(t *testing.T) {
	got := Timings("ab abcd.", 10, nil)
	// weights: 2 and 5+4
	if math.Abs(got[0].End-10*2.0/11.0) > 1e-9 {
		t.Errorf("first end = %v, want %v", got[0].End, 10*2.0/11.0)
	}
}

func TestTimingsExternalWinsVerbatim(t *testing.T) {
	external := models.WordTimings{
		{Word: "alpha", Start: 0.3, End: 0.9},
		{Word: "beta", Start: 1.2, End: 7.5},
	}
	got := Timings("completely different text here", 2, external)
	if !reflect.DeepEqual(got, external) {
		t.Errorf("got %+v, want external timings unchanged", got)
	}
}

func TestTimingsEmptyText(t *testing.T) {
	if got := Timings("   ", 3, nil); got != nil {
		t.Errorf("expected nil for blank text, got %+v", got)
	}
}

func TestWeight(t *testing.T) {
	tests := []struct {
		word string
		want float64
	}{
		{"word", 4},
		{"word,", 5 + clauseBonus},
		{"word;", 5 + clauseBonus},
		{"word:", 5 + clauseBonus},
		{"word.", 5 + sentenceBonus},
		{"word?", 5 + sentenceBonus},
		{"word!", 5 + sentenceBonus},
		{"café", 4},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Weight(tt.word); got != tt.want {
			t.Errorf("Weight(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
	if Weight("end.") <= Weight("end,") {
		t.Error("sentence-final pause should outweigh a mid-sentence pause")
	}
}

func TestActiveIndex(t *testing.T) {
	words := models.WordTimings{
		{Word: "a", Start: 0, End: 1},
		{Word: "b", Start: 1, End: 2},
		{Word: "c", Start: 2, End: 3},
	}
	tests := []struct {
		t    float64
		want int
	}{
		{-0.5, -1},
		{0, 0},
		{0.99, 0},
		{1, 1},
		{2.5, 2},
		{10, 2},
	}
	for _, tt := range tests {
		if got := ActiveIndex(words, tt.t); got != tt.want {
			t.Errorf("ActiveIndex(%v) = %d, want %d", tt.t, got, tt.want)
		}
	}
}

// fixedMeasurer treats every rune as 10px wide.
type fixedMeasurer struct{}

func (fixedMeasurer) Measure(s string) float64 { return float64(utf8.RuneCountInString(s)) * 10 }

func TestLayoutPagesOfSeven(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen"
	l := NewLayout(text, 15, nil, fixedMeasurer{}, 1080)

	if len(l.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(l.Pages))
	}
	if len(l.Pages[0].Words) != WordsPerPage || len(l.Pages[1].Words) != WordsPerPage || len(l.Pages[2].Words) != 1 {
		t.Errorf("unexpected page sizes: %d %d %d", len(l.Pages[0].Words), len(l.Pages[1].Words), len(l.Pages[2].Words))
	}
	if l.Pages[1].First != 7 {
		t.Errorf("second page first = %d, want 7", l.Pages[1].First)
	}
	if l.Pages[0].Start != 0 || l.Pages[2].End != 15 {
		t.Errorf("pages should span the whole duration, got %v..%v", l.Pages[0].Start, l.Pages[2].End)
	}

	p, idx, ok := l.PageAt(l.Words[8].Start)
	if !ok || idx != 8 || p.First != 7 {
		t.Errorf("PageAt word 8 = page %d idx %d ok %v", p.First, idx, ok)
	}
}

func TestLayoutWrapsToCanvasFraction(t *testing.T) {
	// 200px canvas -> 160px lines -> at most 16 runes per line.
	l := NewLayout("aaaa bbbb cccc dddd eeeeeeeeeeeeeeeeeeee ff", 6, nil, fixedMeasurer{}, 200)
	lines := l.Pages[0].Lines

	want := [][]int{{0, 1, 2}, {3}, {4}, {5}}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestFaceMeasurer(t *testing.T) {
	m := FaceMeasurer{Face: basicfont.Face7x13}
	if got := m.Measure("abc"); got != 21 {
		t.Errorf("Measure(abc) = %v, want 21", got)
	}
}
