// Package subtitles derives word timings for narration text and lays them out
// into the fixed-size pages the compositor draws.
package subtitles

import (
	"strings"
	"unicode/utf8"

	"github.com/bobarin/reelcut/internal/models"
)

const (
	// Bonus weight for a word ending in a mid-sentence pause (, ; :).
	clauseBonus = 2
	// Bonus weight for a word ending a sentence (. ? !).
	sentenceBonus = 4
)

// Timings returns word timings for text spoken over duration seconds.
//
// When external timings are supplied they are returned verbatim. Otherwise
// the text is split on whitespace and each word gets a slice of
// [0, duration] proportional to its weight. The slices are contiguous, the
// first starts at 0 and the last ends exactly at duration.
func Timings(text string, duration float64, external models.WordTimings) models.WordTimings {
	if len(external) > 0 {
		return external
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if duration < 0 {
		duration = 0
	}

	weights := make([]float64, len(words))
	var total float64
	for i, w := range words {
		weights[i] = Weight(w)
		total += weights[i]
	}

	out := make(models.WordTimings, len(words))
	var cum, start float64
	for i, w := range words {
		cum += weights[i]
		end := duration * cum / total
		if i == len(words)-1 {
			end = duration
		}
		out[i] = models.WordTiming{Word: w, Start: start, End: end}
		start = end
	}
	return out
}

// Weight is the relative speaking time of one word: its rune length plus a
// pause bonus for trailing punctuation. Sentence-final punctuation weighs
// more than a mid-sentence pause.
func Weight(word string) float64 {
	w := float64(utf8.RuneCountInString(word))
	if w == 0 {
		return 0
	}
	last, _ := utf8.DecodeLastRuneInString(word)
	switch last {
	case '.', '?', '!':
		w += sentenceBonus
	case ',', ';', ':':
		w += clauseBonus
	}
	return w
}

// ActiveIndex returns the index of the word spoken at t, or -1 when t is
// before the first word. Past the last word the last index is returned so the
// final page stays on screen until the scene ends.
func ActiveIndex(words models.WordTimings, t float64) int {
	if len(words) == 0 || t < words[0].Start {
		return -1
	}
	for i, w := range words {
		if t < w.End {
			return i
		}
	}
	return len(words) - 1
}
