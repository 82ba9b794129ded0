package session

import (
	"scriptroom/domain"
	"time"
)

const (
	DefaultKaraokeStep      = 2
	DefaultBaseDelay        = 90 * time.Millisecond
	DefaultPunctuationDelay = 300 * time.Millisecond
)

func DefaultTiming() domain.Timing {
	return domain.Timing{
		KaraokeStep:      DefaultKaraokeStep,
		BaseDelay:        DefaultBaseDelay,
		PunctuationDelay: DefaultPunctuationDelay,
	}
}

func isPause(r rune) bool {
	switch r {
	case '.', ',', '!', '?':
		return true
	}
	return false
}

// nextStep reveals up to t.KaraokeStep runes of text starting at cursor. The
// first pause rune inside the window ends the step (inclusive) and selects
// the punctuation delay.
func nextStep(text []rune, cursor int, t domain.Timing) (int, time.Duration) {
	step := t.KaraokeStep
	if step < 1 {
		step = 1
	}

	end := min(cursor+step, len(text))
	for i := cursor; i < end; i++ {
		if isPause(text[i]) {
			return i + 1, t.PunctuationDelay
		}
	}
	return end, t.BaseDelay
}
