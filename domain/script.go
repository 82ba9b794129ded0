package domain

import "time"

// Line is a single piece of dialogue owned by one character.
type Line struct {
	Character string `json:"character"`
	Text      string `json:"text"`
}

// TimingOverrides holds the optional per-script playback tuning. A nil field
// falls back to the server default.
type TimingOverrides struct {
	KaraokeStep      *int `json:"karaokeStep,omitempty"`
	BaseDelay        *int `json:"baseDelay,omitempty"`
	PunctuationDelay *int `json:"punctuationDelay,omitempty"`
}

// Script is an immutable catalog entry. Nothing mutates a Script after the
// catalog has loaded it, so rooms share the same pointer.
type Script struct {
	Id         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Characters []string        `json:"characters"`
	Lines      []Line          `json:"lines"`
	Timing     TimingOverrides `json:"timing"`
}

// HasCharacter reports whether name is part of the script's cast.
func (s *Script) HasCharacter(name string) bool {
	for _, c := range s.Characters {
		if c == name {
			return true
		}
	}
	return false
}

// Timing is the resolved reveal configuration of a scene.
type Timing struct {
	KaraokeStep      int
	BaseDelay        time.Duration
	PunctuationDelay time.Duration
}

// Resolve applies the script overrides on top of defaults. Delays in scripts
// are expressed in milliseconds.
func (o TimingOverrides) Resolve(defaults Timing) Timing {
	t := defaults
	if o.KaraokeStep != nil && *o.KaraokeStep > 0 {
		t.KaraokeStep = *o.KaraokeStep
	}
	if o.BaseDelay != nil && *o.BaseDelay >= 0 {
		t.BaseDelay = time.Duration(*o.BaseDelay) * time.Millisecond
	}
	if o.PunctuationDelay != nil && *o.PunctuationDelay >= 0 {
		t.PunctuationDelay = time.Duration(*o.PunctuationDelay) * time.Millisecond
	}
	return t
}
