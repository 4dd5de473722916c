package model

import "strings"

// Kind is the driver a test script is executed with.
type Kind string

// Job kinds. The set is closed; command construction switches over it.
const (
	KindUnit        Kind = "unit"
	KindDemo        Kind = "demo"
	KindBooklet     Kind = "booklet"
	KindNotebook    Kind = "notebook"
	KindBrowserTest Kind = "browser"
)

// Lang is the interpreter family a test script is written for.
type Lang string

// Script languages.
const (
	LangR      Lang = "r"
	LangPython Lang = "python"
	LangJS     Lang = "js"
)

// Size is the resource class of a test, derived from its file name.
type Size string

// Size tags, smallest first.
const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
	SizeXLarge Size = "xlarge"
)

// ParseSize accepts both the long names and the CLI short forms (s, m, l, xl).
func ParseSize(s string) (Size, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "small":
		return SizeSmall, true
	case "m", "medium":
		return SizeMedium, true
	case "l", "large":
		return SizeLarge, true
	case "xl", "xlarge":
		return SizeXLarge, true
	}
	return "", false
}

// Tag is an advisory quality marker. Tags affect reporting, never scheduling.
type Tag string

// Quality tags as they appear in test file names.
const (
	TagNoPass    Tag = "NOPASS"
	TagNoFeature Tag = "NOFEATURE"
	TagInternal  Tag = "INTERNAL"
)

// Outcome is the classification of a job, terminal once it leaves pending/running.
type Outcome string

// Job outcomes.
const (
	OutcomePending        Outcome = "pending"
	OutcomeRunning        Outcome = "running"
	OutcomePassed         Outcome = "passed"
	OutcomeFailed         Outcome = "failed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeDidNotComplete Outcome = "did_not_complete"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeTerminated     Outcome = "terminated"
)

// validTransitions maps each outcome to the set of outcomes it may transition to.
// Terminal outcomes have no entry.
var validTransitions = map[Outcome]map[Outcome]bool{
	OutcomePending: {
		OutcomeRunning:        true,
		OutcomeCancelled:      true,
		OutcomeDidNotComplete: true,
	},
	OutcomeRunning: {
		OutcomePassed:         true,
		OutcomeFailed:         true,
		OutcomeSkipped:        true,
		OutcomeDidNotComplete: true,
		OutcomeTerminated:     true,
	},
}

// ValidTransition reports whether moving from one outcome to another is allowed.
func ValidTransition(from, to Outcome) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether o is a final classification.
func (o Outcome) Terminal() bool {
	_, ok := validTransitions[o]
	return !ok
}
