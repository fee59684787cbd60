// Package emotion scores dream narratives against six fixed emotion labels.
package emotion

import (
	"fmt"
	"math"
)

// Label is one of the six emotion categories a dream is scored on.
type Label string

const (
	Happy   Label = "heureux"
	Anxious Label = "anxieux"
	Sad     Label = "triste"
	Angry   Label = "en_colere"
	Tired   Label = "fatigue"
	Afraid  Label = "apeure"
)

// Labels lists every label in display order.
var Labels = []Label{Happy, Anxious, Sad, Angry, Tired, Afraid}

var displayNames = map[Label]string{
	Happy:   "Heureux",
	Anxious: "Anxieux",
	Sad:     "Triste",
	Angry:   "En colère",
	Tired:   "Fatigué",
	Afraid:  "Apeuré",
}

// Valid reports whether l is one of the six known labels.
func (l Label) Valid() bool {
	_, ok := displayNames[l]
	return ok
}

// DisplayName returns the French label shown in the UI.
func (l Label) DisplayName() string {
	if name, ok := displayNames[l]; ok {
		return name
	}
	return string(l)
}

// Scores maps each label to a score.
type Scores map[Label]float64

// Score is a single label/value pair.
type Score struct {
	Label Label
	Value float64
}

// sumTolerance is the worst-case drift of six values rounded to 3 decimals.
const sumTolerance = 6*0.0005 + 1e-9

// Validate checks that s is a normalized distribution over exactly the six
// labels.
func (s Scores) Validate() error {
	if len(s) != len(Labels) {
		return fmt.Errorf("emotion scores have %d labels, want %d", len(s), len(Labels))
	}
	var sum float64
	for _, l := range Labels {
		v, ok := s[l]
		if !ok {
			return fmt.Errorf("emotion scores missing %q", l)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("emotion score %q = %v out of [0,1]", l, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("emotion scores sum to %.3f, want 1", sum)
	}
	return nil
}

// Ordered returns the scores in display order. Labels absent from s are
// skipped.
func (s Scores) Ordered() []Score {
	out := make([]Score, 0, len(Labels))
	for _, l := range Labels {
		if v, ok := s[l]; ok {
			out = append(out, Score{Label: l, Value: v})
		}
	}
	return out
}

// Dominant returns the label with the highest score. Ties resolve to the
// label listed first. It returns "" for empty scores.
func (s Scores) Dominant() Label {
	var best Label
	bestVal := math.Inf(-1)
	for _, l := range Labels {
		if v, ok := s[l]; ok && v > bestVal {
			best, bestVal = l, v
		}
	}
	return best
}
