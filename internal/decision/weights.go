package decision

import (
	"math"
	"strings"
)

// DefaultFallacyWeight applies to fallacy names missing from the table.
const DefaultFallacyWeight = 0.5

// DefaultWeights rates how much each fallacy degrades an argument.
var DefaultWeights = map[string]float64{
	"Ad Hominem":           1.0,
	"Strawman":             0.9,
	"Straw Man":            0.9,
	"False Dilemma":        0.8,
	"Slippery Slope":       0.7,
	"Appeal to Fear":       0.8,
	"Appeal to Emotion":    0.6,
	"Whataboutism":         0.7,
	"Tu Quoque":            0.7,
	"Red Herring":          0.6,
	"Hasty Generalization": 0.6,
	"Cherry Picking":       0.7,
	"False Equivalence":    0.6,
	"Moving the Goalposts": 0.6,
	"Loaded Question":      0.5,
	"Bandwagon":            0.4,
	"Appeal to Authority":  0.4,
	"Appeal to Tradition":  0.3,
	"Circular Reasoning":   0.5,
	"No True Scotsman":     0.5,
	"Gish Gallop":          0.6,
	"Post Hoc":             0.5,
	"Genetic Fallacy":      0.4,
	"Poisoning the Well":   0.8,
	"Appeal to Nature":     0.3,
}

type weightTable map[string]float64

func newWeightTable(weights map[string]float64) weightTable {
	t := make(weightTable, len(weights))
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		t[normalizeName(name)] = w
	}
	return t
}

func (t weightTable) weight(name string) float64 {
	if w, ok := t[normalizeName(name)]; ok {
		return w
	}
	return DefaultFallacyWeight
}

// normalizeName collapses runs of whitespace and folds case so "strawman",
// " Strawman " and "STRAWMAN" share one entry.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
