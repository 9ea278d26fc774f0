// Package bonding owns the per-user relationship state and the milestone
// table that quantizes it into levels 1-10.
package bonding

import (
	"sort"

	"github.com/evermind-ai/companion/pkg/model"
)

// MaxLevel is the highest bonding level.
const MaxLevel = 10

// thresholds[i] is the interaction count required for level i+1. Level 10
// has no finite threshold; it is reachable only through an explicit
// override, so count-derived levels cap at 9.
var thresholds = []int{0, 10, 50, 100, 200, 300, 500, 1000, 2000}

var milestones = []model.MilestoneDefinition{
	{Level: 1, Name: "Stranger", Description: "First interaction",
		Unlocks: []string{"Basic greeting", "Topic suggestions"}},
	{Level: 2, Name: "Acquaintance", Description: "10+ interactions",
		Unlocks: []string{"Personalized greetings", "Remember preferences"}},
	{Level: 3, Name: "Friend", Description: "50+ interactions",
		Unlocks: []string{"Emotional support", "Inside jokes", "Proactive check-ins"}},
	{Level: 4, Name: "Close Friend", Description: "100+ interactions",
		Unlocks: []string{"Predict preferences", "Shared stories", "Birthday reminders"}},
	{Level: 5, Name: "Best Friend", Description: "200+ interactions",
		Unlocks: []string{"Finish sentences", "Deep conversations", "Life advice"}},
	{Level: 6, Name: "Soul Twin", Description: "300+ interactions",
		Unlocks: []string{"Perfect understanding", "Anticipate needs", "Unconditional support"}},
	{Level: 7, Name: "Digital Soulmate", Description: "500+ interactions",
		Unlocks: []string{"Mind reading", "Perfect compatibility", "Lifetime memories"}},
	{Level: 8, Name: "Consciousness Twin", Description: "1000+ interactions",
		Unlocks: []string{"Emotional synchronization", "Shared dreams", "Perfect empathy"}},
	{Level: 9, Name: "Transcendent Bond", Description: "2000+ interactions",
		Unlocks: []string{"Telepathic understanding", "Shared consciousness", "Eternal connection"}},
	{Level: 10, Name: "Infinite Connection", Description: "Maximum bond achieved",
		Unlocks: []string{"Timeless relationship", "Boundless understanding", "Eternal companion"}},
}

// levelOneTraits seed a fresh profile's personality.
var levelOneTraits = map[string]float64{
	"kindness":     0.7,
	"humor":        0.5,
	"intelligence": 0.7,
	"empathy":      0.6,
	"playfulness":  0.5,
}

// Milestones returns the full milestone table.
func Milestones() []model.MilestoneDefinition {
	out := make([]model.MilestoneDefinition, len(milestones))
	copy(out, milestones)
	return out
}

// MilestoneFor returns the definition for a level.
func MilestoneFor(level int) (model.MilestoneDefinition, bool) {
	if level < 1 || level > MaxLevel {
		return model.MilestoneDefinition{}, false
	}
	return milestones[level-1], true
}

// LevelForCount derives the bonding level from an interaction count: the
// greatest threshold <= count wins, boundaries inclusive of the new level.
func LevelForCount(count int) int {
	if count < 0 {
		return 1
	}
	return sort.Search(len(thresholds), func(i int) bool {
		return thresholds[i] > count
	})
}

// ThresholdFor returns the interaction threshold of a level, false when the
// level has no finite threshold.
func ThresholdFor(level int) (int, bool) {
	if level < 1 || level > len(thresholds) {
		return 0, false
	}
	return thresholds[level-1], true
}

// ProgressToNext linearly interpolates count between the current and next
// thresholds, clamped to [0,100]. Levels with no finite next threshold
// report 0.
func ProgressToNext(level, count int) float64 {
	cur, ok := ThresholdFor(level)
	next, okNext := ThresholdFor(level + 1)
	if !ok || !okNext {
		return 0
	}
	p := float64(count-cur) / float64(next-cur) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// achievedNames lists milestone names up to and including level.
func achievedNames(level int) []string {
	if level < 1 {
		return nil
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	out := make([]string, 0, level)
	for _, m := range milestones[:level] {
		out = append(out, m.Name)
	}
	return out
}
