package derive

import (
	"slices"
	"time"

	"github.com/roach88/grove/internal/event"
)

// GoalState is the lifecycle state of a goal. Closed and Abandoned are terminal.
type GoalState string

const (
	GoalActive    GoalState = "active"
	GoalClosed    GoalState = "closed"
	GoalAbandoned GoalState = "abandoned"
)

// LogEntry is one progress note on a goal.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Prompt    string    `json:"prompt,omitempty"`
}

// Goal is a sprout reconstructed from its events.
type Goal struct {
	ID              string     `json:"id"`
	CategoryID      string     `json:"categoryId"`
	Title           string     `json:"title"`
	DurationClass   string     `json:"durationClass"`
	DifficultyClass string     `json:"difficultyClass"`
	SoilCost        float64    `json:"soilCost"`
	GroupingID      string     `json:"groupingId,omitempty"`
	MilestoneLow    string     `json:"milestoneLow,omitempty"`
	MilestoneMid    string     `json:"milestoneMid,omitempty"`
	MilestoneHigh   string     `json:"milestoneHigh,omitempty"`
	Logs            []LogEntry `json:"logs"`
	State           GoalState  `json:"state"`
	CreatedAt       time.Time  `json:"createdAt"`

	// Set by goal_closed.
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	Result     int        `json:"result,omitempty"`
	Reflection string     `json:"reflection,omitempty"`
	Reward     float64    `json:"reward,omitempty"`

	// Set by goal_abandoned.
	AbandonedAt  *time.Time `json:"abandonedAt,omitempty"`
	SoilReturned float64    `json:"soilReturned,omitempty"`
}

// Grouping is a named collection of goals under one category (a saga).
type Grouping struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"categoryId"`
	Name       string    `json:"name"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Reflection is a sun entry.
type Reflection struct {
	Timestamp     time.Time `json:"timestamp"`
	CategoryID    string    `json:"categoryId"`
	CategoryLabel string    `json:"categoryLabel"`
	Text          string    `json:"text"`
	Prompt        string    `json:"prompt,omitempty"`
}

// Soil is the spendable balance and its ceiling.
type Soil struct {
	Capacity  float64 `json:"capacity"`
	Available float64 `json:"available"`
}

// Allowance is a time-windowed action budget (water or sun).
type Allowance struct {
	Capacity  int       `json:"capacity"`
	Used      int       `json:"used"`
	Available int       `json:"available"`
	ResetAt   time.Time `json:"resetAt"`   // start of the current window
	NextReset time.Time `json:"nextReset"` // start of the next window
}

// Streak counts consecutive service days with at least one progress log.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// SoilPoint is one sample of the soil chart.
type SoilPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Capacity  float64   `json:"capacity"`
	Available float64   `json:"available"`
}

// Skipped records an event the fold could not apply.
type Skipped struct {
	Key    string     `json:"key"`
	Kind   event.Kind `json:"kind"`
	Reason string     `json:"reason"`
}

// State is the complete materialized view computed from the log.
type State struct {
	Goals       []Goal             `json:"goals"`
	Groupings   []Grouping         `json:"groupings"`
	Reflections []Reflection       `json:"reflections"`
	Soil        Soil               `json:"soil"`
	Water       Allowance          `json:"water"`
	Sun         Allowance          `json:"sun"`
	Streak      Streak             `json:"streak"`
	Scores      map[string]float64 `json:"scores"`
	SoilHistory []SoilPoint        `json:"soilHistory"`
	Skipped     []Skipped          `json:"skipped"`
	EventCount  int                `json:"eventCount"`
	ComputedAt  time.Time          `json:"computedAt"`

	// ValidUntil is the earliest window reset after ComputedAt. A cached
	// State stays correct for any now before it, as long as the log is
	// unchanged.
	ValidUntil time.Time `json:"validUntil"`
}

// Goal returns the goal with the given id.
// At returns a copy of s as of now. now must fall in [ComputedAt, ValidUntil)
// and the log must be unchanged; within that range only ComputedAt and the
// trailing SoilHistory point depend on now. Slices other than SoilHistory are
// shared with s.
func (s *State) At(now time.Time) *State {
	c := *s
	c.ComputedAt = now.UTC()
	if n := len(s.SoilHistory); n > 0 {
		c.SoilHistory = slices.Clone(s.SoilHistory)
		c.SoilHistory[n-1].Timestamp = now.UTC()
	}
	return &c
}

func (s *State) Goal(id string) (Goal, bool) {
	for _, g := range s.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// GoalsIn returns goals in the given state, in creation order.
func (s *State) GoalsIn(state GoalState) []Goal {
	var out []Goal
	for _, g := range s.Goals {
		if g.State == state {
			out = append(out, g)
		}
	}
	return out
}

// ActiveGoals is GoalsIn(GoalActive).
func (s *State) ActiveGoals() []Goal {
	return s.GoalsIn(GoalActive)
}

// Fingerprint returns a stable hash of the state. Two devices with the same
// log, rules and now produce the same fingerprint.
func (s *State) Fingerprint() (string, error) {
	return event.Fingerprint(event.DomainState, s)
}
