package derive

import (
	"errors"
	"fmt"
	"time"
)

// Rules holds every constant of the resource economy. Derivation is a pure
// function of (events, now, rules); two devices must run identical rules to
// converge.
type Rules struct {
	StartingCapacity float64 `json:"startingCapacity"`
	MaxCapacity      float64 `json:"maxCapacity"`

	// DiminishingExponent is p in max(0, 1 - capacity/max)^p.
	DiminishingExponent float64 `json:"diminishingExponent"`

	BaseReward           map[string]float64 `json:"baseReward"`           // by duration class
	DifficultyMultiplier map[string]float64 `json:"difficultyMultiplier"` // by difficulty class
	ResultMultiplier     map[int]float64    `json:"resultMultiplier"`     // by result 1-5

	WaterRecovery float64 `json:"waterRecovery"` // soil per goal_logged on an active goal
	SunRecovery   float64 `json:"sunRecovery"`   // soil per reflection_made

	WaterCapacity  int          `json:"waterCapacity"` // per service day
	SunCapacity    int          `json:"sunCapacity"`   // per week
	ResetHour      int          `json:"resetHour"`     // local hour the service day starts
	SunResetDay    time.Weekday `json:"sunResetDay"`

	ScoreStartWeight      float64 `json:"scoreStartWeight"`      // multiplied by soil cost
	ScoreLogWeight        float64 `json:"scoreLogWeight"`        // per progress entry
	ScoreReflectionWeight float64 `json:"scoreReflectionWeight"` // per reflection
	ScoreCloseWeight      float64 `json:"scoreCloseWeight"`      // multiplied by result/5
	ScoreCeiling          float64 `json:"scoreCeiling"`
}

// DefaultRules returns the canonical economy shared by every client.
func DefaultRules() Rules {
	return Rules{
		StartingCapacity:    10,
		MaxCapacity:         120,
		DiminishingExponent: 1.5,
		BaseReward: map[string]float64{
			"2w": 0.26,
			"1m": 0.56,
			"3m": 1.95,
			"6m": 4.16,
			"1y": 8.84,
		},
		DifficultyMultiplier: map[string]float64{
			"fertile": 1.1,
			"firm":    1.75,
			"barren":  2.4,
		},
		ResultMultiplier: map[int]float64{
			1: 0.4,
			2: 0.55,
			3: 0.7,
			4: 0.85,
			5: 1.0,
		},
		WaterRecovery:         0.05,
		SunRecovery:           0.35,
		WaterCapacity:         3,
		SunCapacity:           1,
		ResetHour:             6,
		SunResetDay:           time.Monday,
		ScoreStartWeight:      1,
		ScoreLogWeight:        0.1,
		ScoreReflectionWeight: 0.5,
		ScoreCloseWeight:      2,
		ScoreCeiling:          20,
	}
}

// Validate rejects rule sets that would break the soil bounds.
func (r Rules) Validate() error {
	var errs []error
	if r.MaxCapacity <= 0 {
		errs = append(errs, errors.New("maxCapacity must be positive"))
	}
	if r.StartingCapacity < 0 || r.StartingCapacity > r.MaxCapacity {
		errs = append(errs, fmt.Errorf("startingCapacity %v outside [0, %v]", r.StartingCapacity, r.MaxCapacity))
	}
	if r.DiminishingExponent <= 0 {
		errs = append(errs, errors.New("diminishingExponent must be positive"))
	}
	if r.WaterCapacity < 0 || r.SunCapacity < 0 {
		errs = append(errs, errors.New("water and sun capacity must be non-negative"))
	}
	if r.ResetHour < 0 || r.ResetHour > 23 {
		errs = append(errs, fmt.Errorf("resetHour %d outside 0-23", r.ResetHour))
	}
	if r.SunResetDay < time.Sunday || r.SunResetDay > time.Saturday {
		errs = append(errs, fmt.Errorf("sunResetDay %d is not a weekday", r.SunResetDay))
	}
	if r.ScoreCeiling <= 0 {
		errs = append(errs, errors.New("scoreCeiling must be positive"))
	}
	for result := range r.ResultMultiplier {
		if result < 1 || result > 5 {
			errs = append(errs, fmt.Errorf("resultMultiplier key %d outside 1-5", result))
		}
	}
	return errors.Join(errs...)
}
