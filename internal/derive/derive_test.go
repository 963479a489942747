package derive

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/event"
)

// evt builds an event with a client id and an RFC 3339 timestamp.
func evt(kind event.Kind, clientID, ts string, kv ...any) event.Event {
	return event.Event{
		Kind:            kind,
		ClientID:        clientID,
		ClientTimestamp: ts,
		Payload:         event.P(kv...),
	}
}

func started(clientID, ts, goalID string, cost float64) event.Event {
	return evt(event.KindGoalStarted, clientID, ts,
		"goalId", goalID,
		"categoryId", "health",
		"title", "Run 5k",
		"durationClass", "1m",
		"difficultyClass", "firm",
		"soilCost", cost,
	)
}

func logged(clientID, ts, goalID string) event.Event {
	return evt(event.KindGoalLogged, clientID, ts, "goalId", goalID, "text", "progress")
}

var wednesdayNoon = time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

func fingerprint(t *testing.T, s *State) string {
	t.Helper()
	fp, err := s.Fingerprint()
	require.NoError(t, err)
	return fp
}

func TestDerive_Empty(t *testing.T) {
	st := Derive(nil, wednesdayNoon)

	assert.Equal(t, Soil{Capacity: 10, Available: 10}, st.Soil)
	assert.Empty(t, st.Goals)
	assert.NotNil(t, st.Goals)
	assert.Equal(t, 3, st.Water.Available)
	assert.Equal(t, 1, st.Sun.Available)
	assert.Equal(t, Streak{}, st.Streak)
	require.Len(t, st.SoilHistory, 1, "trailing point at now")
	assert.Equal(t, wednesdayNoon, st.SoilHistory[0].Timestamp)
}

func TestDerive_StartDeductsSoil(t *testing.T) {
	st := Derive([]event.Event{started("c1", "2026-01-05T09:00:00Z", "g1", 5)}, wednesdayNoon)

	assert.Equal(t, 5.0, st.Soil.Available)
	assert.Equal(t, 10.0, st.Soil.Capacity)

	g, ok := st.Goal("g1")
	require.True(t, ok)
	assert.Equal(t, GoalActive, g.State)
	assert.Equal(t, "Run 5k", g.Title)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), g.CreatedAt)
}

func TestDerive_StartFloorsAtZero(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 8),
		started("c2", "2026-01-05T10:00:00Z", "g2", 8),
	}, wednesdayNoon)

	assert.Equal(t, 0.0, st.Soil.Available)
	assert.Len(t, st.ActiveGoals(), 2)
}

func TestDerive_StartMissingFieldsSkipped(t *testing.T) {
	bad := evt(event.KindGoalStarted, "c1", "2026-01-05T09:00:00Z", "goalId", "g1", "soilCost", 2)
	st := Derive([]event.Event{bad}, wednesdayNoon)

	assert.Empty(t, st.Goals)
	assert.Equal(t, 10.0, st.Soil.Available)
	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "c1", st.Skipped[0].Key)
	assert.Equal(t, "missing categoryId", st.Skipped[0].Reason)
}

func TestDerive_LogRecoversSoilOnlyWhenActive(t *testing.T) {
	events := []event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		logged("c2", "2026-01-05T10:00:00Z", "g1"),
		evt(event.KindGoalClosed, "c3", "2026-01-05T11:00:00Z", "goalId", "g1", "result", 3),
	}
	before := Derive(events, wednesdayNoon)

	after := Derive(append(events, logged("c4", "2026-01-06T10:00:00Z", "g1")), wednesdayNoon)

	g, _ := after.Goal("g1")
	assert.Len(t, g.Logs, 2, "entry is recorded on a closed goal")
	assert.Equal(t, before.Soil, after.Soil, "no reward for logging a closed goal")
}

func TestDerive_LogUnknownGoalSkipped(t *testing.T) {
	st := Derive([]event.Event{logged("c1", "2026-01-07T10:00:00Z", "nope")}, wednesdayNoon)

	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "unknown goal nope", st.Skipped[0].Reason)
	assert.Equal(t, 1, st.Water.Used, "the watering still counts against the allowance")
}

func TestDerive_CloseRewardsCapacity(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		evt(event.KindGoalClosed, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "result", 5, "reflection", "done"),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalClosed, g.State)
	assert.Equal(t, 5, g.Result)
	assert.Equal(t, "done", g.Reflection)
	require.NotNil(t, g.ClosedAt)
	assert.InDelta(t, 0.8600886851344438, g.Reward, 1e-9)

	assert.Equal(t, 10.86, st.Soil.Capacity)
	assert.Equal(t, 10.86, st.Soil.Available, "cost plus reward, clamped to the new capacity")
}

func TestDerive_CloseInvalid(t *testing.T) {
	events := []event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		evt(event.KindGoalClosed, "c2", "2026-01-06T09:00:00Z", "goalId", "g1"),
		evt(event.KindGoalClosed, "c3", "2026-01-06T10:00:00Z", "goalId", "g1", "result", 9),
	}
	st := Derive(events, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalActive, g.State)
	require.Len(t, st.Skipped, 2)
	assert.Equal(t, "missing result", st.Skipped[0].Reason)
	assert.Equal(t, "result out of range", st.Skipped[1].Reason)
}

func TestDerive_ClosedIsTerminal(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		evt(event.KindGoalClosed, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "result", 4),
		evt(event.KindGoalAbandoned, "c3", "2026-01-06T10:00:00Z", "goalId", "g1", "soilReturned", 2),
		evt(event.KindGoalClosed, "c4", "2026-01-06T11:00:00Z", "goalId", "g1", "result", 5),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalClosed, g.State)
	assert.Equal(t, 4, g.Result)
	assert.Nil(t, g.AbandonedAt)
}

func TestDerive_AbandonReturnsSoilOnce(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 6),
		evt(event.KindGoalAbandoned, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "soilReturned", 2.5),
		evt(event.KindGoalAbandoned, "c3", "2026-01-06T10:00:00Z", "goalId", "g1", "soilReturned", 2.5),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalAbandoned, g.State)
	assert.Equal(t, 2.5, g.SoilReturned)
	assert.Equal(t, 6.5, st.Soil.Available)
	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "goal not active", st.Skipped[0].Reason)
}

func TestDerive_AbandonClampedToCapacity(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 1),
		evt(event.KindGoalAbandoned, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "soilReturned", 50),
	}, wednesdayNoon)

	assert.Equal(t, 10.0, st.Soil.Available)
}

func TestDerive_ReflectionRecoversSoil(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		evt(event.KindReflectionMade, "c2", "2026-01-06T09:00:00Z",
			"categoryId", "health", "categoryLabel", "Health", "text", "steady", "prompt", "What grew?"),
	}, wednesdayNoon)

	require.Len(t, st.Reflections, 1)
	assert.Equal(t, "What grew?", st.Reflections[0].Prompt)
	assert.Equal(t, 5.35, st.Soil.Available)
	assert.Equal(t, 1, st.Sun.Used)
	assert.Equal(t, 0, st.Sun.Available)
}

func TestDerive_GroupingFirstWins(t *testing.T) {
	st := Derive([]event.Event{
		evt(event.KindGroupingCreated, "c1", "2026-01-05T09:00:00Z", "groupingId", "s1", "categoryId", "health", "name", "First"),
		evt(event.KindGroupingCreated, "c2", "2026-01-05T10:00:00Z", "groupingId", "s1", "categoryId", "health", "name", "Second"),
	}, wednesdayNoon)

	require.Len(t, st.Groupings, 1)
	assert.Equal(t, "First", st.Groupings[0].Name)
}

func TestDerive_EditSparseMerge(t *testing.T) {
	base := evt(event.KindGoalStarted, "c1", "2026-01-05T09:00:00Z",
		"goalId", "g1", "categoryId", "health", "title", "Run", "durationClass", "1m",
		"difficultyClass", "firm", "soilCost", 2, "milestoneLow", "walk", "milestoneMid", "jog", "groupingId", "s1")

	st := Derive([]event.Event{
		base,
		evt(event.KindGoalEdited, "c2", "2026-01-05T10:00:00Z", "goalId", "g1", "title", "Run far", "milestoneMid", nil),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, "Run far", g.Title)
	assert.Equal(t, "walk", g.MilestoneLow, "absent field untouched")
	assert.Equal(t, "", g.MilestoneMid, "explicit null clears")
	assert.Equal(t, "s1", g.GroupingID)
}

// Editing a finished goal is allowed: goal_edited carries no state guard.
func TestDerive_EditAppliesToClosedGoal(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 2),
		evt(event.KindGoalClosed, "c2", "2026-01-05T10:00:00Z", "goalId", "g1", "result", 2),
		evt(event.KindGoalEdited, "c3", "2026-01-05T11:00:00Z", "goalId", "g1", "title", "Renamed"),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalClosed, g.State)
	assert.Equal(t, "Renamed", g.Title)
}

func TestDerive_ReplayOrderIsClientTimestamp(t *testing.T) {
	// The close arrives first but happened after the start.
	st := Derive([]event.Event{
		evt(event.KindGoalClosed, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "result", 5),
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Equal(t, GoalClosed, g.State)
	assert.Empty(t, st.Skipped)
}

func TestDerive_MixedOffsetsSortByInstant(t *testing.T) {
	// 10:00+02:00 is 08:00Z, before the 09:00Z start.
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		logged("c2", "2026-01-05T10:00:00+02:00", "g1"),
	}, wednesdayNoon)

	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "unknown goal g1", st.Skipped[0].Reason)
}

func TestDerive_UnparseableTimestampSkipped(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "not-a-time", "g1", 5),
		started("c1", "not-a-time", "g1", 5),
	}, wednesdayNoon)

	assert.Empty(t, st.Goals)
	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "unparseable client timestamp", st.Skipped[0].Reason)
}

func TestDerive_UnparseableCopyOfValidEventIsDuplicate(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "not-a-time", "g1", 5),
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
	}, wednesdayNoon)

	assert.Len(t, st.Goals, 1)
	assert.Empty(t, st.Skipped)
	assert.Equal(t, 1, st.EventCount)
}

func TestState_At(t *testing.T) {
	st := Derive(history(), wednesdayNoon)
	later := wednesdayNoon.Add(5 * time.Hour)
	require.True(t, later.Before(st.ValidUntil))

	moved := st.At(later)
	assert.Equal(t, fingerprint(t, Derive(history(), later)), fingerprint(t, moved))
	assert.Equal(t, wednesdayNoon, st.ComputedAt, "receiver unchanged")
	assert.Equal(t, wednesdayNoon, st.SoilHistory[len(st.SoilHistory)-1].Timestamp)
}

func TestDerive_UnknownKindSkipped(t *testing.T) {
	st := Derive([]event.Event{evt("goal_deleted", "c1", "2026-01-05T09:00:00Z")}, wednesdayNoon)
	require.Len(t, st.Skipped, 1)
	assert.Equal(t, "unknown kind", st.Skipped[0].Reason)
}

func TestDerive_LegacyEventsDedupByComposite(t *testing.T) {
	legacy := evt(event.KindGoalLogged, "", "2026-01-07T10:00:00Z", "goalId", "g1")
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		legacy,
		legacy,
	}, wednesdayNoon)

	g, _ := st.Goal("g1")
	assert.Len(t, g.Logs, 1)
	assert.Equal(t, 1, st.Water.Used)
}

func TestDerive_StreakScenario(t *testing.T) {
	events := []event.Event{
		logged("c1", "2026-01-05T10:00:00Z", "g1"),
		logged("c2", "2026-01-06T10:00:00Z", "g1"),
		logged("c3", "2026-01-07T10:00:00Z", "g1"),
	}
	st := Derive(events, wednesdayNoon)
	assert.Equal(t, Streak{Current: 3, Longest: 3}, st.Streak)

	// Nothing on the 8th.
	events = append(events, logged("c4", "2026-01-09T10:00:00Z", "g1"))
	st = Derive(events, time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, Streak{Current: 1, Longest: 3}, st.Streak)
}

func TestDerive_StreakSurvivesUntilDayEnds(t *testing.T) {
	events := []event.Event{
		logged("c1", "2026-01-05T10:00:00Z", "g1"),
		logged("c2", "2026-01-06T10:00:00Z", "g1"),
	}
	st := Derive(events, wednesdayNoon)
	assert.Equal(t, Streak{Current: 2, Longest: 2}, st.Streak, "today has no entry yet")

	st = Derive(events, time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, Streak{Current: 0, Longest: 2}, st.Streak)
}

func TestDerive_StreakUsesServiceDay(t *testing.T) {
	// 02:00 on the 6th still belongs to the service day of the 5th.
	events := []event.Event{
		logged("c1", "2026-01-05T10:00:00Z", "g1"),
		logged("c2", "2026-01-06T02:00:00Z", "g1"),
	}
	st := Derive(events, time.Date(2026, 1, 6, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, Streak{Current: 1, Longest: 1}, st.Streak)
}

func TestDerive_WaterWindowResets(t *testing.T) {
	events := []event.Event{
		logged("c1", "2026-01-07T07:00:00Z", "g1"),
		logged("c2", "2026-01-07T08:00:00Z", "g1"),
		logged("c3", "2026-01-07T09:00:00Z", "g1"),
		logged("c4", "2026-01-07T10:00:00Z", "g1"),
	}
	st := Derive(events, wednesdayNoon)
	assert.Equal(t, 4, st.Water.Used)
	assert.Equal(t, 0, st.Water.Available, "never negative")

	// 05:59 next day is still the same window.
	st = Derive(events, time.Date(2026, 1, 8, 5, 59, 0, 0, time.UTC))
	assert.Equal(t, 4, st.Water.Used)

	st = Derive(events, time.Date(2026, 1, 8, 6, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, st.Water.Used)
	assert.Equal(t, 3, st.Water.Available)
}

func TestDerive_WindowsUseLocalTime(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 22:00Z on the 6th is 07:00 on the 7th in Tokyo, inside today's window.
	events := []event.Event{logged("c1", "2026-01-06T22:00:00Z", "g1")}

	st := Derive(events, time.Date(2026, 1, 7, 12, 0, 0, 0, tokyo))
	assert.Equal(t, 1, st.Water.Used)

	st = Derive(events, wednesdayNoon)
	assert.Equal(t, 0, st.Water.Used, "in UTC the log was before 06:00 today")
}

func TestDerive_SunWindowWeekly(t *testing.T) {
	reflect := evt(event.KindReflectionMade, "c1", "2026-01-05T07:00:00Z",
		"categoryId", "health", "categoryLabel", "Health", "text", "ok")

	// Monday 07:00 is inside the week starting Monday 06:00.
	st := Derive([]event.Event{reflect}, time.Date(2026, 1, 11, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, st.Sun.Used)
	assert.Equal(t, time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC), st.Sun.NextReset)

	st = Derive([]event.Event{reflect}, time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, st.Sun.Used)
	assert.Equal(t, 1, st.Sun.Available)
}

func TestDerive_ValidUntilIsNextReset(t *testing.T) {
	st := Derive(nil, wednesdayNoon)
	assert.Equal(t, time.Date(2026, 1, 8, 6, 0, 0, 0, time.UTC), st.ValidUntil)
}

func TestDerive_Scores(t *testing.T) {
	st := Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 4),
		evt(event.KindReflectionMade, "c2", "2026-01-06T09:00:00Z",
			"categoryId", "mind", "categoryLabel", "Mind", "text", "ok"),
		started("c3", "2026-01-05T10:00:00Z", "g2", 40),
	}, wednesdayNoon)

	assert.InDelta(t, 0.025, st.Scores["mind"], 1e-12)
	assert.Equal(t, 1.0, st.Scores["health"], "clamped to 1")
}

func TestDerive_SoilHistory(t *testing.T) {
	st := Derive([]event.Event{
		evt(event.KindGroupingCreated, "c0", "2026-01-05T08:00:00Z", "groupingId", "s1", "categoryId", "health", "name", "x"),
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		logged("c2", "2026-01-06T09:00:00Z", "g1"),
	}, wednesdayNoon)

	require.Len(t, st.SoilHistory, 3, "grouping does not touch soil")
	assert.Equal(t, SoilPoint{Timestamp: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), Capacity: 10, Available: 5}, st.SoilHistory[0])
	assert.Equal(t, 5.05, st.SoilHistory[1].Available)
	assert.Equal(t, wednesdayNoon, st.SoilHistory[2].Timestamp)
	assert.Equal(t, st.Soil.Available, st.SoilHistory[2].Available)
}

func TestReward_DiminishingReturns(t *testing.T) {
	r := DefaultRules()
	low := Reward(r, "1m", "firm", 5, 10)
	high := Reward(r, "1m", "firm", 5, 100)

	assert.Greater(t, low, high, "reward shrinks as capacity approaches the ceiling")
	assert.InDelta(t, 0.06668055410909761, high, 1e-12)
	assert.Equal(t, 0.0, Reward(r, "1m", "firm", 5, 120))
	assert.Equal(t, 0.0, Reward(r, "decade", "firm", 5, 10), "unknown class earns nothing")
}

func TestDeriver_WithRules(t *testing.T) {
	r := DefaultRules()
	r.StartingCapacity = 20
	d := New(WithRules(r))

	st := d.Derive(nil, wednesdayNoon)
	assert.Equal(t, 20.0, st.Soil.Capacity)
	assert.Equal(t, 20.0, d.Rules().StartingCapacity)
}

func TestRulesValidate(t *testing.T) {
	assert.NoError(t, DefaultRules().Validate())

	r := DefaultRules()
	r.MaxCapacity = 5
	r.ResetHour = 24
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startingCapacity")
	assert.Contains(t, err.Error(), "resetHour")
}

// history builds a realistic log spanning two weeks.
func history() []event.Event {
	return []event.Event{
		evt(event.KindGroupingCreated, "e01", "2026-01-01T08:00:00Z", "groupingId", "s1", "categoryId", "health", "name", "Fitness"),
		started("e02", "2026-01-01T09:00:00Z", "g1", 3),
		evt(event.KindGoalStarted, "e03", "2026-01-01T09:30:00Z",
			"goalId", "g2", "categoryId", "craft", "title", "Guitar", "durationClass", "3m", "difficultyClass", "barren", "soilCost", 4.5),
		logged("e04", "2026-01-02T07:00:00Z", "g1"),
		logged("e05", "2026-01-03T07:00:00Z", "g2"),
		evt(event.KindReflectionMade, "e06", "2026-01-04T20:00:00Z", "categoryId", "craft", "categoryLabel", "Craft", "text", "slow"),
		evt(event.KindGoalClosed, "e07", "2026-01-05T09:00:00Z", "goalId", "g1", "result", 4),
		evt(event.KindGoalEdited, "e08", "2026-01-05T10:00:00Z", "goalId", "g2", "milestoneHigh", "play a song"),
		logged("e09", "2026-01-06T07:00:00Z", "g2"),
		evt(event.KindGoalAbandoned, "e10", "2026-01-06T08:00:00Z", "goalId", "g2", "soilReturned", 1.5),
		started("e11", "2026-01-06T09:00:00Z", "g3", 2),
		logged("e12", "2026-01-07T07:00:00Z", "g3"),
		evt(event.KindGoalClosed, "e13", "2026-01-07T09:00:00Z", "goalId", "g3", "result", 5),
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(history(), wednesdayNoon)
	b := Derive(history(), wednesdayNoon)
	assert.Equal(t, a, b)
	assert.Equal(t, fingerprint(t, a), fingerprint(t, b))
}

func TestDerive_PermutationInvariant(t *testing.T) {
	want := fingerprint(t, Derive(history(), wednesdayNoon))

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		events := history()
		rng.Shuffle(len(events), func(a, b int) { events[a], events[b] = events[b], events[a] })
		assert.Equal(t, want, fingerprint(t, Derive(events, wednesdayNoon)), "permutation %d", i)
	}
}

func TestDerive_IdempotentReplay(t *testing.T) {
	events := history()
	doubled := append(append([]event.Event{}, events...), events...)

	assert.Equal(t, Derive(events, wednesdayNoon), Derive(doubled, wednesdayNoon))
}

func TestDerive_SoilBoundsAndMonotonicCapacity(t *testing.T) {
	events := history()
	maxCap := DefaultRules().MaxCapacity

	st := Derive(events, wednesdayNoon)
	prev := 0.0
	for i, p := range st.SoilHistory {
		assert.GreaterOrEqual(t, p.Available, 0.0, "point %d", i)
		assert.LessOrEqual(t, p.Available, p.Capacity, "point %d", i)
		assert.LessOrEqual(t, p.Capacity, maxCap, "point %d", i)
		assert.GreaterOrEqual(t, p.Capacity, prev, "capacity never decreases (point %d)", i)
		prev = p.Capacity
	}
}

func TestDerive_CapacityClampedToMax(t *testing.T) {
	r := DefaultRules()
	r.StartingCapacity = 119.9
	r.BaseReward["1m"] = 1000
	r.DiminishingExponent = 0.001

	st := New(WithRules(r)).Derive([]event.Event{
		started("c1", "2026-01-05T09:00:00Z", "g1", 5),
		evt(event.KindGoalClosed, "c2", "2026-01-06T09:00:00Z", "goalId", "g1", "result", 5),
	}, wednesdayNoon)

	assert.Equal(t, 120.0, st.Soil.Capacity)
	assert.Equal(t, 120.0, st.Soil.Available)
}

func TestDerive_ExportRoundTrip(t *testing.T) {
	events := history()
	doc, err := event.NewExport(events, nil, "")
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	parsed, err := event.ParseExport(data)
	require.NoError(t, err)

	assert.Equal(t,
		fingerprint(t, Derive(events, wednesdayNoon)),
		fingerprint(t, Derive(parsed.Events, wednesdayNoon)))
}

// Two devices append logs for the same goal; each receives the other's event
// late. Folding the union converges.
func TestDerive_TwoDevicesConverge(t *testing.T) {
	shared := started("c1", "2026-01-05T09:00:00Z", "g1", 5)
	fromA := logged("a1", "2026-01-06T09:00:00Z", "g1")
	fromB := logged("b1", "2026-01-06T08:00:00Z", "g1")

	deviceA := []event.Event{shared, fromA, fromB}
	deviceB := []event.Event{shared, fromB, fromA, fromB}

	a := Derive(deviceA, wednesdayNoon)
	b := Derive(deviceB, wednesdayNoon)
	assert.Equal(t, fingerprint(t, a), fingerprint(t, b))

	g, _ := a.Goal("g1")
	require.Len(t, g.Logs, 2)
	assert.Equal(t, time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC), g.Logs[0].Timestamp)
}

func TestDerive_Golden(t *testing.T) {
	events := []event.Event{
		evt(event.KindGroupingCreated, "c1", "2026-01-05T08:00:00Z", "groupingId", "s1", "categoryId", "health", "name", "Marathon"),
		evt(event.KindGoalStarted, "c2", "2026-01-05T09:00:00Z",
			"goalId", "g1", "categoryId", "health", "title", "Run 5k", "durationClass", "1m",
			"difficultyClass", "firm", "soilCost", 3, "groupingId", "s1"),
		evt(event.KindGoalLogged, "c3", "2026-01-07T07:00:00Z", "goalId", "g1", "text", "ran", "prompt", "How did it go?"),
	}

	st := Derive(events, wednesdayNoon)
	canonical, err := event.Canonicalize(st)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "basic_sprout", canonical)
}
