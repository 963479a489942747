package derive

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/grove/internal/event"
)

// fold carries the running state of a single replay.
type fold struct {
	rules  Rules
	logger *slog.Logger

	soil        Soil
	goals       map[string]*Goal
	goalOrder   []string
	groupings   map[string]*Grouping
	groupOrder  []string
	reflections []Reflection
	scores      map[string]float64
	history     []SoilPoint
	skipped     []Skipped

	// Timestamps of every goal_logged and reflection_made, for the
	// allowance windows and the streak.
	loggedAt    []time.Time
	reflectedAt []time.Time
}

func newFold(r Rules, logger *slog.Logger) *fold {
	return &fold{
		rules:     r,
		logger:    logger,
		soil:      Soil{Capacity: r.StartingCapacity, Available: r.StartingCapacity},
		goals:     make(map[string]*Goal),
		groupings: make(map[string]*Grouping),
		scores:    make(map[string]float64),
	}
}

func (f *fold) skip(ev event.Event, key, reason string) {
	f.logger.Debug("skipping event",
		"key", key,
		"kind", ev.Kind,
		"reason", reason,
	)
	f.skipped = append(f.skipped, Skipped{Key: key, Kind: ev.Kind, Reason: reason})
}

func (f *fold) apply(te timedEvent) {
	switch te.ev.Kind {
	case event.KindGoalStarted:
		f.goalStarted(te)
	case event.KindGoalLogged:
		f.goalLogged(te)
	case event.KindGoalClosed:
		f.goalClosed(te)
	case event.KindGoalAbandoned:
		f.goalAbandoned(te)
	case event.KindReflectionMade:
		f.reflectionMade(te)
	case event.KindGroupingCreated:
		f.groupingCreated(te)
	case event.KindGoalEdited:
		f.goalEdited(te)
	default:
		f.skip(te.ev, te.key, "unknown kind")
	}
}

// missing returns the first required field that is absent or of the wrong
// type, or "" when all are present.
func missing(p event.Object, strs []string, nums []string) string {
	for _, k := range strs {
		if _, ok := p.GetNonEmptyString(k); !ok {
			return k
		}
	}
	for _, k := range nums {
		if _, ok := p.GetFloat(k); !ok {
			return k
		}
	}
	return ""
}

// setSoil rounds and clamps a new soil balance and records a chart sample.
func (f *fold) setSoil(at time.Time, capacity, available float64) {
	capacity = round2(clamp(capacity, 0, f.rules.MaxCapacity))
	available = round2(clamp(available, 0, capacity))
	f.soil = Soil{Capacity: capacity, Available: available}
	f.history = append(f.history, SoilPoint{Timestamp: at, Capacity: capacity, Available: available})
}

func (f *fold) goalStarted(te timedEvent) {
	p := te.ev.Payload
	if field := missing(p,
		[]string{event.FieldGoalID, event.FieldCategoryID, event.FieldTitle, event.FieldDurationClass, event.FieldDifficultyClass},
		[]string{event.FieldSoilCost},
	); field != "" {
		f.skip(te.ev, te.key, "missing "+field)
		return
	}

	id, _ := p.GetString(event.FieldGoalID)
	if _, exists := f.goals[id]; exists {
		f.skip(te.ev, te.key, "goal already started")
		return
	}
	cost, _ := p.GetFloat(event.FieldSoilCost)
	if cost < 0 {
		f.skip(te.ev, te.key, "negative soil cost")
		return
	}

	g := &Goal{
		ID:        id,
		Logs:      []LogEntry{},
		State:     GoalActive,
		CreatedAt: te.at,
		SoilCost:  cost,
	}
	g.CategoryID, _ = p.GetString(event.FieldCategoryID)
	g.Title, _ = p.GetString(event.FieldTitle)
	g.DurationClass, _ = p.GetString(event.FieldDurationClass)
	g.DifficultyClass, _ = p.GetString(event.FieldDifficultyClass)
	g.GroupingID, _ = p.GetString(event.FieldGroupingID)
	g.MilestoneLow, _ = p.GetString(event.FieldMilestoneLow)
	g.MilestoneMid, _ = p.GetString(event.FieldMilestoneMid)
	g.MilestoneHigh, _ = p.GetString(event.FieldMilestoneHigh)

	f.goals[id] = g
	f.goalOrder = append(f.goalOrder, id)
	f.scores[g.CategoryID] += cost * f.rules.ScoreStartWeight
	f.setSoil(te.at, f.soil.Capacity, f.soil.Available-cost)
}

// lookupGoal resolves the goalId of an event, recording a skip on failure.
func (f *fold) lookupGoal(te timedEvent) *Goal {
	id, ok := te.ev.Payload.GetNonEmptyString(event.FieldGoalID)
	if !ok {
		f.skip(te.ev, te.key, "missing "+event.FieldGoalID)
		return nil
	}
	g, ok := f.goals[id]
	if !ok {
		f.skip(te.ev, te.key, "unknown goal "+id)
		return nil
	}
	return g
}

func (f *fold) goalLogged(te timedEvent) {
	if _, ok := te.ev.Payload.GetNonEmptyString(event.FieldGoalID); ok {
		f.loggedAt = append(f.loggedAt, te.at)
	}
	g := f.lookupGoal(te)
	if g == nil {
		return
	}

	entry := LogEntry{Timestamp: te.at}
	entry.Text, _ = te.ev.Payload.GetString(event.FieldText)
	entry.Prompt, _ = te.ev.Payload.GetString(event.FieldPrompt)
	g.Logs = append(g.Logs, entry)
	f.scores[g.CategoryID] += f.rules.ScoreLogWeight

	// Logging a finished goal keeps the entry but earns nothing.
	if g.State == GoalActive {
		f.setSoil(te.at, f.soil.Capacity, f.soil.Available+f.rules.WaterRecovery)
	}
}

func (f *fold) goalClosed(te timedEvent) {
	g := f.lookupGoal(te)
	if g == nil {
		return
	}
	result, ok := te.ev.Payload.GetInt(event.FieldResult)
	if !ok {
		f.skip(te.ev, te.key, "missing "+event.FieldResult)
		return
	}
	if result < 1 || result > 5 {
		f.skip(te.ev, te.key, "result out of range")
		return
	}
	if g.State != GoalActive {
		f.skip(te.ev, te.key, "goal not active")
		return
	}

	reward := Reward(f.rules, g.DurationClass, g.DifficultyClass, int(result), f.soil.Capacity)
	at := te.at
	g.State = GoalClosed
	g.ClosedAt = &at
	g.Result = int(result)
	g.Reflection, _ = te.ev.Payload.GetString(event.FieldReflection)
	g.Reward = reward

	f.scores[g.CategoryID] += f.rules.ScoreCloseWeight * float64(result) / 5

	capacity := clamp(f.soil.Capacity+reward, 0, f.rules.MaxCapacity)
	f.setSoil(te.at, capacity, f.soil.Available+g.SoilCost+reward)
}

func (f *fold) goalAbandoned(te timedEvent) {
	g := f.lookupGoal(te)
	if g == nil {
		return
	}
	returned, ok := te.ev.Payload.GetFloat(event.FieldSoilReturned)
	if !ok {
		f.skip(te.ev, te.key, "missing "+event.FieldSoilReturned)
		return
	}
	if returned < 0 {
		f.skip(te.ev, te.key, "negative soil returned")
		return
	}
	if g.State != GoalActive {
		f.skip(te.ev, te.key, "goal not active")
		return
	}

	at := te.at
	g.State = GoalAbandoned
	g.AbandonedAt = &at
	g.SoilReturned = returned
	f.setSoil(te.at, f.soil.Capacity, f.soil.Available+returned)
}

func (f *fold) reflectionMade(te timedEvent) {
	p := te.ev.Payload
	if field := missing(p, []string{event.FieldCategoryID, event.FieldCategoryLabel, event.FieldText}, nil); field != "" {
		f.skip(te.ev, te.key, "missing "+field)
		return
	}

	r := Reflection{Timestamp: te.at}
	r.CategoryID, _ = p.GetString(event.FieldCategoryID)
	r.CategoryLabel, _ = p.GetString(event.FieldCategoryLabel)
	r.Text, _ = p.GetString(event.FieldText)
	r.Prompt, _ = p.GetString(event.FieldPrompt)

	f.reflections = append(f.reflections, r)
	f.reflectedAt = append(f.reflectedAt, te.at)
	f.scores[r.CategoryID] += f.rules.ScoreReflectionWeight
	f.setSoil(te.at, f.soil.Capacity, f.soil.Available+f.rules.SunRecovery)
}

func (f *fold) groupingCreated(te timedEvent) {
	p := te.ev.Payload
	if field := missing(p, []string{event.FieldGroupingID, event.FieldCategoryID, event.FieldName}, nil); field != "" {
		f.skip(te.ev, te.key, "missing "+field)
		return
	}
	id, _ := p.GetString(event.FieldGroupingID)
	if _, exists := f.groupings[id]; exists {
		f.skip(te.ev, te.key, "grouping already created")
		return
	}

	gr := &Grouping{ID: id, CreatedAt: te.at}
	gr.CategoryID, _ = p.GetString(event.FieldCategoryID)
	gr.Name, _ = p.GetString(event.FieldName)
	gr.Note, _ = p.GetString(event.FieldNote)
	f.groupings[id] = gr
	f.groupOrder = append(f.groupOrder, id)
}

// goalEdited merges only the fields present in the payload. It applies in
// every goal state.
func (f *fold) goalEdited(te timedEvent) {
	g := f.lookupGoal(te)
	if g == nil {
		return
	}
	p := te.ev.Payload
	fields := []struct {
		key string
		dst *string
	}{
		{event.FieldTitle, &g.Title},
		{event.FieldMilestoneLow, &g.MilestoneLow},
		{event.FieldMilestoneMid, &g.MilestoneMid},
		{event.FieldMilestoneHigh, &g.MilestoneHigh},
		{event.FieldGroupingID, &g.GroupingID},
	}
	for _, fl := range fields {
		if opt := p.GetOptionalString(fl.key); opt.Set {
			*fl.dst = opt.Value
		}
	}
}

// finish computes the time-dependent views and assembles the State.
func (f *fold) finish(now time.Time, eventCount int) *State {
	loc := now.Location()
	waterStart, waterNext := dailyWindow(now, f.rules.ResetHour)
	sunStart, sunNext := weeklyWindow(now, f.rules.SunResetDay, f.rules.ResetHour)

	st := &State{
		Goals:       make([]Goal, 0, len(f.goalOrder)),
		Groupings:   make([]Grouping, 0, len(f.groupOrder)),
		Reflections: f.reflections,
		Soil:        f.soil,
		Water:       allowance(f.rules.WaterCapacity, f.loggedAt, waterStart, waterNext),
		Sun:         allowance(f.rules.SunCapacity, f.reflectedAt, sunStart, sunNext),
		Scores:      normalizeScores(f.scores, f.rules.ScoreCeiling),
		SoilHistory: append(f.history, SoilPoint{Timestamp: now.UTC(), Capacity: f.soil.Capacity, Available: f.soil.Available}),
		Skipped:     f.skipped,
		EventCount:  eventCount,
		ComputedAt:  now.UTC(),
		ValidUntil:  minTime(waterNext, sunNext).UTC(),
	}
	for _, id := range f.goalOrder {
		st.Goals = append(st.Goals, *f.goals[id])
	}
	for _, id := range f.groupOrder {
		st.Groupings = append(st.Groupings, *f.groupings[id])
	}
	if st.Reflections == nil {
		st.Reflections = []Reflection{}
	}
	if st.Skipped == nil {
		st.Skipped = []Skipped{}
	}
	slices.SortStableFunc(st.Skipped, func(a, b Skipped) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Reason, b.Reason)
	})

	days := make(map[int64]struct{}, len(f.loggedAt))
	for _, at := range f.loggedAt {
		days[serviceDay(at, loc, f.rules.ResetHour)] = struct{}{}
	}
	st.Streak = computeStreak(days, serviceDay(now, loc, f.rules.ResetHour))

	return st
}

// allowance counts uses at or after the window start.
func allowance(capacity int, uses []time.Time, start, next time.Time) Allowance {
	used := 0
	for _, at := range uses {
		if !at.Before(start) {
			used++
		}
	}
	return Allowance{
		Capacity:  capacity,
		Used:      used,
		Available: max(0, capacity-used),
		ResetAt:   start.UTC(),
		NextReset: next.UTC(),
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
