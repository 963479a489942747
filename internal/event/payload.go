package event

// Payload field names used by the seven event kinds.
const (
	FieldGoalID          = "goalId"
	FieldCategoryID      = "categoryId"
	FieldCategoryLabel   = "categoryLabel"
	FieldTitle           = "title"
	FieldDurationClass   = "durationClass"
	FieldDifficultyClass = "difficultyClass"
	FieldSoilCost        = "soilCost"
	FieldGroupingID      = "groupingId"
	FieldMilestoneLow    = "milestoneLow"
	FieldMilestoneMid    = "milestoneMid"
	FieldMilestoneHigh   = "milestoneHigh"
	FieldText            = "text"
	FieldPrompt          = "prompt"
	FieldResult          = "result"
	FieldReflection      = "reflection"
	FieldSoilReturned    = "soilReturned"
	FieldName            = "name"
	FieldNote            = "note"
)

// Has reports whether key is present, including keys explicitly set to null.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Get returns the raw value for key.
func (o Object) Get(key string) (Value, bool) {
	v, ok := o[key]
	return v, ok
}

// GetString returns the string stored under key.
// ok is false when the key is absent or holds a non-string.
func (o Object) GetString(key string) (string, bool) {
	s, ok := o[key].(String)
	return string(s), ok
}

// GetNonEmptyString is GetString that also rejects "".
func (o Object) GetNonEmptyString(key string) (string, bool) {
	s, ok := o.GetString(key)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// GetInt returns an integral number. Floats with no fractional part are
// accepted because some clients serialise every number as a double.
func (o Object) GetInt(key string) (int64, bool) {
	switch v := o[key].(type) {
	case Int:
		return int64(v), true
	case Float:
		if float64(v) == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// GetFloat returns any number as float64.
func (o Object) GetFloat(key string) (float64, bool) {
	switch v := o[key].(type) {
	case Float:
		return float64(v), true
	case Int:
		return float64(v), true
	}
	return 0, false
}

// GetBool returns the boolean stored under key.
func (o Object) GetBool(key string) (bool, bool) {
	b, ok := o[key].(Bool)
	return bool(b), ok
}

// OptionalString distinguishes the three states a sparse update can carry:
// absent (Set=false), explicitly null or empty (Set=true, Value=""), and a value.
type OptionalString struct {
	Set   bool
	Value string
}

// GetOptionalString reads key for sparse-merge semantics. A present key that
// holds null clears the field; a present key with another non-string type is
// treated as absent.
func (o Object) GetOptionalString(key string) OptionalString {
	v, ok := o[key]
	if !ok {
		return OptionalString{}
	}
	switch val := v.(type) {
	case String:
		return OptionalString{Set: true, Value: string(val)}
	case Null:
		return OptionalString{Set: true}
	}
	return OptionalString{}
}

// Clone returns a shallow copy of the object. Values are immutable so a
// shallow copy is enough to keep callers from sharing the map.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	c := make(Object, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}
