package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/grove/internal/derive"
)

// rulesSchema constrains the `rules` struct of a rules file. Every field is
// optional; omitted fields keep their default. Definitions are closed, so
// unknown names are errors.
const rulesSchema = `
#Rules: {
	startingCapacity?:    number & >=0
	maxCapacity?:         number & >0
	diminishingExponent?: number & >0
	baseReward?: {[string]: number & >=0}
	difficultyMultiplier?: {[string]: number & >=0}
	resultMultiplier?: {[=~"^[1-5]$"]: number & >=0}
	waterRecovery?:         number & >=0
	sunRecovery?:           number & >=0
	waterCapacity?:         int & >=0
	sunCapacity?:           int & >=0
	resetHour?:             int & >=0 & <=23
	sunResetDay?:           int & >=0 & <=6
	scoreStartWeight?:      number
	scoreLogWeight?:        number
	scoreReflectionWeight?: number
	scoreCloseWeight?:      number
	scoreCeiling?:          number & >0
}
`

// RulesError reports an invalid rules file.
type RulesError struct {
	Message string
	Pos     token.Pos
}

func (e *RulesError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadRules reads a CUE rules file. An empty path returns DefaultRules.
func LoadRules(path string) (derive.Rules, error) {
	if path == "" {
		return derive.DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return derive.Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data, path)
}

// ParseRules decodes the top-level `rules` struct of a CUE document over
// DefaultRules. Map fields merge key by key.
//
//	rules: {
//		maxCapacity: 150
//		baseReward: "2w": 0.3
//	}
func ParseRules(src []byte, filename string) (derive.Rules, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(rulesSchema).LookupPath(cue.ParsePath("#Rules"))
	if err := schema.Err(); err != nil {
		return derive.Rules{}, fmt.Errorf("rules schema: %w", err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return derive.Rules{}, formatCUEError(err)
	}
	v := doc.LookupPath(cue.ParsePath("rules"))
	if !v.Exists() {
		return derive.Rules{}, &RulesError{Message: "rules: field not found", Pos: doc.Pos()}
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return derive.Rules{}, formatCUEError(err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return derive.Rules{}, formatCUEError(err)
	}
	rules := derive.DefaultRules()
	if err := json.Unmarshal(data, &rules); err != nil {
		return derive.Rules{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return derive.Rules{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	msg := first.Error()
	if path := strings.Join(first.Path(), "."); path != "" && !strings.Contains(msg, path) {
		msg = path + ": " + msg
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &RulesError{Message: msg, Pos: positions[0]}
	}
	return &RulesError{Message: msg}
}
