// Package alerts turns indicator state changes into alert rows, bus messages
// and notifications.
package alerts

import (
	"fmt"

	"livermore/internal/model"
)

// Rule inspects the previous and current indicator value for one pair and
// produces at most one alert. prev is nil right after boot; rules that need
// history fire nothing then.
type Rule interface {
	Name() string
	Evaluate(prev, curr *model.IndicatorValue) (*model.Alert, bool)
}

// primaryValue picks the numeric output alerts are keyed on.
func primaryValue(v *model.IndicatorValue) float64 {
	if x, ok := v.Value["macdV"]; ok {
		return x
	}
	for _, x := range v.Value {
		return x
	}
	return 0
}

// ReversalRule fires when momentum flips side: entering a rallying stage from
// below is an oversold reversal, entering a declining stage from above an
// overbought one.
type ReversalRule struct{}

func (ReversalRule) Name() string { return "reversal" }

func (ReversalRule) Evaluate(prev, curr *model.IndicatorValue) (*model.Alert, bool) {
	if prev == nil || prev.Params.Stage == curr.Params.Stage {
		return nil, false
	}

	var label string
	switch {
	case curr.Params.Stage == "rallying" && (prev.Params.Stage == "ranging" || prev.Params.Stage == "bottoming"):
		label = "reversal_oversold"
	case curr.Params.Stage == "declining" && (prev.Params.Stage == "ranging" || prev.Params.Stage == "topping"):
		label = "reversal_overbought"
	default:
		return nil, false
	}

	return &model.Alert{
		AlertType:     curr.Type + "_reversal",
		TriggerValue:  primaryValue(curr),
		TriggerLabel:  label,
		PreviousLabel: prev.Params.Stage,
	}, true
}

// LevelRule fires when the primary value crosses one of the configured
// levels. Hysteresis: a fired level re-arms only after the value pulls back
// past level-margin, so noise around a level produces one alert, not a
// stream. Not safe for concurrent use; the evaluator serialises calls.
type LevelRule struct {
	Levels []float64
	Margin float64

	fired map[string]map[float64]bool
}

// NewLevelRule returns the standard level set used by the strength bands.
func NewLevelRule() *LevelRule {
	return &LevelRule{
		Levels: []float64{-150, -100, -50, 50, 100, 150},
		Margin: 5,
		fired:  make(map[string]map[float64]bool),
	}
}

func (r *LevelRule) Name() string { return "level" }

func (r *LevelRule) Evaluate(prev, curr *model.IndicatorValue) (*model.Alert, bool) {
	if prev == nil {
		return nil, false
	}
	key := curr.Symbol + ":" + string(curr.Timeframe)
	fired := r.fired[key]
	if fired == nil {
		fired = make(map[float64]bool)
		r.fired[key] = fired
	}
	was, now := primaryValue(prev), primaryValue(curr)

	for _, lvl := range r.Levels {
		if fired[lvl] {
			if retreated(now, lvl, r.Margin) {
				fired[lvl] = false
			}
			continue
		}
		if !crossed(was, now, lvl) {
			continue
		}
		fired[lvl] = true
		return &model.Alert{
			AlertType:     curr.Type + "_level",
			TriggerValue:  now,
			TriggerLabel:  fmt.Sprintf("level_%d", int(lvl)),
			PreviousLabel: prev.Params.Stage,
		}, true
	}
	return nil, false
}

// crossed reports an outward crossing of lvl: upward through a positive
// level, downward through a negative one.
func crossed(was, now, lvl float64) bool {
	if lvl >= 0 {
		return was < lvl && now >= lvl
	}
	return was > lvl && now <= lvl
}

// retreated reports the value pulled back inside the hysteresis band.
func retreated(now, lvl, margin float64) bool {
	if lvl >= 0 {
		return now < lvl-margin
	}
	return now > lvl+margin
}

// StageRule fires on any remaining stage change the reversal rule did not
// claim, so the history table records every regime shift.
type StageRule struct{}

func (StageRule) Name() string { return "stage" }

func (StageRule) Evaluate(prev, curr *model.IndicatorValue) (*model.Alert, bool) {
	if prev == nil || prev.Params.Stage == curr.Params.Stage {
		return nil, false
	}
	return &model.Alert{
		AlertType:     curr.Type + "_stage",
		TriggerValue:  primaryValue(curr),
		TriggerLabel:  "stage_" + curr.Params.Stage,
		PreviousLabel: prev.Params.Stage,
	}, true
}

// DefaultRules is the evaluation order: first match wins.
func DefaultRules() []Rule {
	return []Rule{ReversalRule{}, NewLevelRule(), StageRule{}}
}
