package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func indicatorValue(stage string, macdV float64) *model.IndicatorValue {
	return &model.IndicatorValue{
		Symbol:    "BTC-USD",
		Timeframe: model.TF1h,
		Type:      "momentum",
		Value:     map[string]float64{"macdV": macdV},
		Params:    model.IndicatorParams{Stage: stage, Seeded: true},
	}
}

func TestLevelRuleCrossingFiresOnce(t *testing.T) {
	r := NewLevelRule()

	_, ok := r.Evaluate(indicatorValue("rallying", 40), indicatorValue("rallying", 55))
	require.True(t, ok, "upward crossing of 50 fires")

	_, ok = r.Evaluate(indicatorValue("rallying", 55), indicatorValue("rallying", 48))
	assert.False(t, ok, "dip inside the band does not re-arm")

	_, ok = r.Evaluate(indicatorValue("rallying", 48), indicatorValue("rallying", 56))
	assert.False(t, ok, "re-crossing before the pullback stays quiet")
}

func TestLevelRuleReArmsAfterPullback(t *testing.T) {
	r := NewLevelRule()

	_, ok := r.Evaluate(indicatorValue("rallying", 40), indicatorValue("rallying", 55))
	require.True(t, ok)

	_, ok = r.Evaluate(indicatorValue("rallying", 55), indicatorValue("rallying", 40))
	assert.False(t, ok, "pullback itself fires nothing")

	a, ok := r.Evaluate(indicatorValue("rallying", 40), indicatorValue("rallying", 60))
	require.True(t, ok, "armed again after retreating past level-margin")
	assert.Equal(t, "level_50", a.TriggerLabel)
}

func TestLevelRuleNegativeLevel(t *testing.T) {
	r := NewLevelRule()
	a, ok := r.Evaluate(indicatorValue("declining", -40), indicatorValue("declining", -105))
	require.True(t, ok)
	assert.Equal(t, "level_-100", a.TriggerLabel, "deepest crossed level wins")
}

func TestLevelRuleNoPrevious(t *testing.T) {
	r := NewLevelRule()
	_, ok := r.Evaluate(nil, indicatorValue("rallying", 200))
	assert.False(t, ok)
}

func TestStageRuleCatchesNonReversalChanges(t *testing.T) {
	a, ok := StageRule{}.Evaluate(indicatorValue("rallying", 90), indicatorValue("topping", 70))
	require.True(t, ok)
	assert.Equal(t, "stage_topping", a.TriggerLabel)
	assert.Equal(t, "rallying", a.PreviousLabel)
}

func TestReversalRuleBottomingToRallying(t *testing.T) {
	a, ok := ReversalRule{}.Evaluate(indicatorValue("bottoming", -20), indicatorValue("rallying", 30))
	require.True(t, ok)
	assert.Equal(t, "reversal_oversold", a.TriggerLabel)
}

func TestReversalRuleIgnoresUnrelatedTransitions(t *testing.T) {
	_, ok := ReversalRule{}.Evaluate(indicatorValue("rallying", 90), indicatorValue("topping", 70))
	assert.False(t, ok)
}
