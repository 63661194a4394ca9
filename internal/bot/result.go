package bot

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/sizing"
)

type Stage string

const (
	StageIdle        Stage = "idle"
	StageReconciling Stage = "reconciling"
	StagePricing     Stage = "pricing"
	StageSizing      Stage = "sizing"
	StageOpening     Stage = "opening"
	StageHolding     Stage = "holding"
	StageClosing     Stage = "closing"
	StageConfirming  Stage = "confirming"
	StageAccounting  Stage = "accounting"
	StageCooldown    Stage = "cooldown"
)

// PairResult is the outcome of one pair in one cycle. Stage is the last
// stage entered, so on failure it names where the cycle stopped.
type PairResult struct {
	Cycle  int             `json:"cycle"`
	Pair   string          `json:"pair"`
	Stage  Stage           `json:"stage"`
	Plan   *sizing.Plan    `json:"plan,omitempty"`
	Volume decimal.Decimal `json:"volume"`
	Fees   decimal.Decimal `json:"fees"`
	Err    error           `json:"-"`
}

func (r PairResult) OK() bool { return r.Err == nil }

func (r PairResult) MarshalJSON() ([]byte, error) {
	type alias PairResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
