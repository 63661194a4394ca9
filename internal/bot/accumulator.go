package bot

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/astervol/internal/pkg/metrics"
)

// Accumulator holds the running totals of a run. It is never reset.
type Accumulator struct {
	mu        sync.RWMutex
	volume    decimal.Decimal
	fees      decimal.Decimal
	cycles    int
	completed int
	failed    int
	last      *PairResult
}

type Snapshot struct {
	Volume    decimal.Decimal `json:"volume"`
	Fees      decimal.Decimal `json:"fees"`
	Cycles    int             `json:"cycles"`
	Completed int             `json:"completed_pairs"`
	Failed    int             `json:"failed_pairs"`
	Last      *PairResult     `json:"last,omitempty"`
}

func (a *Accumulator) AddVolume(v decimal.Decimal) {
	a.mu.Lock()
	a.volume = a.volume.Add(v)
	a.mu.Unlock()
	metrics.VolumeTotal.Add(v.InexactFloat64())
}

func (a *Accumulator) AddFees(f decimal.Decimal) {
	a.mu.Lock()
	a.fees = a.fees.Add(f)
	a.mu.Unlock()
	metrics.FeesTotal.Add(f.InexactFloat64())
}

func (a *Accumulator) record(res PairResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res.Err != nil {
		a.failed++
	} else {
		a.completed++
	}
	a.last = &res
}

func (a *Accumulator) cycleDone() {
	a.mu.Lock()
	a.cycles++
	a.mu.Unlock()
}

func (a *Accumulator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := Snapshot{
		Volume:    a.volume,
		Fees:      a.fees,
		Cycles:    a.cycles,
		Completed: a.completed,
		Failed:    a.failed,
	}
	if a.last != nil {
		last := *a.last
		s.Last = &last
	}
	return s
}
