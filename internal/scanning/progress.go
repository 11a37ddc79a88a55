package scanning

import "time"

// Progress reports how far a run has come. Elapsed is the time since the
// run started; Remaining extrapolates the average time per finished target
// and stays zero until the first target finishes.
type Progress struct {
	Done      int           `json:"done"`
	Total     int           `json:"total"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

func newProgress(done, total int, elapsed time.Duration) Progress {
	p := Progress{Done: done, Total: total, Elapsed: elapsed}
	if done > 0 && done < total {
		p.Remaining = time.Duration(int64(elapsed) / int64(done) * int64(total-done))
	}
	return p
}

// Fraction returns Done/Total in [0,1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// Complete reports whether every target is terminal.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Done >= p.Total
}
