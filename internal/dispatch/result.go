package dispatch

import "time"

// ResourceResult is the outcome of one resource group within a pass.
type ResourceResult struct {
	Resource string
	Synced   int
	Failed   int
	Err      error
}

// PassResult aggregates one full discover→group→dispatch→record cycle.
// A pass is successful only if every attempted resource group succeeded.
type PassResult struct {
	TenantID  string
	StartedAt time.Time
	Duration  time.Duration
	Resources []ResourceResult
}

func (p *PassResult) OK() bool {
	for _, r := range p.Resources {
		if r.Err != nil || r.Failed > 0 {
			return false
		}
	}
	return true
}

func (p *PassResult) TotalSynced() int {
	n := 0
	for _, r := range p.Resources {
		n += r.Synced
	}
	return n
}

func (p *PassResult) TotalFailed() int {
	n := 0
	for _, r := range p.Resources {
		n += r.Failed
	}
	return n
}
