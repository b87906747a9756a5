// Package drift detects changes in a classifier's error rate over an ordered
// stream of outcomes.
package drift

import (
	"math"
)

// DDM is the Drift Detection Method of Gama et al. (2004). It tracks the
// running error rate p and its standard deviation s and compares p+s to the
// lowest value seen so far.
type DDM struct {
	minInstances int
	warningLevel float64
	driftLevel   float64

	n      int
	errors int
	minP   float64
	minS   float64
}

// Option configures a DDM.
type Option func(*DDM)

// WithMinInstances sets how many outcomes are observed before any signal.
func WithMinInstances(n int) Option {
	return func(d *DDM) { d.minInstances = n }
}

// WithLevels sets the warning and drift multipliers of the minimum deviation.
func WithLevels(warning, drift float64) Option {
	return func(d *DDM) {
		d.warningLevel = warning
		d.driftLevel = drift
	}
}

// NewDDM returns a detector with the customary 30 instance warm-up and 2σ/3σ levels.
func NewDDM(opts ...Option) *DDM {
	d := &DDM{minInstances: 30, warningLevel: 2, driftLevel: 3}
	for _, opt := range opts {
		opt(d)
	}
	d.Reset()
	return d
}

// State is the detector's reading after one outcome.
type State int

const (
	StateStable State = iota
	StateWarning
	StateDrift
)

func (s State) String() string {
	switch s {
	case StateWarning:
		return "warning"
	case StateDrift:
		return "drift"
	default:
		return "stable"
	}
}

// Update records one outcome. After a drift the detector starts over.
func (d *DDM) Update(miss bool) State {
	d.n++
	if miss {
		d.errors++
	}
	if d.n < d.minInstances {
		return StateStable
	}
	p := float64(d.errors) / float64(d.n)
	s := math.Sqrt(p * (1 - p) / float64(d.n))
	if p+s < d.minP+d.minS {
		d.minP, d.minS = p, s
	}
	switch {
	case p+s > d.minP+d.driftLevel*d.minS:
		d.Reset()
		return StateDrift
	case p+s > d.minP+d.warningLevel*d.minS:
		return StateWarning
	}
	return StateStable
}

// ErrorRate is the error rate since the last reset.
func (d *DDM) ErrorRate() float64 {
	if d.n == 0 {
		return 0
	}
	return float64(d.errors) / float64(d.n)
}

// Reset forgets every outcome.
func (d *DDM) Reset() {
	d.n, d.errors = 0, 0
	d.minP, d.minS = math.Inf(1), math.Inf(1)
}

// Report summarizes a Scan.
type Report struct {
	Outcomes int
	Misses   int
	// Drifts are the positions in the stream where a drift was signaled.
	Drifts []int
	// Warnings counts outcomes read in the warning zone.
	Warnings int
}

// Scan replays classification outcomes through a fresh DDM. yTrue and yPred
// must be aligned and ordered the way the rows were observed.
func Scan(yTrue, yPred []float64, opts ...Option) Report {
	d := NewDDM(opts...)
	rep := Report{Outcomes: len(yTrue)}
	for i := range yTrue {
		miss := yTrue[i] != yPred[i]
		if miss {
			rep.Misses++
		}
		switch d.Update(miss) {
		case StateDrift:
			rep.Drifts = append(rep.Drifts, i)
		case StateWarning:
			rep.Warnings++
		}
	}
	return rep
}
