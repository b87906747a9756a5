package lightgbm

import "math"

// SplitInfo describes the best split found for a leaf.
type SplitInfo struct {
	Feature      int // -1 when no valid split exists
	Gain         float64
	ThresholdBin int     // numeric: bins <= ThresholdBin go left
	Threshold    float64 // numeric: raw upper bound of ThresholdBin
	Categories   []int   // categorical: codes that go left
	DefaultLeft  bool    // missing values go left

	LeftGrad, LeftHess   float64
	LeftCount            int
	RightGrad, RightHess float64
	RightCount           int
}

func noSplit() SplitInfo {
	return SplitInfo{Feature: -1, Gain: math.Inf(-1)}
}

// Valid reports whether the split can be applied.
func (s SplitInfo) Valid() bool {
	return s.Feature >= 0
}

// splitConstraints are the per-leaf limits a candidate split must respect.
type splitConstraints struct {
	lambdaL2      float64
	minDataInLeaf int
	minSumHessian float64
	minGain       float64
	catSmooth     float64
	maxCatThresh  int
}

func (c splitConstraints) leafGain(g, h float64) float64 {
	return g * g / (h + c.lambdaL2)
}

// leafOutput is the Newton step -G/(H+lambda).
func (c splitConstraints) leafOutput(g, h float64) float64 {
	return -g / (h + c.lambdaL2)
}

func (c splitConstraints) admissible(lc int, lh float64, rc int, rh float64) bool {
	return lc >= c.minDataInLeaf && rc >= c.minDataInLeaf &&
		lh >= c.minSumHessian && rh >= c.minSumHessian
}

// splitGain is the loss reduction of splitting a leaf into left and right.
func (c splitConstraints) splitGain(lg, lh, rg, rh, g, h float64) float64 {
	return c.leafGain(lg, lh) + c.leafGain(rg, rh) - c.leafGain(g, h)
}

// findNumericalSplit scans thresholds in bin order, trying missing values on
// each side. Ties keep the earliest candidate.
func (c splitConstraints) findNumericalSplit(feature int, hist Histogram, mapper *BinMapper, g, h float64, n int) SplitInfo {
	best := noSplit()
	missing := hist[mapper.MissingBin()]
	directions := []bool{false}
	if missing.Count > 0 {
		directions = append(directions, true)
	}

	for _, missLeft := range directions {
		var lg, lh float64
		var lc int
		if missLeft {
			lg, lh, lc = missing.SumGrad, missing.SumHess, missing.Count
		}
		for b := 0; b < mapper.NumBins()-1; b++ {
			lg += hist[b].SumGrad
			lh += hist[b].SumHess
			lc += hist[b].Count
			rg, rh, rc := g-lg, h-lh, n-lc
			if !c.admissible(lc, lh, rc, rh) {
				continue
			}
			gain := c.splitGain(lg, lh, rg, rh, g, h)
			if gain > best.Gain {
				best = SplitInfo{
					Feature:      feature,
					Gain:         gain,
					ThresholdBin: b,
					Threshold:    mapper.Bounds[b],
					DefaultLeft:  missLeft,
					LeftGrad:     lg, LeftHess: lh, LeftCount: lc,
					RightGrad: rg, RightHess: rh, RightCount: rc,
				}
			}
		}
	}
	if best.Gain <= c.minGain {
		return noSplit()
	}
	return best
}

// better reports whether a beats b, preferring the lower feature on ties.
func better(a, b SplitInfo) bool {
	if !a.Valid() {
		return false
	}
	if !b.Valid() {
		return true
	}
	if a.Gain != b.Gain {
		return a.Gain > b.Gain
	}
	return a.Feature < b.Feature
}
