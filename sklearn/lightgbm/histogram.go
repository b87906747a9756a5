package lightgbm

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/otpboost/core/parallel"
	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// BinMapper maps raw feature values to histogram bins.
// The bin after the last regular bin holds missing values.
type BinMapper struct {
	Categorical bool
	// Bounds are inclusive upper bounds of numeric bins; the last is +Inf.
	Bounds []float64
	// NumCats is the number of category codes seen in training.
	NumCats int
}

// NumBins returns the number of regular bins.
func (b *BinMapper) NumBins() int {
	if b.Categorical {
		return b.NumCats
	}
	return len(b.Bounds)
}

// MissingBin returns the index of the missing-value bin.
func (b *BinMapper) MissingBin() int {
	return b.NumBins()
}

// ValueToBin returns the bin for v.
func (b *BinMapper) ValueToBin(v float64) int {
	if math.IsNaN(v) {
		return b.MissingBin()
	}
	if b.Categorical {
		c := int(v)
		if c < 0 || c >= b.NumCats {
			return b.MissingBin()
		}
		return c
	}
	return sort.SearchFloat64s(b.Bounds, v)
}

// findBinBoundaries computes equal-frequency bin upper bounds over sorted
// non-missing values. Distinct values get their own bin when they fit.
func findBinBoundaries(sorted []float64, maxBin int) []float64 {
	var distinct []float64
	var counts []int
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
			counts = append(counts, 0)
		}
		counts[len(counts)-1]++
	}
	if len(distinct) == 0 {
		return []float64{math.Inf(1)}
	}

	// regular bins plus the missing bin must fit in maxBin
	limit := maxBin - 1
	if limit < 1 {
		limit = 1
	}
	bounds := make([]float64, 0, limit)
	if len(distinct) <= limit {
		for i := 0; i < len(distinct)-1; i++ {
			bounds = append(bounds, midpoint(distinct[i], distinct[i+1]))
		}
		return append(bounds, math.Inf(1))
	}

	perBin := float64(len(sorted)) / float64(limit)
	var acc int
	for i := 0; i < len(distinct)-1 && len(bounds) < limit-1; i++ {
		acc += counts[i]
		if float64(acc) >= perBin*float64(len(bounds)+1) {
			bounds = append(bounds, midpoint(distinct[i], distinct[i+1]))
		}
	}
	return append(bounds, math.Inf(1))
}

func midpoint(a, b float64) float64 {
	return a/2 + b/2
}

// binnedData is the column-major bin matrix of the training rows.
type binnedData struct {
	mappers []*BinMapper
	bins    [][]int32 // [feature][row]
}

// newBinnedData fits one BinMapper per feature and bins every row.
// Features are processed in parallel; each worker owns its column.
func newBinnedData(ctx context.Context, d *binInput, maxBin, workers int) (*binnedData, error) {
	rows, cols := d.X.Dims()
	bd := &binnedData{
		mappers: make([]*BinMapper, cols),
		bins:    make([][]int32, cols),
	}
	err := parallel.ForEach(ctx, cols, workers, func(j int) error {
		col := mat.Col(nil, j, d.X)
		var m *BinMapper
		if d.categorical[j] {
			m = &BinMapper{Categorical: true}
			for _, v := range col {
				if math.IsNaN(v) {
					continue
				}
				if v < 0 || v != math.Trunc(v) {
					return errors.NewValueError("lightgbm.bin", "categorical feature holds a non-code value")
				}
				if int(v)+1 > m.NumCats {
					m.NumCats = int(v) + 1
				}
			}
		} else {
			sorted := make([]float64, 0, rows)
			for _, v := range col {
				if !math.IsNaN(v) {
					sorted = append(sorted, v)
				}
			}
			sort.Float64s(sorted)
			m = &BinMapper{Bounds: findBinBoundaries(sorted, maxBin)}
		}
		bins := make([]int32, rows)
		for i, v := range col {
			bins[i] = int32(m.ValueToBin(v))
		}
		bd.mappers[j] = m
		bd.bins[j] = bins
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bd, nil
}

type binInput struct {
	X           *mat.Dense
	categorical []bool
}

// HistogramBin accumulates gradient statistics of one bin.
type HistogramBin struct {
	SumGrad float64
	SumHess float64
	Count   int
}

// Histogram holds one feature's bins, the missing bin last.
type Histogram []HistogramBin

// sub returns h - other bin by bin.
func (h Histogram) sub(other Histogram) Histogram {
	out := make(Histogram, len(h))
	for b := range h {
		out[b] = HistogramBin{
			SumGrad: h[b].SumGrad - other[b].SumGrad,
			SumHess: h[b].SumHess - other[b].SumHess,
			Count:   h[b].Count - other[b].Count,
		}
	}
	return out
}

// buildHistograms builds histograms of rows for the given features.
// The result is indexed by feature; unused features stay nil.
func (bd *binnedData) buildHistograms(ctx context.Context, rows []int, features []int, grad, hess []float64, workers int) ([]Histogram, error) {
	hists := make([]Histogram, len(bd.mappers))
	err := parallel.ForEach(ctx, len(features), workers, func(k int) error {
		j := features[k]
		h := make(Histogram, bd.mappers[j].NumBins()+1)
		bins := bd.bins[j]
		for _, i := range rows {
			b := &h[bins[i]]
			b.SumGrad += grad[i]
			b.SumHess += hess[i]
			b.Count++
		}
		hists[j] = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hists, nil
}

// subtractHistograms derives the sibling histograms from parent - child.
func subtractHistograms(parent, child []Histogram, features []int) []Histogram {
	out := make([]Histogram, len(parent))
	for _, j := range features {
		out[j] = parent[j].sub(child[j])
	}
	return out
}
