package lightgbm

import "sort"

// CategoryInfo stores the gradient statistics of one category.
type CategoryInfo struct {
	Category int
	Count    int
	SumGrad  float64
	SumHess  float64
}

// findCategoricalSplit orders the observed categories by
// SumGrad/(SumHess+cat_smooth) and scans prefixes from both ends, up to
// max_cat_threshold categories on the left. Missing and unseen categories
// always go right.
func (c splitConstraints) findCategoricalSplit(feature int, hist Histogram, mapper *BinMapper, g, h float64, n int) SplitInfo {
	cats := make([]CategoryInfo, 0, mapper.NumCats)
	for code := 0; code < mapper.NumCats; code++ {
		if hist[code].Count == 0 {
			continue
		}
		cats = append(cats, CategoryInfo{
			Category: code,
			Count:    hist[code].Count,
			SumGrad:  hist[code].SumGrad,
			SumHess:  hist[code].SumHess,
		})
	}
	if len(cats) < 2 {
		return noSplit()
	}

	sort.SliceStable(cats, func(i, j int) bool {
		ri := cats[i].SumGrad / (cats[i].SumHess + c.catSmooth)
		rj := cats[j].SumGrad / (cats[j].SumHess + c.catSmooth)
		return ri < rj
	})

	maxLeft := len(cats) - 1
	if c.maxCatThresh > 0 && c.maxCatThresh < maxLeft {
		maxLeft = c.maxCatThresh
	}

	best := noSplit()
	var bestFromEnd bool
	var bestSize int
	for _, fromEnd := range []bool{false, true} {
		var lg, lh float64
		var lc int
		for k := 0; k < maxLeft; k++ {
			ci := cats[k]
			if fromEnd {
				ci = cats[len(cats)-1-k]
			}
			lg += ci.SumGrad
			lh += ci.SumHess
			lc += ci.Count
			rg, rh, rc := g-lg, h-lh, n-lc
			if !c.admissible(lc, lh, rc, rh) {
				continue
			}
			gain := c.splitGain(lg, lh, rg, rh, g, h)
			if gain > best.Gain {
				best = SplitInfo{
					Feature:  feature,
					Gain:     gain,
					LeftGrad: lg, LeftHess: lh, LeftCount: lc,
					RightGrad: rg, RightHess: rh, RightCount: rc,
				}
				bestFromEnd = fromEnd
				bestSize = k + 1
			}
		}
	}
	if !best.Valid() || best.Gain <= c.minGain {
		return noSplit()
	}

	left := make([]int, 0, bestSize)
	for k := 0; k < bestSize; k++ {
		if bestFromEnd {
			left = append(left, cats[len(cats)-1-k].Category)
		} else {
			left = append(left, cats[k].Category)
		}
	}
	sort.Ints(left)
	best.Categories = left
	return best
}

func containsCategory(sorted []int, c int) bool {
	i := sort.SearchInts(sorted, c)
	return i < len(sorted) && sorted[i] == c
}
