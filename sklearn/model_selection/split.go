// Package model_selection partitions rows into training and holdout sets.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// NewRand returns the deterministic generator used for a seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// TestCount is the holdout size for n rows: ceil(testSize * n).
func TestCount(n int, testSize float64) int {
	return int(math.Ceil(testSize * float64(n)))
}

// TrainTestSplit returns disjoint, ascending train and test row indices whose
// union is [0, len(labels)). The split is stratified by label when at least
// two distinct labels are present and uniformly random otherwise. The same
// seed always yields the same partition.
func TrainTestSplit(labels []float64, testSize float64, seed int64) (train, test []int, err error) {
	n := len(labels)
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := TestCount(n, testSize)
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, errors.NewValidationError("test_size",
			"leaves an empty train or test partition", map[string]interface{}{"rows": n, "test_size": testSize})
	}

	rng := NewRand(seed)
	groups := groupByLabel(labels)

	var testIdx []int
	if len(groups) < 2 {
		perm := rng.Perm(n)
		testIdx = perm[:nTest]
	} else {
		alloc := allocate(groups, n, nTest)
		for g, members := range groups {
			shuffled := append([]int(nil), members.rows...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			testIdx = append(testIdx, shuffled[:alloc[g]]...)
		}
	}

	inTest := make([]bool, n)
	for _, i := range testIdx {
		inTest[i] = true
	}
	train = make([]int, 0, n-nTest)
	test = make([]int, 0, nTest)
	for i := 0; i < n; i++ {
		if inTest[i] {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	return train, test, nil
}

type labelGroup struct {
	label float64
	rows  []int
}

// groupByLabel groups row indices by label value, ordered by label.
func groupByLabel(labels []float64) []labelGroup {
	byLabel := make(map[float64][]int)
	for i, y := range labels {
		byLabel[y] = append(byLabel[y], i)
	}
	groups := make([]labelGroup, 0, len(byLabel))
	for y, rows := range byLabel {
		groups = append(groups, labelGroup{label: y, rows: rows})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].label < groups[j].label })
	return groups
}

// allocate distributes nTest holdout rows across groups in proportion to
// their size using the largest remainder method.
func allocate(groups []labelGroup, n, nTest int) []int {
	alloc := make([]int, len(groups))
	rem := make([]float64, len(groups))
	assigned := 0
	for g, grp := range groups {
		exact := float64(nTest) * float64(len(grp.rows)) / float64(n)
		alloc[g] = int(math.Floor(exact))
		rem[g] = exact - float64(alloc[g])
		assigned += alloc[g]
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })

	for k := 0; assigned < nTest; k = (k + 1) % len(order) {
		g := order[k]
		if alloc[g] < len(groups[g].rows) {
			alloc[g]++
			assigned++
		}
	}
	return alloc
}
