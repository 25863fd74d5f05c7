package evaluation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrCannotStratify is returned when some class is too small to appear on
// both sides of a split.
var ErrCannotStratify = errors.New("class too small to stratify")

// StratifiedSplit partitions row indices so every class keeps its share on
// both sides. The test side holds ceil(n*testSize) rows. y holds class codes.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int, err error) {
	n := len(y)
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v outside (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest

	classes, members := groupByClass(y)
	counts := make([]int, len(classes))
	for i, c := range classes {
		counts[i] = len(members[c])
		if counts[i] < 2 {
			return nil, nil, fmt.Errorf("class %d has %d member: %w", c, counts[i], ErrCannotStratify)
		}
	}
	if nTrain < len(classes) || nTest < len(classes) {
		return nil, nil, fmt.Errorf("split %d/%d cannot hold %d classes: %w", nTrain, nTest, len(classes), ErrCannotStratify)
	}

	rng := rand.New(rand.NewSource(seed))
	trainPer := approximateMode(counts, nTrain, rng)
	remaining := make([]int, len(counts))
	for i := range counts {
		remaining[i] = counts[i] - trainPer[i]
	}
	testPer := approximateMode(remaining, nTest, rng)

	for i, c := range classes {
		idx := members[c]
		perm := rng.Perm(len(idx))
		for j := 0; j < trainPer[i]; j++ {
			train = append(train, idx[perm[j]])
		}
		for j := trainPer[i]; j < trainPer[i]+testPer[i]; j++ {
			test = append(test, idx[perm[j]])
		}
	}

	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}

// RandomSplit is the unstratified fallback with the same size rule.
func RandomSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v outside (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest >= n {
		return nil, nil, fmt.Errorf("%d rows leave nothing to train on", n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// StratifiedKFold returns k disjoint test folds. Rows of each class are dealt
// to folds in their original order, so the result does not depend on a seed.
func StratifiedKFold(y []int, k int) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", len(y), k)
	}

	classes, members := groupByClass(y)
	position := make(map[int]int, len(classes))
	for i, c := range classes {
		position[c] = i
	}

	sorted := make([]int, len(y))
	copy(sorted, y)
	sort.Ints(sorted)

	// allocation[f][c]: rows of class c in fold f.
	allocation := make([][]int, k)
	for f := 0; f < k; f++ {
		allocation[f] = make([]int, len(classes))
		for i := f; i < len(sorted); i += k {
			allocation[f][position[sorted[i]]]++
		}
	}

	folds := make([][]int, k)
	for ci, c := range classes {
		next := 0
		for f := 0; f < k; f++ {
			take := allocation[f][ci]
			folds[f] = append(folds[f], members[c][next:next+take]...)
			next += take
		}
	}
	for f := range folds {
		sort.Ints(folds[f])
	}
	return folds, nil
}

// Complement returns the indices in [0, n) not present in fold.
func Complement(n int, fold []int) []int {
	in := make([]bool, n)
	for _, i := range fold {
		in[i] = true
	}
	out := make([]int, 0, n-len(fold))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}

func groupByClass(y []int) ([]int, map[int][]int) {
	members := make(map[int][]int)
	for i, c := range y {
		members[c] = append(members[c], i)
	}
	classes := make([]int, 0, len(members))
	for c := range members {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes, members
}

// approximateMode distributes draws across classes proportionally to counts,
// handing leftover draws to the largest fractional remainders. Ties among
// equal remainders are broken by rng.
func approximateMode(counts []int, draws int, rng *rand.Rand) []int {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]int, len(counts))
	if total == 0 {
		return out
	}

	remainders := make([]float64, len(counts))
	assigned := 0
	for i, c := range counts {
		exact := float64(draws) * float64(c) / float64(total)
		out[i] = int(math.Floor(exact))
		remainders[i] = exact - float64(out[i])
		assigned += out[i]
	}

	need := draws - assigned
	order := rng.Perm(len(counts))
	sort.SliceStable(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for _, i := range order {
		if need == 0 {
			break
		}
		if out[i] < counts[i] {
			out[i]++
			need--
		}
	}
	return out
}
