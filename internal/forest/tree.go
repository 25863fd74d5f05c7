package forest

import (
	"math/rand"
	"sort"
)

// Node is a flattened tree node. Leaves have Left == -1 and carry the class
// distribution of the training rows that reached them.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      int       `json:"l"`
	Right     int       `json:"r"`
	Dist      []float64 `json:"d,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Dist
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type builder struct {
	x           [][]float64
	y           []int
	classes     int
	maxDepth    int
	minSplit    int
	maxFeatures int
	rng         *rand.Rand

	tree       Tree
	importance []float64
}

type split struct {
	feature   int
	threshold float64
	score     float64
	pivot     int
	ok        bool
}

func (b *builder) build(rows []int, depth int) int {
	counts := b.count(rows)
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Left: -1, Right: -1})

	if depth >= b.maxDepth || len(rows) < b.minSplit || isPure(counts) {
		b.tree.Nodes[idx].Dist = distribution(counts, len(rows))
		return idx
	}

	best := b.bestSplit(rows)
	if !best.ok {
		b.tree.Nodes[idx].Dist = distribution(counts, len(rows))
		return idx
	}

	parent := gini(counts, len(rows)) * float64(len(rows))
	b.importance[best.feature] += parent - best.score

	sorted := make([]int, len(rows))
	copy(sorted, rows)
	sortByFeature(b.x, sorted, best.feature)

	left := b.build(sorted[:best.pivot], depth+1)
	right := b.build(sorted[best.pivot:], depth+1)

	b.tree.Nodes[idx].Feature = best.feature
	b.tree.Nodes[idx].Threshold = best.threshold
	b.tree.Nodes[idx].Left = left
	b.tree.Nodes[idx].Right = right
	return idx
}

// bestSplit visits features in random order and stops once maxFeatures
// non-constant features have been evaluated.
func (b *builder) bestSplit(rows []int) split {
	width := len(b.x[rows[0]])
	order := b.rng.Perm(width)

	best := split{}
	visited := 0
	sorted := make([]int, len(rows))

	for _, f := range order {
		if visited >= b.maxFeatures {
			break
		}
		copy(sorted, rows)
		sortByFeature(b.x, sorted, f)
		if b.x[sorted[0]][f] == b.x[sorted[len(sorted)-1]][f] {
			continue
		}
		visited++

		left := make([]int, b.classes)
		right := b.count(sorted)
		n := len(sorted)

		for i := 1; i < n; i++ {
			c := b.y[sorted[i-1]]
			left[c]++
			right[c]--

			lo, hi := b.x[sorted[i-1]][f], b.x[sorted[i]][f]
			if lo == hi {
				continue
			}
			score := gini(left, i)*float64(i) + gini(right, n-i)*float64(n-i)
			if !best.ok || score < best.score {
				threshold := lo + (hi-lo)/2
				if threshold == hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, score: score, pivot: i, ok: true}
			}
		}
	}
	return best
}

func (b *builder) count(rows []int) []int {
	counts := make([]int, b.classes)
	for _, r := range rows {
		counts[b.y[r]]++
	}
	return counts
}

func sortByFeature(x [][]float64, rows []int, f int) {
	sort.SliceStable(rows, func(i, j int) bool { return x[rows[i]][f] < x[rows[j]][f] })
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func distribution(counts []int, n int) []float64 {
	d := make([]float64, len(counts))
	if n == 0 {
		return d
	}
	for i, c := range counts {
		d[i] = float64(c) / float64(n)
	}
	return d
}
