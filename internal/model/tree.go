package model

import (
	"slices"
	"sort"
)

// Node is one tree node. Leaves have Feature == -1 and carry the class
// distribution of the training samples that reached them.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      int       `json:"left,omitempty"`
	Right     int       `json:"right,omitempty"`
	Value     []float64 `json:"value,omitempty"`
	Samples   int       `json:"samples"`
}

func (n *Node) leaf() bool { return n.Feature < 0 }

// TreeOptions configures DecisionTree growth.
type TreeOptions struct {
	MaxDepth        int `json:"max_depth"` // 0 grows until leaves are pure
	MinSamplesSplit int `json:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf"`
}

// DecisionTree is a CART classifier using Gini impurity. Samples with
// x[feature] <= threshold go left.
type DecisionTree struct {
	opts     TreeOptions
	nodes    []Node
	classes  []int
	features int
}

// NewDecisionTree returns an unfitted tree.
func NewDecisionTree(opts TreeOptions) *DecisionTree {
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}
	if opts.MinSamplesLeaf < 1 {
		opts.MinSamplesLeaf = 1
	}
	return &DecisionTree{opts: opts}
}

func (t *DecisionTree) Classes() []int { return slices.Clone(t.classes) }
func (t *DecisionTree) NumFeatures() int { return t.features }
func (t *DecisionTree) NodeCount() int { return len(t.nodes) }
func (t *DecisionTree) Options() TreeOptions { return t.opts }

// Depth returns the length of the longest root-to-leaf path.
func (t *DecisionTree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.nodes[i]
		if n.leaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// Fit grows the tree from scratch.
func (t *DecisionTree) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return ErrEmptyInput
	}
	if len(X) != len(y) {
		return ErrLabelLength
	}
	width := len(X[0])
	if err := checkRows(X, width); err != nil {
		return err
	}

	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	index := make(map[int]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	yi := make([]int, len(y))
	for i, label := range y {
		yi[i] = index[label]
	}

	b := &builder{opts: t.opts, X: X, y: yi, k: len(classes), width: width}
	samples := make([]int, len(X))
	for i := range samples {
		samples[i] = i
	}
	b.grow(samples, 0)

	t.nodes = b.nodes
	t.classes = classes
	t.features = width
	return nil
}

// Predict returns the most probable class per row; ties go to the smaller
// class label.
func (t *DecisionTree) Predict(X [][]float64) ([]int, error) {
	proba, err := t.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = t.classes[best]
	}
	return out, nil
}

// PredictProba returns the leaf class distribution reached by each row.
func (t *DecisionTree) PredictProba(X [][]float64) ([][]float64, error) {
	if len(t.nodes) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkRows(X, t.features); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = slices.Clone(t.leafFor(row).Value)
	}
	return out, nil
}

func (t *DecisionTree) leafFor(row []float64) *Node {
	n := &t.nodes[0]
	for !n.leaf() {
		if row[n.Feature] <= n.Threshold {
			n = &t.nodes[n.Left]
		} else {
			n = &t.nodes[n.Right]
		}
	}
	return n
}

type builder struct {
	opts  TreeOptions
	X     [][]float64
	y     []int
	k     int
	width int
	nodes []Node
}

type split struct {
	feature   int
	threshold float64
	score     float64 // weighted child impurity, lower is better
	ok        bool
}

// grow appends the subtree for samples and returns its node index.
func (b *builder) grow(samples []int, depth int) int {
	counts := b.counts(samples)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: distribution(counts, len(samples)), Samples: len(samples)})

	if pure(counts) ||
		len(samples) < b.opts.MinSamplesSplit ||
		(b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) {
		return id
	}

	best := b.bestSplit(samples)
	if !best.ok {
		return id
	}

	var left, right []int
	for _, s := range samples {
		if b.X[s][best.feature] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	n := &b.nodes[id]
	n.Feature = best.feature
	n.Threshold = best.threshold
	n.Left = l
	n.Right = r
	n.Value = nil
	return id
}

func (b *builder) bestSplit(samples []int) split {
	best := split{}
	order := make([]int, len(samples))
	total := b.counts(samples)
	n := len(samples)
	minLeaf := b.opts.MinSamplesLeaf

	leftCounts := make([]int, b.k)
	rightCounts := make([]int, b.k)
	for f := 0; f < b.width; f++ {
		copy(order, samples)
		sort.SliceStable(order, func(i, j int) bool { return b.X[order[i]][f] < b.X[order[j]][f] })
		if b.X[order[0]][f] == b.X[order[n-1]][f] {
			continue
		}

		clear(leftCounts)
		copy(rightCounts, total)
		for i := 0; i < n-1; i++ {
			c := b.y[order[i]]
			leftCounts[c]++
			rightCounts[c]--

			cur, next := b.X[order[i]][f], b.X[order[i+1]][f]
			if cur == next {
				continue
			}
			nl, nr := i+1, n-i-1
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			score := (float64(nl)*gini(leftCounts, nl) + float64(nr)*gini(rightCounts, nr)) / float64(n)
			if !best.ok || score < best.score {
				threshold := cur + (next-cur)/2
				if threshold == next {
					threshold = cur
				}
				best = split{feature: f, threshold: threshold, score: score, ok: true}
			}
		}
	}
	return best
}

func (b *builder) counts(samples []int) []int {
	c := make([]int, b.k)
	for _, s := range samples {
		c[b.y[s]]++
	}
	return c
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func pure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func distribution(counts []int, n int) []float64 {
	out := make([]float64, len(counts))
	if n == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(n)
	}
	return out
}
