package detector

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649

type isolationNode struct {
	splitValue float64
	left       *isolationNode
	right      *isolationNode
	size       int
	leaf       bool
}

// isolationForest is a one-dimensional isolation forest. Scores follow the
// usual 2^(-E[h(x)]/c(n)) form; values near 1 are easy to isolate.
type isolationForest struct {
	trees      []*isolationNode
	sampleSize int
	maxDepth   int
	// threshold is the training-score quantile at 1-contamination.
	threshold float64
}

// trainIsolationForest builds numTrees trees over random subsamples of data.
func trainIsolationForest(data []float64, numTrees, sampleSize int, contamination float64, seed int64) *isolationForest {
	if sampleSize <= 0 || sampleSize > len(data) {
		sampleSize = len(data)
	}
	if numTrees <= 0 {
		numTrees = 100
	}
	rng := rand.New(rand.NewSource(seed))
	f := &isolationForest{
		trees:      make([]*isolationNode, 0, numTrees),
		sampleSize: sampleSize,
		maxDepth:   int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2)))),
	}

	for i := 0; i < numTrees; i++ {
		sample := subsample(rng, data, sampleSize)
		f.trees = append(f.trees, f.build(rng, sample, 0))
	}

	scores := make([]float64, len(data))
	for i, v := range data {
		scores[i] = f.score(v)
	}
	sort.Float64s(scores)
	idx := int(math.Ceil((1-contamination)*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	f.threshold = scores[idx]
	return f
}

// score returns the anomaly score of v in (0, 1].
func (f *isolationForest) score(v float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, v, 0)
	}
	avg := total / float64(len(f.trees))
	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}

// isOutlier reports whether v scores above the contamination threshold.
func (f *isolationForest) isOutlier(v float64) bool {
	return f.score(v) > f.threshold
}

func (f *isolationForest) build(rng *rand.Rand, data []float64, depth int) *isolationNode {
	if len(data) <= 1 || depth >= f.maxDepth {
		return &isolationNode{size: len(data), leaf: true}
	}
	minVal, maxVal := data[0], data[0]
	for _, v := range data[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if maxVal-minVal < 1e-12 {
		return &isolationNode{size: len(data), leaf: true}
	}

	split := minVal + rng.Float64()*(maxVal-minVal)
	left := make([]float64, 0, len(data)/2)
	right := make([]float64, 0, len(data)/2)
	for _, v := range data {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationNode{size: len(data), leaf: true}
	}
	return &isolationNode{
		splitValue: split,
		left:       f.build(rng, left, depth+1),
		right:      f.build(rng, right, depth+1),
		size:       len(data),
	}
}

func pathLength(node *isolationNode, v float64, depth int) float64 {
	if node.leaf {
		return float64(depth) + averagePathLength(node.size)
	}
	if v < node.splitValue {
		return pathLength(node.left, v, depth+1)
	}
	return pathLength(node.right, v, depth+1)
}

// averagePathLength is c(n), the mean unsuccessful-search depth of a BST.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	harmonic := math.Log(float64(n-1)) + eulerGamma
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

func subsample(rng *rand.Rand, data []float64, n int) []float64 {
	shuffled := append([]float64(nil), data...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}
