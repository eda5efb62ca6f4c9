package anomaly

import (
	"math"
	"math/rand"
)

// isolationForest isolates anomalies by random recursive partitioning:
// points that separate from the sample in few splits score high. Fitting
// consumes the seeded source sequentially, so equal seeds build equal
// forests; scoring is read-only.
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

// isoNode is one node of an isolation tree. Leaf nodes have nil children
// and carry the size of the sample that reached them.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

func (n *isoNode) leaf() bool { return n.left == nil }

func fitForest(rng *rand.Rand, matrix [][]float64, trees, sampleSize int) *isolationForest {
	n := len(matrix)
	ss := sampleSize
	if ss > n {
		ss = n
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(ss), 2))))

	forest := &isolationForest{trees: make([]*isoNode, 0, trees), sampleSize: ss}
	for t := 0; t < trees; t++ {
		sample := rng.Perm(n)[:ss]
		forest.trees = append(forest.trees, buildTree(rng, matrix, sample, 0, heightLimit))
	}
	return forest
}

func buildTree(rng *rand.Rand, matrix [][]float64, indices []int, depth, heightLimit int) *isoNode {
	if depth >= heightLimit || len(indices) <= 1 {
		return &isoNode{size: len(indices)}
	}

	width := len(matrix[indices[0]])
	splittable := make([]int, 0, width)
	for f := 0; f < width; f++ {
		lo, hi := bounds(matrix, indices, f)
		if hi > lo {
			splittable = append(splittable, f)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{size: len(indices)}
	}

	feature := splittable[rng.Intn(len(splittable))]
	lo, hi := bounds(matrix, indices, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, idx := range indices {
		if matrix[idx][feature] < split {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(indices)}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(rng, matrix, left, depth+1, heightLimit),
		right:   buildTree(rng, matrix, right, depth+1, heightLimit),
	}
}

func bounds(matrix [][]float64, indices []int, feature int) (lo, hi float64) {
	lo, hi = matrix[indices[0]][feature], matrix[indices[0]][feature]
	for _, idx := range indices[1:] {
		v := matrix[idx][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// score returns the anomaly score of one row in (0,1): 2^(-E[h]/c(ss)).
func (f *isolationForest) score(row []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/avgPathLength(f.sampleSize))
}

func pathLength(node *isoNode, row []float64, depth float64) float64 {
	if node.leaf() {
		return depth + avgPathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

const eulerMascheroni = 0.5772156649

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points; it normalizes leaf depth for unsplit samples.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
	}
}
