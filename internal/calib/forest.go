package calib

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Forest is a bootstrap aggregated ensemble of regression trees. Only
// the features selected in FeatureMask are used for splits.
type Forest struct {
	TreeCount   int
	MaxDepth    int
	MinLeafSize int
	FeatureMask [NumFeatures]bool
	Seed        uint64

	trees []*treeNode
}

// NewForest returns an untrained forest with the ensemble parameters of
// cfg
func NewForest(cfg Config, seed uint64) *Forest {
	return &Forest{
		TreeCount:   cfg.TreeCount,
		MaxDepth:    cfg.TreeDepth,
		MinLeafSize: cfg.MinLeafSize,
		FeatureMask: cfg.FeatureMask,
		Seed:        seed,
	}
}

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode // inputs[feature] <= threshold
	right     *treeNode
	value     float64
}

// Name implements Function
func (f *Forest) Name() string {
	var names []string
	for i, on := range f.FeatureMask {
		if on {
			names = append(names, featureNames[i])
		}
	}
	return fmt.Sprintf("forest[%d trees,depth %d,%s]", f.TreeCount, f.MaxDepth, strings.Join(names, ","))
}

// Train implements Function
func (f *Forest) Train(points []Point) error {
	if len(points) == 0 || f.TreeCount < 1 {
		return fmt.Errorf("%w: empty forest training set", ErrModelFit)
	}
	var feats []int
	for i, on := range f.FeatureMask {
		if on {
			feats = append(feats, i)
		}
	}
	if len(feats) == 0 {
		return fmt.Errorf("%w: no forest features selected", ErrModelFit)
	}
	minLeaf := f.MinLeafSize
	if minLeaf < 1 {
		minLeaf = 1
	}
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0x9e3779b97f4a7c15))
	f.trees = make([]*treeNode, f.TreeCount)
	sample := make([]Point, len(points))
	for t := range f.trees {
		for i := range sample {
			sample[i] = points[rng.IntN(len(points))]
		}
		f.trees[t] = growTree(sample, feats, f.MaxDepth, minLeaf)
	}
	return nil
}

// Predict implements Function
func (f *Forest) Predict(inputs []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.trees {
		n := t
		for n.left != nil {
			if inputs[n.feature] <= n.threshold {
				n = n.left
			} else {
				n = n.right
			}
		}
		sum += n.value
	}
	return sum / float64(len(f.trees))
}

// growTree builds a regression tree that minimizes the squared error.
// points is reordered.
func growTree(points []Point, feats []int, depth, minLeaf int) *treeNode {
	node := &treeNode{value: stat.Mean(labels(points), nil)}
	if depth <= 0 || len(points) < 2*minLeaf {
		return node
	}

	bestFeature, bestPos := -1, 0
	bestScore := sse(points)
	for _, feat := range feats {
		sort.SliceStable(points, func(a, b int) bool { return points[a].Inputs[feat] < points[b].Inputs[feat] })
		// running sums for the left part, right part follows from the total
		var sumL, sqL, sum, sq float64
		for i := range points {
			sum += points[i].Label
			sq += points[i].Label * points[i].Label
		}
		for i := 0; i < len(points)-1; i++ {
			sumL += points[i].Label
			sqL += points[i].Label * points[i].Label
			nL := float64(i + 1)
			nR := float64(len(points) - i - 1)
			if i+1 < minLeaf || len(points)-i-1 < minLeaf {
				continue
			}
			if points[i].Inputs[feat] == points[i+1].Inputs[feat] {
				continue
			}
			score := (sqL - sumL*sumL/nL) + ((sq - sqL) - (sum-sumL)*(sum-sumL)/nR)
			if score < bestScore-1e-15 {
				bestScore, bestFeature, bestPos = score, feat, i
			}
		}
	}
	if bestFeature < 0 {
		return node
	}
	sort.SliceStable(points, func(a, b int) bool {
		return points[a].Inputs[bestFeature] < points[b].Inputs[bestFeature]
	})
	node.feature = bestFeature
	node.threshold = (points[bestPos].Inputs[bestFeature] + points[bestPos+1].Inputs[bestFeature]) / 2
	node.left = growTree(points[:bestPos+1], feats, depth-1, minLeaf)
	node.right = growTree(points[bestPos+1:], feats, depth-1, minLeaf)
	return node
}

func sse(points []Point) float64 {
	var sum, sq float64
	for i := range points {
		sum += points[i].Label
		sq += points[i].Label * points[i].Label
	}
	return sq - sum*sum/float64(len(points))
}
