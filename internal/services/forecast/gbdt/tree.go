package gbdt

import (
	"math"
	"math/rand"
)

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	leaf      bool
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		nd := &t.nodes[i]
		if nd.leaf {
			return nd.value
		}
		v := x[nd.feature]
		if v <= nd.threshold || math.IsNaN(v) {
			i = nd.left
		} else {
			i = nd.right
		}
	}
}

type split struct {
	ok        bool
	feature   int
	threshold float64
	gain      float64
}

type leafState struct {
	node  int
	depth int
	sumG  float64
	count int
	best  split
}

// grower holds the per-fit scratch space shared by every tree.
type grower struct {
	X      [][]float64
	p      Params
	order  [][]int
	grad   []float64
	inBag  []bool
	leafOf []int
	rng    *rand.Rand
}

func (g *grower) growTree() tree {
	g.sampleRows()
	features := g.sampleColumns()

	t := tree{nodes: []node{{leaf: true}}}
	root := &leafState{node: 0}
	for i := range g.leafOf {
		g.leafOf[i] = -1
		if g.inBag[i] {
			g.leafOf[i] = 0
			root.sumG += g.grad[i]
			root.count++
		}
	}
	if root.count == 0 {
		return t
	}
	root.best = g.bestSplit(root, features)
	leaves := []*leafState{root}

	for len(leaves) < g.p.NumLeaves {
		pick := -1
		for i, l := range leaves {
			if l.best.ok && (pick < 0 || l.best.gain > leaves[pick].best.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		parent := leaves[pick]
		left, right := g.apply(&t, parent)
		left.best = g.bestSplit(left, features)
		right.best = g.bestSplit(right, features)
		leaves[pick] = left
		leaves = append(leaves, right)
	}

	for _, l := range leaves {
		t.nodes[l.node].value = leafValue(l.sumG, float64(l.count), g.p)
	}
	return t
}

// apply turns a leaf into an internal node and reassigns its rows.
func (g *grower) apply(t *tree, parent *leafState) (*leafState, *leafState) {
	s := parent.best
	li, ri := len(t.nodes), len(t.nodes)+1
	t.nodes = append(t.nodes, node{leaf: true}, node{leaf: true})
	t.nodes[parent.node] = node{feature: s.feature, threshold: s.threshold, left: li, right: ri}

	left := &leafState{node: li, depth: parent.depth + 1}
	right := &leafState{node: ri, depth: parent.depth + 1}
	for i, leaf := range g.leafOf {
		if leaf != parent.node {
			continue
		}
		if g.X[i][s.feature] <= s.threshold {
			g.leafOf[i] = li
			left.sumG += g.grad[i]
			left.count++
		} else {
			g.leafOf[i] = ri
			right.sumG += g.grad[i]
			right.count++
		}
	}
	return left, right
}

// bestSplit scans the presorted rows of every sampled feature once.
func (g *grower) bestSplit(l *leafState, features []int) split {
	minChild := g.p.MinChildSamples
	if l.count < 2*minChild {
		return split{}
	}
	if g.p.MaxDepth > 0 && l.depth >= g.p.MaxDepth {
		return split{}
	}

	parentScore := leafScore(l.sumG, float64(l.count), g.p)
	best := split{}
	for _, f := range features {
		var sumL float64
		cntL := 0
		prev := math.NaN()
		for _, i := range g.order[f] {
			if g.leafOf[i] != l.node {
				continue
			}
			v := g.X[i][f]
			if cntL >= minChild && l.count-cntL >= minChild && v > prev {
				gain := leafScore(sumL, float64(cntL), g.p) +
					leafScore(l.sumG-sumL, float64(l.count-cntL), g.p) - parentScore
				if gain > g.p.MinGain && (!best.ok || gain > best.gain) {
					best = split{ok: true, feature: f, threshold: (prev + v) / 2, gain: gain}
				}
			}
			sumL += g.grad[i]
			cntL++
			prev = v
		}
	}
	return best
}

func (g *grower) sampleRows() {
	for i := range g.inBag {
		g.inBag[i] = g.p.Subsample >= 1 || g.rng.Float64() < g.p.Subsample
	}
}

func (g *grower) sampleColumns() []int {
	nf := len(g.order)
	k := int(math.Round(g.p.ColSample * float64(nf)))
	if k < 1 {
		k = 1
	}
	perm := g.rng.Perm(nf)
	cols := perm[:k]
	return cols
}
