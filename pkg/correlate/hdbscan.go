package correlate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// NoiseLabel marks points that belong to no dense cluster.
const NoiseLabel = -1

// lambdaCap bounds 1/distance when members coincide, keeping the stability
// arithmetic finite.
const lambdaCap = 1e12

// hdbscanLabels assigns density-based cluster labels to the vectors:
// mutual-reachability distances from k-NN core distances, a Prim MST, a
// single-linkage hierarchy condensed by minClusterSize, and excess-of-mass
// cluster selection. Labels are 0..k-1, NoiseLabel for noise. The root of
// the hierarchy is never selected, so data forming one indivisible blob
// comes back as all noise.
func hdbscanLabels(vectors [][]float64, minClusterSize, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	if minSamples <= 0 {
		minSamples = minClusterSize
	}
	if n < minClusterSize || n < 2 {
		return labels
	}

	dist := pairwiseDistances(vectors)
	core := coreDistances(dist, minSamples)
	edges := primMST(dist, core)
	nodes, root := singleLinkage(edges, n)
	tree := condense(nodes, root, n, minClusterSize)
	selected := selectClusters(tree)

	label := 0
	for _, c := range tree.order {
		if !selected[c] {
			continue
		}
		for _, p := range tree.pointsUnder(c) {
			labels[p] = label
		}
		label++
	}
	return labels
}

func pairwiseDistances(vectors [][]float64) [][]float64 {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(vectors[i], vectors[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its minSamples-th
// nearest neighbor with the point itself counting as the nearest.
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	k := minSamples - 1
	if k > n-1 {
		k = n - 1
	}
	core := make([]float64, n)
	buf := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(buf, dist[i])
		sort.Float64s(buf)
		core[i] = buf[k]
	}
	return core
}

type mstEdge struct {
	a, b int
	w    float64
}

// primMST builds the minimum spanning tree over the implicit complete graph
// of mutual-reachability distances.
func primMST(dist [][]float64, core []float64) []mstEdge {
	n := len(dist)
	inTree := make([]bool, n)
	bestW := make([]float64, n)
	bestFrom := make([]int, n)
	for i := range bestW {
		bestW[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			w := dist[cur][j]
			if core[cur] > w {
				w = core[cur]
			}
			if core[j] > w {
				w = core[j]
			}
			if w < bestW[j] {
				bestW[j] = w
				bestFrom[j] = cur
			}
			if next == -1 || bestW[j] < bestW[next] {
				next = j
			}
		}
		edges = append(edges, mstEdge{a: bestFrom[next], b: next, w: bestW[next]})
		inTree[next] = true
		cur = next
	}
	return edges
}

// slNode is one node of the single-linkage hierarchy. Indices below n are
// leaf points; the rest are merges.
type slNode struct {
	left, right int
	dist        float64
	size        int
}

func singleLinkage(edges []mstEdge, n int) ([]slNode, int) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	nodes := make([]slNode, 2*n-1)
	for i := 0; i < n; i++ {
		nodes[i] = slNode{left: -1, right: -1, size: 1}
	}
	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	next := n
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		nodes[next] = slNode{left: ra, right: rb, dist: e.w, size: nodes[ra].size + nodes[rb].size}
		parent[ra], parent[rb] = next, next
		next++
	}
	return nodes, 2*n - 2
}

type pointFall struct {
	point  int
	lambda float64
}

// condensedTree is the minClusterSize-condensed hierarchy. Cluster 0 is the
// root; children always have larger ids than their parent.
type condensedTree struct {
	birth     []float64
	stability []float64
	children  [][]int
	points    [][]pointFall
	order     []int
}

func (t *condensedTree) newCluster(parent int, lambda float64, size int) int {
	id := len(t.birth)
	t.birth = append(t.birth, lambda)
	t.stability = append(t.stability, 0)
	t.children = append(t.children, nil)
	t.points = append(t.points, nil)
	t.children[parent] = append(t.children[parent], id)
	t.stability[parent] += (lambda - t.birth[parent]) * float64(size)
	t.order = append(t.order, id)
	return id
}

func (t *condensedTree) fallOut(cluster, point int, lambda float64) {
	t.points[cluster] = append(t.points[cluster], pointFall{point: point, lambda: lambda})
	t.stability[cluster] += lambda - t.birth[cluster]
}

// pointsUnder collects the points of a cluster and all its descendants.
func (t *condensedTree) pointsUnder(cluster int) []int {
	var out []int
	stack := []int{cluster}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, pf := range t.points[c] {
			out = append(out, pf.point)
		}
		stack = append(stack, t.children[c]...)
	}
	return out
}

func condense(nodes []slNode, root, n, minClusterSize int) *condensedTree {
	tree := &condensedTree{
		birth:     []float64{0},
		stability: []float64{0},
		children:  [][]int{nil},
		points:    [][]pointFall{nil},
	}

	leavesUnder := func(start int) []int {
		var out []int
		stack := []int{start}
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if idx < n {
				out = append(out, idx)
				continue
			}
			stack = append(stack, nodes[idx].left, nodes[idx].right)
		}
		return out
	}

	type frame struct {
		node    int
		cluster int
	}
	queue := []frame{{node: root, cluster: 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.node < n {
			continue
		}
		node := nodes[f.node]
		lambda := lambdaCap
		if node.dist > 0 {
			if l := 1 / node.dist; l < lambda {
				lambda = l
			}
		}
		leftSize, rightSize := nodes[node.left].size, nodes[node.right].size

		switch {
		case leftSize >= minClusterSize && rightSize >= minClusterSize:
			lc := tree.newCluster(f.cluster, lambda, leftSize)
			rc := tree.newCluster(f.cluster, lambda, rightSize)
			queue = append(queue, frame{node: node.left, cluster: lc}, frame{node: node.right, cluster: rc})
		case leftSize < minClusterSize && rightSize < minClusterSize:
			for _, p := range leavesUnder(node.left) {
				tree.fallOut(f.cluster, p, lambda)
			}
			for _, p := range leavesUnder(node.right) {
				tree.fallOut(f.cluster, p, lambda)
			}
		case leftSize < minClusterSize:
			for _, p := range leavesUnder(node.left) {
				tree.fallOut(f.cluster, p, lambda)
			}
			queue = append(queue, frame{node: node.right, cluster: f.cluster})
		default:
			for _, p := range leavesUnder(node.right) {
				tree.fallOut(f.cluster, p, lambda)
			}
			queue = append(queue, frame{node: node.left, cluster: f.cluster})
		}
	}
	return tree
}

// selectClusters runs excess-of-mass selection: a cluster is kept when it is
// at least as stable as its children combined; otherwise the children's
// stability propagates up. The root is excluded.
func selectClusters(tree *condensedTree) []bool {
	numClusters := len(tree.birth)
	selected := make([]bool, numClusters)

	var unselectDescendants func(int)
	unselectDescendants = func(c int) {
		for _, k := range tree.children[c] {
			selected[k] = false
			unselectDescendants(k)
		}
	}

	for c := numClusters - 1; c >= 1; c-- {
		kids := tree.children[c]
		if len(kids) == 0 {
			selected[c] = true
			continue
		}
		var childSum float64
		for _, k := range kids {
			childSum += tree.stability[k]
		}
		if tree.stability[c] >= childSum {
			selected[c] = true
			unselectDescendants(c)
		} else {
			tree.stability[c] = childSum
		}
	}
	return selected
}

// hdbscanGroups returns label groups as index lists, ordered by label.
func hdbscanGroups(vectors [][]float64, minClusterSize, minSamples int) [][]int {
	labels := hdbscanLabels(vectors, minClusterSize, minSamples)
	max := -1
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	groups := make([][]int, max+1)
	for i, l := range labels {
		if l == NoiseLabel {
			continue
		}
		groups[l] = append(groups[l], i)
	}
	return groups
}
