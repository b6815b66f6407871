// graph.go -- 2-hash multigraph construction for a single BMZ8 bucket
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package brz

// bucketGraph is the 2-hash multigraph over n = ceil(c*size) vertices built
// from a bucket's keys: one edge per key, connecting h1(key) and h2(key)
// (after the h1==h2 tie-break). Adjacency is an arena-plus-indices flat
// structure -- no pointers, no cycles -- per the Design Note in spec.md
// section 9.
type bucketGraph struct {
	n     uint32
	edges [][2]uint32 // edge i = (vertex a, vertex b); i is also the edge-id

	// adjacency lists, one linked list per vertex threaded through `next`
	head []int32 // head[v] = index into `adjTo`/`adjEdge`/`next`, or -1
	next []int32 // next[e2] = next adjacency-list entry, or -1
	adjTo   []uint32 // adjTo[e2] = the vertex at the far end of this entry
	adjEdge []uint32 // adjEdge[e2] = the edge-id this entry represents
}

// buildGraph hashes each key with h1/h2 to produce one edge per key. On a
// self-loop (h1(key) == h2(key)) h2 is bumped by one, wrapping at n, so the
// graph carries no single-vertex edges when n >= 2. With n == 1 the bump
// wraps back to vertex 0 and the edge stays a self-loop.
func buildGraph(keys [][]byte, h1, h2 HashFn, n uint32) *bucketGraph {
	g := &bucketGraph{
		n:     n,
		edges: make([][2]uint32, len(keys)),
		head:  make([]int32, n),
	}
	for i := range g.head {
		g.head[i] = -1
	}

	g.next = make([]int32, 0, 2*len(keys))
	g.adjTo = make([]uint32, 0, 2*len(keys))
	g.adjEdge = make([]uint32, 0, 2*len(keys))

	for i, k := range keys {
		a := hashmod(h1, k, n)
		b := hashmod(h2, k, n)
		if a == b {
			b++
			if b >= n {
				b = 0
			}
		}
		g.edges[i] = [2]uint32{a, b}
		g.addAdj(a, b, uint32(i))
		g.addAdj(b, a, uint32(i))
	}
	return g
}

func (g *bucketGraph) addAdj(from, to, edgeID uint32) {
	idx := int32(len(g.next))
	g.next = append(g.next, g.head[from])
	g.adjTo = append(g.adjTo, to)
	g.adjEdge = append(g.adjEdge, edgeID)
	g.head[from] = idx
}

// degree returns the number of incident edges at vertex v, counting
// parallel edges and self references separately for each endpoint.
func (g *bucketGraph) degree(v uint32) int {
	n := 0
	for e := g.head[v]; e != -1; e = g.next[e] {
		n++
	}
	return n
}

// adjIter calls fn for every (neighbor, edgeID) pair incident to v.
func (g *bucketGraph) adjIter(v uint32, fn func(to, edgeID uint32)) {
	for e := g.head[v]; e != -1; e = g.next[e] {
		fn(g.adjTo[e], g.adjEdge[e])
	}
}
