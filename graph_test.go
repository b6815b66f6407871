// graph_test.go -- test suite for graph.go
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package brz

import "testing"

func keyList(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestBuildGraphEdgeCount(t *testing.T) {
	assert := newAsserter(t)

	keys := keyList("alpha", "beta", "gamma", "delta", "epsilon")
	h1, _ := NewHash(HashLookup3, 1)
	h2, _ := NewHash(HashLookup3, 2)

	n := tableSize(1.0, len(keys))
	g := buildGraph(keys, h1, h2, n)

	assert(len(g.edges) == len(keys), "edge count mismatch; exp %d, saw %d", len(keys), len(g.edges))
	assert(g.n == n, "vertex count mismatch; exp %d, saw %d", n, g.n)

	for _, e := range g.edges {
		assert(e[0] != e[1], "self loop survived tie-break: %v", e)
		assert(e[0] < n && e[1] < n, "edge endpoint out of range: %v (n=%d)", e, n)
	}
}

func TestBuildGraphAdjacencyConsistent(t *testing.T) {
	assert := newAsserter(t)

	keys := keyList("one", "two", "three", "four")
	h1, _ := NewHash(HashLookup3, 11)
	h2, _ := NewHash(HashLookup3, 22)
	n := tableSize(1.0, len(keys))
	g := buildGraph(keys, h1, h2, n)

	// every edge must show up in both endpoints' adjacency lists exactly once
	for eid, e := range g.edges {
		foundA, foundB := false, false
		g.adjIter(e[0], func(to, edge uint32) {
			if edge == uint32(eid) && to == e[1] {
				foundA = true
			}
		})
		g.adjIter(e[1], func(to, edge uint32) {
			if edge == uint32(eid) && to == e[0] {
				foundB = true
			}
		})
		assert(foundA, "edge %d missing from endpoint %d's adjacency", eid, e[0])
		assert(foundB, "edge %d missing from endpoint %d's adjacency", eid, e[1])
	}
}

func TestGraphDegreeSumIsTwiceEdges(t *testing.T) {
	assert := newAsserter(t)

	keys := keyList("a", "b", "c", "d", "e", "f", "g")
	h1, _ := NewHash(HashLookup3, 3)
	h2, _ := NewHash(HashLookup3, 4)
	n := tableSize(1.2, len(keys))
	g := buildGraph(keys, h1, h2, n)

	sum := 0
	for v := uint32(0); v < n; v++ {
		sum += g.degree(v)
	}
	assert(sum == 2*len(keys), "sum of degrees mismatch; exp %d, saw %d", 2*len(keys), sum)
}
