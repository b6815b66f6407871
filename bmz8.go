// bmz8.go -- the inner small-bucket MPHF builder (<=255 keys per bucket)
//
// Critical-vertex identification (2-core peeling) followed by BFS/reverse-
// peel-order byte assignment, as described in cmph's BMZ8 algorithm and
// grounded on original_source/src/brz.c's invocation of it per bucket.
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package brz

import "math"

// bmz8Result is what the BMZ8 builder hands back to the BRZ orchestrator
// for one bucket.
type bmz8Result struct {
	g  []byte
	h1 HashFn
	h2 HashFn
	n  uint32
}

// peelRecord captures one vertex removed during 2-core peeling: v was
// removed via its sole remaining edge to parent, which was (or later
// becomes) assigned first.
type peelRecord struct {
	v      uint32
	parent uint32
}

// buildBMZ8 builds a minimal perfect hash table g[] for a single bucket's
// keys (at most 255 of them), retrying with fresh h1/h2 seeds up to
// maxRetries times per spec.md section 4.2 step 6.
func buildBMZ8(keys [][]byte, c float64, rng *seedRNG, kinds [2]HashKind) (*bmz8Result, error) {
	size := len(keys)
	if size == 0 {
		return &bmz8Result{g: nil, h1: nil, h2: nil, n: 0}, nil
	}

	n := tableSize(c, size)

	for attempt := 0; attempt < maxRetries; attempt++ {
		h1, err := NewHash(kinds[0], rng.Next())
		if err != nil {
			return nil, err
		}
		h2, err := NewHash(kinds[1], rng.Next())
		if err != nil {
			return nil, err
		}

		g, ok := tryAssign(keys, h1, h2, n)
		if ok {
			return &bmz8Result{g: g, h1: h1, h2: h2, n: n}, nil
		}
	}
	return nil, ErrInnerAssign
}

// tableSize computes n[i] = ceil(c * size[i]), the per-bucket vertex count.
func tableSize(c float64, size int) uint32 {
	n := uint32(math.Ceil(c * float64(size)))
	if n < uint32(size) {
		n = uint32(size)
	}
	return n
}

// tryAssign attempts one full BMZ8 construction (peel, critical BFS
// assignment, tree reverse-order assignment) for a fixed h1/h2 pair.
// Returns ok=false if any step can't find a byte assignment within
// [0,255], signalling the caller to resample h1/h2.
func tryAssign(keys [][]byte, h1, h2 HashFn, n uint32) ([]byte, bool) {
	size := uint32(len(keys))
	g := buildGraph(keys, h1, h2, n)

	removed, peelOrder, criticalEdge := peel(g, n)

	gArr := make([]byte, n)
	assigned := newBitVector(uint64(n))
	usedIDs := newBitVector(uint64(size))

	if !assignCritical(g, n, removed, criticalEdge, gArr, assigned, usedIDs, size) {
		return nil, false
	}
	if !assignTree(gArr, assigned, usedIDs, peelOrder, n, size) {
		return nil, false
	}

	return gArr, true
}

// peel iteratively removes degree<=1 vertices (the standard 2-core
// algorithm). It returns: a bitvector of removed (non-critical) vertices,
// the order in which they were removed (for reverse-order tree
// assignment), and a bitvector marking which edges were consumed by
// peeling (the complement are the critical/2-core edges).
func peel(g *bucketGraph, n uint32) (*bitVector, []peelRecord, *bitVector) {
	nEdges := uint32(len(g.edges))
	degree := make([]int32, n)
	for v := uint32(0); v < n; v++ {
		degree[v] = int32(g.degree(v))
	}

	removed := newBitVector(uint64(n))
	edgeUsed := newBitVector(uint64(nEdges))
	peelOrder := make([]peelRecord, 0, nEdges)

	queue := make([]uint32, 0, n)
	for v := uint32(0); v < n; v++ {
		if degree[v] <= 1 {
			queue = append(queue, v)
		}
	}

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]

		if removed.IsSet(uint64(v)) || degree[v] > 1 {
			continue
		}
		removed.Set(uint64(v))

		if degree[v] == 0 {
			continue
		}

		// find the sole remaining active edge incident to v
		var edgeID uint32
		var parent uint32
		found := false
		for e := g.head[v]; e != -1; e = g.next[e] {
			eid := g.adjEdge[e]
			to := g.adjTo[e]
			if edgeUsed.IsSet(uint64(eid)) || removed.IsSet(uint64(to)) {
				continue
			}
			edgeID, parent, found = eid, to, true
			break
		}
		if !found {
			continue
		}

		edgeUsed.Set(uint64(edgeID))
		peelOrder = append(peelOrder, peelRecord{v: v, parent: parent})
		degree[parent]--
		if degree[parent] <= 1 && !removed.IsSet(uint64(parent)) {
			queue = append(queue, parent)
		}
	}

	return removed, peelOrder, edgeUsed
}

// assignCritical runs BFS over each connected component of the 2-core,
// assigning g[root]=0 and greedily picking the smallest byte for each
// newly-visited neighbor, per spec.md section 4.2 step 4.
func assignCritical(g *bucketGraph, n uint32, removed, peeledEdge *bitVector, gArr []byte, assigned, usedIDs *bitVector, size uint32) bool {
	processedEdge := newBitVector(uint64(len(g.edges)))

	for start := uint32(0); start < n; start++ {
		if removed.IsSet(uint64(start)) || assigned.IsSet(uint64(start)) {
			continue
		}

		gArr[start] = 0
		assigned.Set(uint64(start))
		queue := []uint32{start}

		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]

			for e := g.head[u]; e != -1; e = g.next[e] {
				eid := g.adjEdge[e]
				if peeledEdge.IsSet(uint64(eid)) || processedEdge.IsSet(uint64(eid)) {
					continue
				}
				w := g.adjTo[e]

				if !assigned.IsSet(uint64(w)) {
					b, ok := smallestUnusedByte(gArr[u], n, size, usedIDs)
					if !ok {
						return false
					}
					gArr[w] = b
					assigned.Set(uint64(w))
					usedIDs.Set(uint64((uint32(gArr[u]) + uint32(b)) % n))
					processedEdge.Set(uint64(eid))
					queue = append(queue, w)
				} else {
					cand := (uint32(gArr[u]) + uint32(gArr[w])) % n
					if cand >= size || usedIDs.IsSet(uint64(cand)) {
						return false
					}
					usedIDs.Set(uint64(cand))
					processedEdge.Set(uint64(eid))
				}
			}
		}
	}
	return true
}

// smallestUnusedByte searches b in [0,255] for the smallest value such
// that (gu + b) mod n is a not-yet-used id in [0, size).
func smallestUnusedByte(gu byte, n, size uint32, usedIDs *bitVector) (byte, bool) {
	for b := 0; b <= 255; b++ {
		cand := (uint32(gu) + uint32(b)) % n
		if cand < size && !usedIDs.IsSet(uint64(cand)) {
			return byte(b), true
		}
	}
	return 0, false
}

// assignTree walks the peel order in reverse, assigning each non-critical
// vertex the smallest unused id expressible given its (already-assigned)
// parent, per spec.md section 4.2 step 5.
func assignTree(gArr []byte, assigned, usedIDs *bitVector, peelOrder []peelRecord, n, size uint32) bool {
	for i := len(peelOrder) - 1; i >= 0; i-- {
		rec := peelOrder[i]
		gu := uint32(gArr[rec.parent])

		found := false
		for id := uint32(0); id < size; id++ {
			if usedIDs.IsSet(uint64(id)) {
				continue
			}
			val := (id + n - gu%n) % n
			if val <= 255 {
				gArr[rec.v] = byte(val)
				usedIDs.Set(uint64(id))
				assigned.Set(uint64(rec.v))
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
