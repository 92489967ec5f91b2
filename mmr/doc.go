// Package mmr implements the Merkle Mountain Range primitives that back
// the node's three authenticated logs (kernels, outputs, range proofs) and
// the header chain.
//
// An MMR is a strictly append-only binary structure: new leaves are added
// on the right, and whenever the newly added node completes a perfect
// subtree, the parent is backfilled immediately. The structure never
// contains a partially-filled internal node; what it does contain, at any
// point in time, is a forest of complete subtrees ("mountains") whose
// roots ("peaks") are combined to form a single root hash.
//
// Positions are post-order traversal indices, zero based. A complete
// 8-leaf tree (MMR size 15) looks like:
//
//	3                    14
//	                   /    \
//	2            6              13
//	           /   \           /    \
//	1       2       5       9        12
//	       / \     / \     / \      /  \
//	0     0   1   3   4   7   8   10    11
//
// The left column gives node height, the tree body gives positions. Every
// function in this package that accepts a "pos" argument takes a zero
// based position; functions accepting a leaf index are named accordingly
// (leaf index 0 is position 0, leaf index 2 is position 3, and so on).
package mmr
