// Package merkle builds the per-channel Merkle tree of one-time
// signing keys and verifies authentication paths against a channel
// root. Construction is grounded on the subseed -> private key ->
// verifying key pipeline in the teacher's address.GenerateAddress,
// generalized from "derive one address" to "derive 2^h leaves and
// combine them pairwise into a single root."
package merkle

import (
	"time"

	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/curl"
	"github.com/iotaledger/raam.go/ots"
	"github.com/iotaledger/raam.go/trinary"
)

// MinHeight and MaxHeight bound a channel's tree height, per spec.md
// §3 "height h in [1,26]".
const (
	MinHeight = 1
	MaxHeight = 26
)

var (
	// ErrInvalidHeight is returned for height outside [MinHeight,MaxHeight].
	ErrInvalidHeight = errors.New("merkle: height out of range [1,26]")
	// ErrInvalidIndex is returned when a leaf index falls outside a
	// tree's range.
	ErrInvalidIndex = errors.New("merkle: leaf index out of range")
	// ErrIncompleteTree is returned when rehydrating a tree from
	// key-file records that don't cover every leaf/level.
	ErrIncompleteTree = errors.New("merkle: key-file records do not form a complete tree")
	// ErrVerificationFailed is returned by VerifyPath on mismatch.
	ErrVerificationFailed = errors.New("merkle: authentication path does not reconstruct the channel root")
)

// Leaf is a Merkle tree leaf: a one-time signing keypair at level 0.
type Leaf struct {
	Public  trinary.Trits
	Private trinary.Trits
	Index   uint64
}

// Node is an internal Merkle tree node above level 0.
type Node struct {
	Hash  trinary.Trits
	Index uint64
	Level uint8
}

// ProgressReport summarizes work done since the previous progress
// callback invocation.
type ProgressReport struct {
	NewLeaves       int
	NewNodesByLevel map[uint8]int
}

// ProgressFunc is invoked at most every BuildOptions.ProgressEvery
// during construction. It is advisory only: build correctness never
// depends on when, or how often, it fires.
type ProgressFunc func(ProgressReport)

// BuildOptions configures progress reporting during Build.
type BuildOptions struct {
	ProgressEvery time.Duration
	OnProgress    ProgressFunc
}

// Tree is a channel's fully materialized Merkle tree: 2^Height leaves
// and every internal node up to the root.
type Tree struct {
	height   uint8
	security uint8
	offset   uint64
	root     trinary.Trits
	leaves   []Leaf
	levels   [][]Node // levels[0] mirrors leaves as Nodes; levels[height] is [root]
}

// Height, Security, Offset and Root are read-only accessors describing
// the channel parameters a tree was built with.
func (t *Tree) Height() uint8          { return t.height }
func (t *Tree) Security() uint8        { return t.security }
func (t *Tree) Offset() uint64         { return t.offset }
func (t *Tree) Root() trinary.Trits    { return t.root }
func (t *Tree) Leaves() []Leaf         { return t.leaves }
func (t *Tree) Leaf(index uint64) (Leaf, error) {
	if index < t.offset || index >= t.offset+uint64(len(t.leaves)) {
		return Leaf{}, ErrInvalidIndex
	}
	return t.leaves[index-t.offset], nil
}

// NodesByLevel returns the tree's internal (or leaf-as-node) entries
// at the given level, ordered by ascending position.
func (t *Tree) NodesByLevel(level uint8) []Node {
	if int(level) >= len(t.levels) {
		return nil
	}
	return t.levels[level]
}

type stackEntry struct {
	hash  trinary.Trits
	index uint64
	level uint8
}

// Build deterministically constructs the Merkle tree for (seed,
// height, security, offset): for the same four inputs it always
// yields the same channel root and leaf keys, regardless of progress
// callback timing (spec.md §8 "Root determinism").
func Build(seed trinary.Trits, height, security uint8, offset uint64, opts *BuildOptions) (*Tree, error) {
	if height < MinHeight || height > MaxHeight {
		return nil, ErrInvalidHeight
	}
	if !ots.ValidSecurity(security) {
		return nil, ots.ErrInvalidSecurity
	}

	count := uint64(1) << height
	levels := make([][]Node, height+1)
	leaves := make([]Leaf, 0, count)

	var stack []stackEntry
	var lastFlush time.Time
	var pendingLeaves int
	pendingNodes := map[uint8]int{}
	flush := func(force bool) {
		if opts == nil || opts.OnProgress == nil {
			return
		}
		if pendingLeaves == 0 && len(pendingNodes) == 0 {
			return
		}
		if !force && opts.ProgressEvery > 0 && time.Since(lastFlush) < opts.ProgressEvery {
			return
		}
		report := ProgressReport{NewLeaves: pendingLeaves, NewNodesByLevel: map[uint8]int{}}
		for l, n := range pendingNodes {
			report.NewNodesByLevel[l] = n
		}
		opts.OnProgress(report)
		pendingLeaves = 0
		pendingNodes = map[uint8]int{}
		lastFlush = time.Now()
	}

	for i := offset; i < offset+count; i++ {
		subseed, err := ots.Subseed(seed, i)
		if err != nil {
			return nil, errors.Wrapf(err, "subseed for leaf %d", i)
		}
		priv, err := ots.Key(subseed, security)
		if err != nil {
			return nil, errors.Wrapf(err, "key for leaf %d", i)
		}
		pub, err := ots.PublicKey(priv, security)
		if err != nil {
			return nil, errors.Wrapf(err, "public key for leaf %d", i)
		}

		leaves = append(leaves, Leaf{Public: pub, Private: priv, Index: i})
		levels[0] = append(levels[0], Node{Hash: pub, Index: i, Level: 0})
		stack = append(stack, stackEntry{hash: pub, index: i, level: 0})
		pendingLeaves++

		for len(stack) >= 2 && stack[len(stack)-1].level == stack[len(stack)-2].level {
			second := stack[len(stack)-1]
			first := stack[len(stack)-2]
			stack = stack[:len(stack)-2]

			combined := make(trinary.Trits, 0, len(first.hash)+len(second.hash))
			combined = append(combined, first.hash...)
			combined = append(combined, second.hash...)
			hash, err := curl.Sum(combined, int(security)*curl.HashSize)
			if err != nil {
				return nil, errors.Wrapf(err, "combining nodes %d/%d at level %d", first.index, second.index, first.level)
			}

			parentIndex := first.index / 2
			parentLevel := first.level + 1
			node := Node{Hash: hash, Index: parentIndex, Level: parentLevel}
			levels[parentLevel] = append(levels[parentLevel], node)
			stack = append(stack, stackEntry{hash: hash, index: parentIndex, level: parentLevel})
			pendingNodes[parentLevel]++
		}

		flush(false)
	}
	flush(true)

	if len(stack) != 1 {
		return nil, ErrIncompleteTree
	}

	return &Tree{
		height:   height,
		security: security,
		offset:   offset,
		root:     stack[0].hash,
		leaves:   leaves,
		levels:   levels,
	}, nil
}

// AuthPath returns the h sibling hashes needed to recompute the
// channel root from leaf index's verifying key, stored leaves-first
// (level 0 first).
func (t *Tree) AuthPath(index uint64) ([]trinary.Trits, error) {
	if index < t.offset || index >= t.offset+uint64(len(t.leaves)) {
		return nil, ErrInvalidIndex
	}
	local := index - t.offset
	path := make([]trinary.Trits, t.height)
	for level := uint8(0); level < t.height; level++ {
		pos := local >> level
		siblingPos := pos ^ 1
		levelNodes := t.levels[level]
		if siblingPos >= uint64(len(levelNodes)) {
			return nil, ErrIncompleteTree
		}
		path[level] = levelNodes[siblingPos].Hash
	}
	return path, nil
}

// VerifyPath reconstructs a channel root from a leaf's verifying key,
// its (absolute, 0-based) index, and its authentication path, and
// compares the result to root. Flipping any trit of any element in
// the path or key breaks verification (spec.md §8 "Path soundness").
func VerifyPath(root, leafPublic trinary.Trits, index uint64, path []trinary.Trits, security uint8) error {
	got, err := ReconstructRoot(leafPublic, index, path, security)
	if err != nil {
		return err
	}
	if len(got) != len(root) {
		return ErrVerificationFailed
	}
	for i := range got {
		if got[i] != root[i] {
			return ErrVerificationFailed
		}
	}
	return nil
}

// ReconstructRoot recomputes the channel root implied by a leaf
// verifying key, its index, and its authentication path, without
// comparing it against any claimed root. Used by public-mode readers
// (spec.md §4.7 fetchPublic) that must derive the channel root purely
// from a ledger record.
func ReconstructRoot(leafPublic trinary.Trits, index uint64, path []trinary.Trits, security uint8) (trinary.Trits, error) {
	cur := leafPublic
	for level, sibling := range path {
		pos := index >> uint(level)
		combined := make(trinary.Trits, 0, len(cur)+len(sibling))
		if pos%2 == 0 {
			combined = append(combined, cur...)
			combined = append(combined, sibling...)
		} else {
			combined = append(combined, sibling...)
			combined = append(combined, cur...)
		}
		hash, err := curl.Sum(combined, int(security)*curl.HashSize)
		if err != nil {
			return nil, errors.Wrapf(err, "combining at auth path level %d", level)
		}
		cur = hash
	}
	return cur, nil
}

// FromParts rehydrates a Tree from previously-persisted leaves and
// internal nodes (package keyfile), without re-deriving any key
// material. The single node at height=height is taken as the channel
// root.
func FromParts(leaves []Leaf, levels [][]Node, height, security uint8) (*Tree, error) {
	if height < MinHeight || height > MaxHeight {
		return nil, ErrInvalidHeight
	}
	if len(levels) != int(height)+1 || len(levels[height]) != 1 {
		return nil, ErrIncompleteTree
	}
	expected := uint64(1) << height
	if uint64(len(leaves)) != expected {
		return nil, ErrIncompleteTree
	}
	offset := leaves[0].Index
	return &Tree{
		height:   height,
		security: security,
		offset:   offset,
		root:     levels[height][0].Hash,
		leaves:   leaves,
		levels:   levels,
	}, nil
}
