// Package keyfile persists a channel's Merkle tree as newline-delimited
// JSON records (spec.md §6 "Key-file format"): one record per leaf and
// one per internal node, so a publisher can resume a channel without
// regenerating every one-time key. encoding/json plus bufio is the
// idiomatic choice for a line-delimited format like this one; no pack
// dependency specializes in NDJSON beyond what the standard library
// already does cleanly.
package keyfile

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/trinary"
)

// record is the on-disk shape of one line: leaf records set Private
// and leave Hash empty; node records set Hash and leave Public/Private
// empty. Height distinguishes them (0 = leaf).
type record struct {
	Public  trinary.Trytes `json:"public,omitempty"`
	Private trinary.Trytes `json:"private,omitempty"`
	Hash    trinary.Trytes `json:"hash,omitempty"`
	Index   uint64         `json:"index"`
	Height  uint8          `json:"height"`
}

// Write serializes every leaf and internal node of a fully built tree
// to w, one JSON record per line: all leaves in tree order first, then
// the internal nodes level by level from level 1 up to the root.
// Nothing is written during tree construction.
func Write(w io.Writer, tree *merkle.Tree) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, leaf := range tree.Leaves() {
		public, err := trinary.TritsToTrytes(leaf.Public)
		if err != nil {
			return errors.Wrapf(err, "keyfile: encoding leaf %d public key", leaf.Index)
		}
		private, err := trinary.TritsToTrytes(leaf.Private)
		if err != nil {
			return errors.Wrapf(err, "keyfile: encoding leaf %d private key", leaf.Index)
		}
		if err := enc.Encode(record{Public: public, Private: private, Index: leaf.Index, Height: 0}); err != nil {
			return errors.Wrapf(err, "keyfile: writing leaf %d", leaf.Index)
		}
	}

	for level := uint8(1); ; level++ {
		nodes := tree.NodesByLevel(level)
		if nodes == nil {
			break
		}
		for _, node := range nodes {
			hash, err := trinary.TritsToTrytes(node.Hash)
			if err != nil {
				return errors.Wrapf(err, "keyfile: encoding node (%d,%d)", level, node.Index)
			}
			if err := enc.Encode(record{Hash: hash, Index: node.Index, Height: level}); err != nil {
				return errors.Wrapf(err, "keyfile: writing node (%d,%d)", level, node.Index)
			}
		}
	}

	return bw.Flush()
}

// Read loads every record from r, buckets leaves by index and internal
// nodes by (height,index), and rehydrates a *merkle.Tree via
// merkle.FromParts. height and security must match the values the
// tree was originally built with; they aren't recoverable from the
// key-file alone.
func Read(r io.Reader, height, security uint8) (*merkle.Tree, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var leaves []merkle.Leaf
	levels := make([][]merkle.Node, height+1)

	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "keyfile: decoding record")
		}

		if rec.Height == 0 {
			public, err := trinary.TrytesToTrits(rec.Public)
			if err != nil {
				return nil, errors.Wrapf(err, "keyfile: leaf %d public key", rec.Index)
			}
			private, err := trinary.TrytesToTrits(rec.Private)
			if err != nil {
				return nil, errors.Wrapf(err, "keyfile: leaf %d private key", rec.Index)
			}
			leaf := merkle.Leaf{Public: public, Private: private, Index: rec.Index}
			leaves = append(leaves, leaf)
			levels[0] = append(levels[0], merkle.Node{Hash: public, Index: rec.Index, Level: 0})
			continue
		}

		if int(rec.Height) >= len(levels) {
			return nil, errors.Errorf("keyfile: node height %d exceeds tree height %d", rec.Height, height)
		}
		hash, err := trinary.TrytesToTrits(rec.Hash)
		if err != nil {
			return nil, errors.Wrapf(err, "keyfile: node (%d,%d) hash", rec.Height, rec.Index)
		}
		levels[rec.Height] = append(levels[rec.Height], merkle.Node{Hash: hash, Index: rec.Index, Level: rec.Height})
	}

	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Index < leaves[j].Index })
	for l := range levels {
		nodes := levels[l]
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	}

	return merkle.FromParts(leaves, levels, height, security)
}
