// Package ledger declares the external collaborator RAAM depends on
// but never implements: a content-addressed ledger client capable of
// finding bundles by address, fetching their records, and submitting
// new ones. Record/Bundle field names are grounded on tx.Tx as used by
// the bundle package in the pack (CurrentIndex, LastIndex, Address,
// SignatureMessageFragment, Bundle), renamed to RAAM's vocabulary.
package ledger

import (
	"context"
	"sort"

	"github.com/iotaledger/raam.go/trinary"
)

// BundleID identifies a ledger-assigned grouping of records.
type BundleID string

// Record is one fixed-width fragment of a bundle, as submitted to or
// retrieved from the ledger.
type Record struct {
	BundleID     BundleID
	Address      trinary.Trytes
	Value        int64
	Message      trinary.Trytes // exactly FragTrytes trytes
	Tag          trinary.Trytes
	CurrentIndex int
	LastIndex    int
	Timestamp    int64 // unix seconds, used to order bundles at one address
}

// Bundle is an ordered set of records sharing a BundleID, ordered by
// CurrentIndex.
type Bundle []Record

// Client is the out-of-scope ledger RPC surface (spec.md §6). Every
// method is context-aware since it performs network I/O; this is the
// RAAM module's only network-facing dependency.
type Client interface {
	// FindByAddress returns the bundle identifiers of every bundle
	// that has at least one record at addr.
	FindByAddress(ctx context.Context, addr trinary.Trytes) ([]BundleID, error)
	// GetRecords returns every record belonging to the given bundles.
	GetRecords(ctx context.Context, ids []BundleID) ([]Record, error)
	// Submit performs proof-of-work over records (to the given depth
	// and min-weight-magnitude) and attaches them to the ledger,
	// returning the attached records.
	Submit(ctx context.Context, records []Record, depth, mwm uint8) ([]Record, error)
}

// DefaultDepth and DefaultMWM are the opaque proof-of-work parameters
// used when a caller doesn't override them (spec.md §6).
const (
	DefaultDepth uint8 = 3
	DefaultMWM   uint8 = 14
)

// SortByTimestamp orders bundles at one address by ascending record
// timestamp, so the earliest-attached bundle is tried first when
// parsing (spec.md §9 "bundles at an address are sorted by record
// timestamp ascending and tried in order").
func SortByTimestamp(bundles []Bundle) {
	sort.Slice(bundles, func(i, j int) bool {
		return bundleTimestamp(bundles[i]) < bundleTimestamp(bundles[j])
	})
}

func bundleTimestamp(b Bundle) int64 {
	if len(b) == 0 {
		return 0
	}
	return b[0].Timestamp
}
