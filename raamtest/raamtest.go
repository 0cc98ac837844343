// Package raamtest provides in-memory fakes of the ledger.Client and
// pushstream.Client collaborators, for exercising package raam and
// raamreader end to end without a real ledger. No pack example
// provides a content-addressed ledger fake directly, so this is
// grounded on the generic "fake collaborator behind the same
// interface, guarded by a mutex" shape used throughout the corpus's
// own tests (e.g. the sandbox helper in orbas1-Synnergy's
// internal/testutil), specialized to ledger.Client/pushstream.Client.
package raamtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/trinary"
)

// Ledger is an in-memory ledger.Client: Submit assigns each call a
// fresh BundleID and records it, findByAddress/getRecords simply scan
// the stored records.
type Ledger struct {
	mu        sync.Mutex
	records   []ledger.Record
	nextID    int
	clock     int64
	SubmitErr error
}

// NewLedger returns an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) FindByAddress(_ context.Context, addr trinary.Trytes) ([]ledger.BundleID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[ledger.BundleID]bool)
	var ids []ledger.BundleID
	for _, r := range l.records {
		if r.Address == addr && !seen[r.BundleID] {
			seen[r.BundleID] = true
			ids = append(ids, r.BundleID)
		}
	}
	return ids, nil
}

func (l *Ledger) GetRecords(_ context.Context, ids []ledger.BundleID) ([]ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[ledger.BundleID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ledger.Record
	for _, r := range l.records {
		if want[r.BundleID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Ledger) Submit(_ context.Context, records []ledger.Record, _, _ uint8) ([]ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SubmitErr != nil {
		return nil, l.SubmitErr
	}

	id := ledger.BundleID(fmt.Sprintf("bundle-%d", l.nextID))
	l.nextID++
	l.clock++
	timestamp := l.clock

	out := make([]ledger.Record, len(records))
	for i, r := range records {
		r.BundleID = id
		r.Timestamp = timestamp
		out[i] = r
	}
	l.records = append(l.records, out...)
	return out, nil
}

// Records returns every record submitted so far, for test assertions.
func (l *Ledger) Records() []ledger.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Record, len(l.records))
	copy(out, l.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// PushStream is an in-memory pushstream.Client: Open registers the
// delivery callback, and Deliver (called directly by a test, bypassing
// any real network) fans a record out to it.
type PushStream struct {
	mu       sync.Mutex
	onRecord func(ledger.Record)
	isOpen   bool
}

// NewPushStream returns a closed in-memory push-stream client.
func NewPushStream() *PushStream {
	return &PushStream{}
}

func (p *PushStream) Open(_ context.Context, _ string, onRecord func(ledger.Record)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecord = onRecord
	p.isOpen = true
	return nil
}

func (p *PushStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecord = nil
	p.isOpen = false
	return nil
}

// Deliver simulates the push-stream server announcing rec to every
// current subscriber, as if it had just been attached to the ledger.
func (p *PushStream) Deliver(rec ledger.Record) {
	p.mu.Lock()
	cb := p.onRecord
	open := p.isOpen
	p.mu.Unlock()
	if open && cb != nil {
		cb(rec)
	}
}

// DeliverBundle delivers every record of a bundle in currentIndex
// order, the way a real push-stream server would announce them as
// they attach.
func (p *PushStream) DeliverBundle(bundle ledger.Bundle) {
	sorted := make(ledger.Bundle, len(bundle))
	copy(sorted, bundle)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CurrentIndex < sorted[j].CurrentIndex })
	for _, r := range sorted {
		p.Deliver(r)
	}
}
