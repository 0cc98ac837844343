// Package pushstream implements the subscription multiplexer in front
// of a raw push-stream client (spec.md §4.8): one upstream connection
// serving many per-address subscribers, reassembling multi-record
// bundles before dispatch. Per REDESIGN FLAGS ("module-level state:
// replace with an injectable handle"), Manager is an ordinary
// constructed value rather than a package-level singleton; callers
// that want process-wide sharing construct one Manager and pass it
// around, tests construct a fresh one per run.
package pushstream

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/trinary"
)

// Client is the out-of-scope push-stream RPC surface (spec.md §6): a
// raw connection delivering per-address record arrivals.
type Client interface {
	// Open establishes the connection to serverURL and begins
	// delivering records to onRecord until the context is cancelled or
	// Close is called.
	Open(ctx context.Context, serverURL string, onRecord func(ledger.Record)) error
	// Close tears down the connection.
	Close() error
}

// Unsubscribe cancels one subscription. It is idempotent: calling it
// more than once has no further effect.
type Unsubscribe func()

// Callback receives a fully reassembled, currentIndex-sorted bundle
// for the address it was subscribed to.
type Callback func(ledger.Bundle)

type subscriberEntry struct {
	id int
	cb Callback
}

type pendingBundle struct {
	lastIndex int
	records   map[int]ledger.Record
}

// Manager is one push-stream subscription multiplexer: one upstream
// Client connection, shared across every subscribed address, matching
// account.account's single-connection-per-plugin shape in the teacher
// (account/account.go's start/shutdownPlugins), generalized from "one
// plugin" to "one push-stream connection."
type Manager struct {
	mu sync.Mutex

	client    Client
	serverURL string
	open      bool

	nextID int
	subs   map[trinary.Trytes][]subscriberEntry
	bundls map[trinary.Trytes]map[ledger.BundleID]*pendingBundle
}

// NewManager constructs a Manager around client. The connection is not
// opened until the first Subscribe call.
func NewManager(client Client) *Manager {
	return &Manager{
		client: client,
		subs:   make(map[trinary.Trytes][]subscriberEntry),
		bundls: make(map[trinary.Trytes]map[ledger.BundleID]*pendingBundle),
	}
}

// SetServerURL stores the push-stream server URL to use the next time
// a connection must be opened. It has no effect on an already-open
// connection.
func (m *Manager) SetServerURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverURL = url
}

// Subscribe appends cb to the callback list for addr, opening the
// upstream connection first if it isn't already open. The returned
// Unsubscribe removes exactly this callback; when an address's
// callback list empties, the address is dropped, and when every
// address is dropped the connection is closed.
func (m *Manager) Subscribe(ctx context.Context, addr trinary.Trytes, cb Callback) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		if m.serverURL == "" {
			return nil, errs.ErrURLNotSet
		}
		if err := m.client.Open(ctx, m.serverURL, m.onRecord); err != nil {
			return nil, errors.Wrap(err, "pushstream: open")
		}
		m.open = true
	}

	id := m.nextID
	m.nextID++
	m.subs[addr] = append(m.subs[addr], subscriberEntry{id: id, cb: cb})

	return func() { m.unsubscribe(addr, id) }, nil
}

func (m *Manager) unsubscribe(addr trinary.Trytes, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.subs[addr]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(m.subs, addr)
		delete(m.bundls, addr)
	} else {
		m.subs[addr] = entries
	}

	if len(m.subs) == 0 && m.open {
		_ = m.client.Close()
		m.open = false
	}
}

// onRecord is the Client callback: it reassembles bundles per address
// and, once complete, dispatches to every current subscriber of that
// address. Held under m.mu for the whole call so a subscriber added or
// removed mid-dispatch can't observe a half-updated subscriber list.
func (m *Manager) onRecord(rec ledger.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subs[rec.Address]
	if !ok || len(subs) == 0 {
		return
	}

	perAddr, ok := m.bundls[rec.Address]
	if !ok {
		perAddr = make(map[ledger.BundleID]*pendingBundle)
		m.bundls[rec.Address] = perAddr
	}
	pb, ok := perAddr[rec.BundleID]
	if !ok {
		pb = &pendingBundle{lastIndex: rec.LastIndex, records: make(map[int]ledger.Record)}
		perAddr[rec.BundleID] = pb
	}
	pb.records[rec.CurrentIndex] = rec

	if len(pb.records) != pb.lastIndex+1 {
		return
	}

	bundle := make(ledger.Bundle, pb.lastIndex+1)
	for i := 0; i <= pb.lastIndex; i++ {
		bundle[i] = pb.records[i]
	}
	delete(perAddr, rec.BundleID)
	if len(perAddr) == 0 {
		delete(m.bundls, rec.Address)
	}

	for _, e := range subs {
		e.cb(bundle)
	}
}
