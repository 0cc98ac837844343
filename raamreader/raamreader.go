// Package raamreader implements the Reader (spec.md §4.7): cache-backed
// range fetching over the ledger, verification of every fetched
// message, subscription to live records, and the public-mode static
// helpers that need no prior knowledge of a channel root. Shape
// grounded on the same account.account mutex/running pattern as
// package raam, and on account.defaultInputSelection's primary-pass
// (cached) vs. secondary-pass (uncached) split, generalized here to
// "cached index vs. hole index" partitioning during a range fetch.
package raamreader

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iotaledger/raam.go/codec"
	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/ots"
	"github.com/iotaledger/raam.go/pushstream"
	"github.com/iotaledger/raam.go/trinary"
)

// Settings configures a Reader.
type Settings struct {
	// ChannelRoot is the channel's tryte-encoded root. Leave empty to
	// construct a Reader for public-mode fetches only, which recover
	// the root per message via Merkle path reconstruction.
	ChannelRoot trinary.Trytes
	// Height and Security, when non-zero, are validated against every
	// decoded header (WRONG_HEIGHT / WRONG_SECURITY); leave zero to
	// accept whatever a parsed header declares.
	Height          uint8
	Security        uint8
	ChannelPassword trinary.Trytes

	Ledger     ledger.Client
	PushStream *pushstream.Manager

	Logger *logrus.Logger
}

func (s *Settings) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// Entry is one fetched, verified message.
type Entry struct {
	Message          trinary.Trytes
	VerifyingKey     trinary.Trits
	NextRoot         trinary.Trits
	NextRootSecurity uint8
}

// FetchOptions selects the range a Fetch call covers. Index, if set,
// overrides Start/End to a single-element range. A nil End means
// "probe until the first empty index."
type FetchOptions struct {
	Index *uint64
	Start uint64
	End   *uint64
}

func (o FetchOptions) bounds() (start uint64, end *uint64) {
	if o.Index != nil {
		i := *o.Index
		return i, &i
	}
	return o.Start, o.End
}

// Reader is a channel reader.
type Reader struct {
	mu      sync.RWMutex
	running bool

	setts *Settings

	cache    map[uint64]trinary.Trytes
	branches map[uint64]trinary.Trits
	branchS  map[uint64]uint8
	cursor   uint64
}

// NewReader validates setts and returns an unstarted Reader.
func NewReader(setts *Settings) (*Reader, error) {
	if setts == nil {
		return nil, errors.New("raamreader: settings must not be nil")
	}
	if setts.Ledger == nil {
		return nil, errors.New("raamreader: settings.Ledger must not be nil")
	}
	return &Reader{
		setts:    setts,
		cache:    make(map[uint64]trinary.Trytes),
		branches: make(map[uint64]trinary.Trits),
		branchS:  make(map[uint64]uint8),
	}, nil
}

// Start marks the Reader running.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("raamreader: already running")
	}
	r.running = true
	return nil
}

// Shutdown marks the Reader stopped; the cache is retained in memory.
func (r *Reader) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return errors.New("raamreader: not running")
	}
	r.running = false
	return nil
}

// Cursor returns the first index not yet known to be populated.
func (r *Reader) Cursor() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// Message returns a previously cached message, if any.
func (r *Reader) Message(index uint64) (trinary.Trytes, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.cache[index]
	return m, ok
}

// Branch returns a previously cached next-root pointer, if any.
func (r *Reader) Branch(index uint64) (trinary.Trits, uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nr, ok := r.branches[index]
	return nr, r.branchS[index], ok
}

// Fetch performs range coalescing over [start,end] (spec.md §4.7): it
// walks the requested range, skips indexes already cached, and for
// each contiguous hole fetches, parses and verifies one index at a
// time. When end is nil, the walk stops at the first index that has
// no bundle which parses with a matching index, and the cursor is
// advanced to that index.
func (r *Reader) Fetch(ctx context.Context, opts FetchOptions) (map[uint64]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, errors.New("raamreader: not running")
	}

	start, end := opts.bounds()
	result := make(map[uint64]Entry)

	i := start
	for end == nil || i <= *end {
		if msg, ok := r.cache[i]; ok {
			nr := r.branches[i]
			result[i] = Entry{Message: msg, NextRoot: nr, NextRootSecurity: r.branchS[i]}
			i++
			continue
		}

		parsed, verifyingKey, err := r.fetchAndVerify(ctx, i)
		if err != nil {
			return result, err
		}
		if parsed == nil {
			if end == nil {
				if i > r.cursor {
					r.cursor = i
				}
				return result, nil
			}
			i++
			continue
		}

		r.cache[i] = parsed.Message
		if parsed.NextRootSecurity > 0 {
			r.branches[i] = parsed.NextRoot
			r.branchS[i] = parsed.NextRootSecurity
		}
		if i+1 > r.cursor {
			r.cursor = i + 1
		}
		result[i] = Entry{
			Message:          parsed.Message,
			VerifyingKey:     verifyingKey,
			NextRoot:         parsed.NextRoot,
			NextRootSecurity: parsed.NextRootSecurity,
		}
		i++
	}
	return result, nil
}

// Sync is Fetch with an open-ended range starting at the cursor,
// bringing the Reader up to date with every message published so far.
func (r *Reader) Sync(ctx context.Context) (map[uint64]Entry, error) {
	r.mu.RLock()
	start := r.cursor
	r.mu.RUnlock()
	return r.Fetch(ctx, FetchOptions{Start: start})
}

// fetchAndVerify implements the §4.5/§4.7 fetch-parse-verify pipeline
// for one index: find bundles at its address, try each in ascending
// timestamp order, skip bundles that fail to parse, and raise on the
// first bundle whose signature or auth path fails to verify. Must be
// called with r.mu held.
func (r *Reader) fetchAndVerify(ctx context.Context, index uint64) (*codec.ParsedMessage, trinary.Trits, error) {
	if r.setts.ChannelRoot == "" {
		return nil, nil, errors.New("raamreader: channel root not set; use FetchPublic instead")
	}
	channelRootTrits, err := trinary.TrytesToTrits(r.setts.ChannelRoot)
	if err != nil {
		return nil, nil, errors.Wrap(err, "raamreader: invalid channel root")
	}

	addr, err := codec.AddressOf(channelRootTrits, index, r.setts.ChannelPassword)
	if err != nil {
		return nil, nil, err
	}
	key, err := codec.DeriveKey(channelRootTrits, r.setts.ChannelPassword, "", index)
	if err != nil {
		return nil, nil, err
	}

	bundles, err := fetchBundlesAt(ctx, r.setts.Ledger, addr)
	if err != nil {
		return nil, nil, err
	}
	if len(bundles) == 0 {
		return nil, nil, nil
	}

	for _, bundle := range bundles {
		parsed, err := codec.Parse(bundle, key)
		if err != nil {
			r.setts.logger().WithError(err).Debug("raamreader: skipping unparseable bundle")
			continue
		}
		if parsed.Header.Index != index {
			r.setts.logger().WithError(errs.ErrWrongIndex).Debug("raamreader: skipping bundle with mismatched index")
			continue
		}
		if r.setts.Height != 0 && parsed.Header.Height != r.setts.Height {
			return nil, nil, errs.ErrWrongHeight
		}
		if r.setts.Security != 0 && parsed.Header.Security != r.setts.Security {
			return nil, nil, errs.ErrWrongSecurity
		}

		sig, err := codec.Signature(bundle, codec.PayloadRecordCount(parsed.Header), parsed.Header.Security)
		if err != nil {
			return nil, nil, err
		}
		if err := verifyParsed(parsed, sig, channelRootTrits); err != nil {
			return nil, nil, err
		}
		return parsed, parsed.VerifyingKey, nil
	}
	return nil, nil, nil
}

// verifyParsed recomputes the publisher's digest and checks the
// signature and authentication path (spec.md §4.7 "per-index verify").
func verifyParsed(parsed *codec.ParsedMessage, sig trinary.Trits, channelRoot trinary.Trits) error {
	digestTrits, err := digestTritsFor(parsed)
	if err != nil {
		return err
	}
	digest, err := ots.NormalizedDigest(digestTrits, parsed.Header.Security)
	if err != nil {
		return errors.Wrap(err, "raamreader: normalizing digest")
	}
	if err := ots.Verify(sig, digest, parsed.VerifyingKey, parsed.Header.Security); err != nil {
		return errs.ErrVerificationFailed
	}
	if err := merkle.VerifyPath(channelRoot, parsed.VerifyingKey, uint64(parsed.Header.Index), parsed.AuthPath, parsed.Header.Security); err != nil {
		return errs.ErrAuthenticationFailed
	}
	return nil
}

func digestTritsFor(parsed *codec.ParsedMessage) (trinary.Trits, error) {
	indexTrytes, err := trinary.IntToTrytes(parsed.Header.Index, codec.HeaderIndexTrytes)
	if err != nil {
		return nil, err
	}
	msgTrits, err := trinary.TrytesToTrits(parsed.Message)
	if err != nil {
		return nil, errors.Wrap(err, "raamreader: invalid message trytes")
	}
	idxTrits, err := trinary.TrytesToTrits(indexTrytes)
	if err != nil {
		return nil, err
	}
	var out trinary.Trits
	out = append(out, msgTrits...)
	out = append(out, idxTrits...)
	out = append(out, parsed.VerifyingKey...)
	if parsed.NextRootSecurity > 0 {
		out = append(out, parsed.NextRoot...)
	}
	for _, p := range parsed.AuthPath {
		out = append(out, p...)
	}
	return out, nil
}

// fetchBundlesAt retrieves and groups every record at addr into
// bundles sorted by ascending record timestamp (spec.md §9 ambiguity
// (c)), via ledger.SortByTimestamp.
func fetchBundlesAt(ctx context.Context, client ledger.Client, addr trinary.Trytes) ([]ledger.Bundle, error) {
	ids, err := client.FindByAddress(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "raamreader: findByAddress")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := client.GetRecords(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "raamreader: getRecords")
	}

	byID := make(map[ledger.BundleID][]ledger.Record)
	for _, rec := range records {
		byID[rec.BundleID] = append(byID[rec.BundleID], rec)
	}
	bundles := make([]ledger.Bundle, 0, len(byID))
	for _, recs := range byID {
		sorted := make(ledger.Bundle, len(recs))
		copy(sorted, recs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CurrentIndex < sorted[j].CurrentIndex })
		bundles = append(bundles, sorted)
	}
	ledger.SortByTimestamp(bundles)
	return bundles, nil
}

// FetchSingle is the stateless static helper from spec.md §4.7: fetch
// and verify one index against a known channel root, without needing
// a constructed Reader or any cache.
func FetchSingle(ctx context.Context, client ledger.Client, channelRoot trinary.Trits, channelPassword trinary.Trytes, index uint64) (*codec.ParsedMessage, error) {
	addr, err := codec.AddressOf(channelRoot, index, channelPassword)
	if err != nil {
		return nil, err
	}
	key, err := codec.DeriveKey(channelRoot, channelPassword, "", index)
	if err != nil {
		return nil, err
	}
	bundles, err := fetchBundlesAt(ctx, client, addr)
	if err != nil {
		return nil, err
	}
	for _, bundle := range bundles {
		parsed, err := codec.Parse(bundle, key)
		if err != nil {
			continue
		}
		sig, err := codec.Signature(bundle, codec.PayloadRecordCount(parsed.Header), parsed.Header.Security)
		if err != nil {
			return nil, err
		}
		if err := verifyParsed(parsed, sig, channelRoot); err != nil {
			return nil, err
		}
		return parsed, nil
	}
	return nil, nil
}

// FetchMessages is FetchSingle over several indexes at once.
func FetchMessages(ctx context.Context, client ledger.Client, channelRoot trinary.Trits, channelPassword trinary.Trytes, indexes []uint64) (map[uint64]*codec.ParsedMessage, error) {
	out := make(map[uint64]*codec.ParsedMessage, len(indexes))
	for _, idx := range indexes {
		parsed, err := FetchSingle(ctx, client, channelRoot, channelPassword, idx)
		if err != nil {
			return out, errors.Wrapf(err, "index %d", idx)
		}
		if parsed != nil {
			out[idx] = parsed
		}
	}
	return out, nil
}

// FetchPublic fetches and decodes a public-mode record given only its
// ledger address: the stream-cipher key is the address's own trits
// (codec.PublicKey), and the channel root is reconstructed from the
// decoded verifying key, index, and authentication path rather than
// supplied up front.
func FetchPublic(ctx context.Context, client ledger.Client, addr trinary.Trytes) (*codec.ParsedMessage, trinary.Trits, error) {
	key, err := codec.PublicKey(addr)
	if err != nil {
		return nil, nil, err
	}
	bundles, err := fetchBundlesAt(ctx, client, addr)
	if err != nil {
		return nil, nil, err
	}
	for _, bundle := range bundles {
		parsed, err := codec.Parse(bundle, key)
		if err != nil {
			continue
		}
		channelRoot, err := merkle.ReconstructRoot(parsed.VerifyingKey, parsed.Header.Index, parsed.AuthPath, parsed.Header.Security)
		if err != nil {
			return nil, nil, err
		}
		sig, err := codec.Signature(bundle, codec.PayloadRecordCount(parsed.Header), parsed.Header.Security)
		if err != nil {
			return nil, nil, err
		}
		if err := verifyParsed(parsed, sig, channelRoot); err != nil {
			return nil, nil, err
		}
		return parsed, channelRoot, nil
	}
	return nil, nil, nil
}

// SingleResult is FetchPublicMessages's per-address outcome.
type SingleResult struct {
	Message     *codec.ParsedMessage
	ChannelRoot trinary.Trits
	Err         error
}

// FetchPublicMessages runs FetchPublic over several addresses,
// returning a map of address to SingleResult so a caller can inspect
// per-address failures without aborting the whole batch.
func FetchPublicMessages(ctx context.Context, client ledger.Client, addrs []trinary.Trytes) map[trinary.Trytes]SingleResult {
	out := make(map[trinary.Trytes]SingleResult, len(addrs))
	for _, addr := range addrs {
		parsed, root, err := FetchPublic(ctx, client, addr)
		out[addr] = SingleResult{Message: parsed, ChannelRoot: root, Err: err}
	}
	return out
}

// Subscribe wraps a pushstream.Manager subscription per index in
// opts's range: for each cache-hole index it subscribes to that
// index's address, and on bundle arrival parses and verifies it with
// the same checks as Fetch, passing parse and verification failures to
// onMessage instead of skipping them. If subscribeFollowing is true and the next index
// isn't already cached, Subscribe transparently subscribes to it too
// once the current one's bundle arrives.
func (r *Reader) Subscribe(ctx context.Context, opts FetchOptions, subscribeFollowing bool, onMessage func(index uint64, entry Entry, err error)) (pushstream.Unsubscribe, error) {
	r.mu.RLock()
	running := r.running
	hasPushStream := r.setts.PushStream != nil
	hasChannelRoot := r.setts.ChannelRoot != ""
	r.mu.RUnlock()
	if !running {
		return nil, errors.New("raamreader: not running")
	}
	if !hasPushStream {
		return nil, errors.New("raamreader: settings.PushStream not set")
	}
	if !hasChannelRoot {
		return nil, errors.New("raamreader: channel root not set")
	}

	// Each subscribeIndex call below takes r.mu itself (briefly, for
	// cache reads/writes); Subscribe must not hold it across those
	// calls.
	start, end := opts.bounds()
	var unsubs []pushstream.Unsubscribe
	var mu sync.Mutex

	var subscribeIndex func(idx uint64) error
	subscribeIndex = func(idx uint64) error {
		if end != nil && idx > *end {
			return nil
		}
		r.mu.RLock()
		_, cached := r.cache[idx]
		r.mu.RUnlock()
		if cached {
			return nil
		}

		channelRootTrits, err := trinary.TrytesToTrits(r.setts.ChannelRoot)
		if err != nil {
			return err
		}
		addr, err := codec.AddressOf(channelRootTrits, idx, r.setts.ChannelPassword)
		if err != nil {
			return err
		}
		key, err := codec.DeriveKey(channelRootTrits, r.setts.ChannelPassword, "", idx)
		if err != nil {
			return err
		}

		unsub, err := r.setts.PushStream.Subscribe(ctx, addr, func(bundle ledger.Bundle) {
			parsed, parseErr := codec.Parse(bundle, key)
			if parseErr != nil {
				onMessage(idx, Entry{}, parseErr)
				return
			}
			if parsed.Header.Index != idx {
				r.setts.logger().WithError(errs.ErrWrongIndex).Debug("raamreader: skipping bundle with mismatched index")
				return
			}
			if r.setts.Height != 0 && parsed.Header.Height != r.setts.Height {
				onMessage(idx, Entry{}, errs.ErrWrongHeight)
				return
			}
			if r.setts.Security != 0 && parsed.Header.Security != r.setts.Security {
				onMessage(idx, Entry{}, errs.ErrWrongSecurity)
				return
			}
			sig, sigErr := codec.Signature(bundle, codec.PayloadRecordCount(parsed.Header), parsed.Header.Security)
			if sigErr != nil {
				onMessage(idx, Entry{}, sigErr)
				return
			}
			if err := verifyParsed(parsed, sig, channelRootTrits); err != nil {
				onMessage(idx, Entry{}, err)
				return
			}

			r.mu.Lock()
			r.cache[idx] = parsed.Message
			if parsed.NextRootSecurity > 0 {
				r.branches[idx] = parsed.NextRoot
				r.branchS[idx] = parsed.NextRootSecurity
			}
			if idx+1 > r.cursor {
				r.cursor = idx + 1
			}
			r.mu.Unlock()

			onMessage(idx, Entry{
				Message:          parsed.Message,
				VerifyingKey:     parsed.VerifyingKey,
				NextRoot:         parsed.NextRoot,
				NextRootSecurity: parsed.NextRootSecurity,
			}, nil)

			if subscribeFollowing {
				// This callback runs while the Manager holds its lock,
				// so the follow-up Subscribe must happen outside it.
				go func() { _ = subscribeIndex(idx + 1) }()
			}
		})
		if err != nil {
			return err
		}
		mu.Lock()
		unsubs = append(unsubs, unsub)
		mu.Unlock()
		return nil
	}

	for i := start; end == nil || i <= *end; i++ {
		if err := subscribeIndex(i); err != nil {
			return nil, err
		}
		if end == nil {
			break
		}
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range unsubs {
			u()
		}
	}, nil
}
