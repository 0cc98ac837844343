// Package raam implements the Publisher (spec.md §4.6): it owns a
// channel's Merkle tree and publish cursor, and turns messages into
// signed, ledger-submitted records. Shape grounded on
// account.account in the teacher (account/account.go): a
// mutex-guarded struct wrapping a *Settings, a running flag gating
// every method, github.com/pkg/errors.Wrap at fallible call sites, and
// a Start/Shutdown lifecycle mirroring account.Start/account.Shutdown.
package raam

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iotaledger/raam.go/codec"
	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/ots"
	"github.com/iotaledger/raam.go/trinary"
)

// Settings configures a RAAM publisher, mirroring account.Settings's
// role as the single object threaded through the constructor.
type Settings struct {
	// Seed is the 243-trit channel seed every leaf key is derived
	// from. Callers own its lifetime; RAAM never persists it.
	Seed trinary.Trits
	// Height is the channel's Merkle tree height, h in [1,26].
	Height uint8
	// Security is the OTS security level, s in [1,4].
	Security uint8
	// ChannelPassword is the optional channel-wide password (P_c).
	ChannelPassword trinary.Trytes
	// Offset is the first leaf index this tree covers (non-zero for
	// a continuation tree grafted via a branch pointer).
	Offset uint64

	Ledger ledger.Client
	Depth  uint8 // ledger.DefaultDepth if zero
	MWM    uint8 // ledger.DefaultMWM if zero
	Tag    trinary.Trytes

	ProgressEvery time.Duration
	OnProgress    merkle.ProgressFunc

	Logger *logrus.Logger
}

func (s *Settings) depth() uint8 {
	if s.Depth == 0 {
		return ledger.DefaultDepth
	}
	return s.Depth
}

func (s *Settings) mwm() uint8 {
	if s.MWM == 0 {
		return ledger.DefaultMWM
	}
	return s.MWM
}

func (s *Settings) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// PublishOptions describes one message to publish.
type PublishOptions struct {
	// Index to publish at; nil means "the current cursor".
	Index *uint64
	Message trinary.Trytes

	MessagePassword trinary.Trytes
	Public          bool

	NextRoot         trinary.Trits
	NextRootSecurity uint8
}

// Prepared is a fully assembled, not-yet-submitted message: the output
// of CreateMessageTransfers and the input to PublishMessageTransfers.
// Splitting these phases lets a caller inspect or defer submission,
// per spec.md §4.6.
type Prepared struct {
	Index    uint64
	Message  trinary.Trytes
	NextRoot trinary.Trits
	Bundle   ledger.Bundle
}

// RAAM is a channel publisher.
type RAAM struct {
	mu      sync.RWMutex
	running bool

	setts *Settings

	tree        *merkle.Tree
	channelRoot trinary.Trytes

	cache    map[uint64]trinary.Trytes
	branches map[uint64]trinary.Trits
	cursor   uint64
}

// NewRAAM validates setts and returns an unstarted publisher. Tree
// construction (the expensive part) happens in Start, mirroring
// newAccount deferring address/store I/O to Account.Start.
func NewRAAM(setts *Settings) (*RAAM, error) {
	if setts == nil {
		return nil, errors.New("raam: settings must not be nil")
	}
	if setts.Ledger == nil {
		return nil, errors.New("raam: settings.Ledger must not be nil")
	}
	if setts.Height < merkle.MinHeight || setts.Height > merkle.MaxHeight {
		return nil, errs.ErrInvalidHeight
	}
	if !ots.ValidSecurity(setts.Security) {
		return nil, errs.ErrInvalidSecurityLevel
	}
	return &RAAM{
		setts:    setts,
		cache:    make(map[uint64]trinary.Trytes),
		branches: make(map[uint64]trinary.Trits),
	}, nil
}

// Start builds the channel's Merkle tree and marks the publisher
// running. Building the tree for height 26 is CPU-bound and can take
// a while; Settings.OnProgress/ProgressEvery report incremental
// progress the same way merkle.Build does, since RAAM simply forwards
// them.
func (r *RAAM) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("raam: already running")
	}

	tree, err := merkle.Build(r.setts.Seed, r.setts.Height, r.setts.Security, r.setts.Offset, &merkle.BuildOptions{
		ProgressEvery: r.setts.ProgressEvery,
		OnProgress:    r.setts.OnProgress,
	})
	if err != nil {
		return errors.Wrap(err, "raam: building channel tree")
	}
	root, err := trinary.TritsToTrytes(tree.Root())
	if err != nil {
		return errors.Wrap(err, "raam: encoding channel root")
	}

	r.tree = tree
	r.channelRoot = root
	r.cursor = r.setts.Offset
	r.running = true
	r.setts.logger().WithFields(logrus.Fields{
		"channelRoot": root,
		"height":      r.setts.Height,
		"security":    r.setts.Security,
	}).Info("raam: publisher started")
	return nil
}

// Shutdown marks the publisher stopped. Cache and tree state remain
// in memory but further publish calls are rejected.
func (r *RAAM) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return errors.New("raam: not running")
	}
	r.running = false
	r.setts.logger().Info("raam: publisher shut down")
	return nil
}

// ChannelRoot returns the channel's address-space root, in trytes.
func (r *RAAM) ChannelRoot() (trinary.Trytes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return "", errors.New("raam: not running")
	}
	return r.channelRoot, nil
}

// Cursor returns the next index that will be used when
// PublishOptions.Index is nil.
func (r *RAAM) Cursor() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return 0, errors.New("raam: not running")
	}
	return r.cursor, nil
}

// CreateMessageTransfers validates opts, signs the message, and
// assembles its ledger records, without submitting them (spec.md
// §4.6 step 1-3 plus assembly).
func (r *RAAM) CreateMessageTransfers(opts PublishOptions) (*Prepared, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, errors.New("raam: not running")
	}

	if err := trinary.ValidTrytes(opts.Message); err != nil {
		return nil, errors.Wrap(errs.ErrInvalidMessage, err.Error())
	}

	idx := r.cursor
	if opts.Index != nil {
		idx = *opts.Index
	}
	count := uint64(1) << r.setts.Height
	if idx < r.setts.Offset || idx >= r.setts.Offset+count {
		return nil, errs.ErrInvalidIndex
	}
	if _, used := r.cache[idx]; used {
		return nil, errs.ErrIndexUsed
	}
	if opts.Public && len(r.setts.ChannelPassword) > 0 {
		return nil, errs.ErrPublicNotAllowed
	}

	leaf, err := r.tree.Leaf(idx)
	if err != nil {
		return nil, errors.Wrap(err, "raam: loading leaf keypair")
	}
	authPath, err := r.tree.AuthPath(idx)
	if err != nil {
		return nil, errors.Wrap(err, "raam: computing auth path")
	}

	if (opts.NextRoot != nil) != (opts.NextRootSecurity > 0) {
		return nil, errors.Wrap(errs.ErrInvalidMessage, "raam: NextRoot and NextRootSecurity must be set together")
	}

	digestTrits, err := buildDigestTrits(opts.Message, idx, leaf.Public, opts.NextRoot, opts.NextRootSecurity, authPath)
	if err != nil {
		return nil, err
	}
	digest, err := ots.NormalizedDigest(digestTrits, r.setts.Security)
	if err != nil {
		return nil, errors.Wrap(err, "raam: normalizing digest")
	}
	sig, err := ots.Sign(leaf.Private, digest, r.setts.Security)
	if err != nil {
		return nil, errors.Wrap(err, "raam: signing digest")
	}

	bundle, err := codec.Assemble(codec.AssembleInput{
		Index:            idx,
		Message:          opts.Message,
		VerifyingKey:     leaf.Public,
		AuthPath:         authPath,
		Signature:        sig,
		Height:           r.setts.Height,
		Security:         r.setts.Security,
		ChannelRoot:      r.tree.Root(),
		ChannelPassword:  r.setts.ChannelPassword,
		MessagePassword:  opts.MessagePassword,
		Public:           opts.Public,
		NextRoot:         opts.NextRoot,
		NextRootSecurity: opts.NextRootSecurity,
		Tag:              r.setts.Tag,
	})
	if err != nil {
		return nil, errors.Wrap(err, "raam: assembling records")
	}

	return &Prepared{Index: idx, Message: opts.Message, NextRoot: opts.NextRoot, Bundle: bundle}, nil
}

// PublishMessageTransfers submits a previously prepared message and,
// on success, updates the cache, branch map, and cursor (spec.md
// §4.6 step 4).
func (r *RAAM) PublishMessageTransfers(ctx context.Context, p *Prepared) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return errors.New("raam: not running")
	}
	if _, used := r.cache[p.Index]; used {
		return errs.ErrIndexUsed
	}

	if _, err := r.setts.Ledger.Submit(ctx, p.Bundle, r.setts.depth(), r.setts.mwm()); err != nil {
		return errors.Wrap(err, "raam: submitting bundle")
	}

	r.cache[p.Index] = p.Message
	if p.NextRoot != nil {
		r.branches[p.Index] = p.NextRoot
	}
	if p.Index+1 > r.cursor {
		r.cursor = p.Index + 1
	}
	r.setts.logger().WithFields(logrus.Fields{"index": p.Index}).Debug("raam: message published")
	return nil
}

// Publish is the common case: create then immediately submit.
func (r *RAAM) Publish(ctx context.Context, opts PublishOptions) (*Prepared, error) {
	prepared, err := r.CreateMessageTransfers(opts)
	if err != nil {
		return nil, err
	}
	if err := r.PublishMessageTransfers(ctx, prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// buildDigestTrits renders the pre-signature digest input
// "m ‖ index ‖ verifyingKey ‖ nextRoot? ‖ authPath[…]" (spec.md §4.6
// step 3) as trits: the index is encoded the same radix-27 big-endian
// way as the record header's index field for consistency, since the
// spec leaves the index's digest encoding unspecified beyond
// "concatenated as trytes". nextRoot is folded in only when
// nextRootSecurity > 0, matching codec.Assemble's own gating so the
// digest a reader reconstructs from a parsed record always agrees with
// the one that was signed.
func buildDigestTrits(message trinary.Trytes, index uint64, verifyingKey trinary.Trits, nextRoot trinary.Trits, nextRootSecurity uint8, authPath []trinary.Trits) (trinary.Trits, error) {
	indexTrytes, err := trinary.IntToTrytes(index, codec.HeaderIndexTrytes)
	if err != nil {
		return nil, errors.Wrap(err, "raam: encoding digest index")
	}

	var out trinary.Trits
	msgTrits, err := trinary.TrytesToTrits(message)
	if err != nil {
		return nil, errors.Wrap(err, "raam: invalid message trytes")
	}
	out = append(out, msgTrits...)

	idxTrits, err := trinary.TrytesToTrits(indexTrytes)
	if err != nil {
		return nil, err
	}
	out = append(out, idxTrits...)
	out = append(out, verifyingKey...)
	if nextRootSecurity > 0 {
		out = append(out, nextRoot...)
	}
	for _, p := range authPath {
		out = append(out, p...)
	}
	return out, nil
}
