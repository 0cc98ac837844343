// Package codec implements the on-ledger message record: address
// derivation, per-message key derivation, the fixed header/body
// layout, stream encryption of the payload, and the inverse parse.
// The codec is stateless — every function takes the channel
// parameters it needs and returns a value, matching spec.md §4.6's
// "the codec is stateless" and grounded on the
// pad-header-then-split-into-fixed-width-fragments idiom in
// bundle.Bundle.Add/Finalize (peternosal-giota's bundle package),
// carried over from value-transfer bundles to RAAM's fixed-width
// message fragments.
package codec

import (
	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/curl"
	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/streamcipher"
	"github.com/iotaledger/raam.go/trinary"
)

// FragTrytes is the fixed width of one ledger record's message field.
const FragTrytes = 2187

// Header field widths, in trytes.
const (
	// HeaderIndexTrytes is also the width package raam uses to encode
	// the index field of the pre-signature digest, so the two
	// encodings stay consistent.
	HeaderIndexTrytes     = 6
	headerIndicatorTrytes = 1
	headerHeightTrytes    = 1
	headerLengthTrytes    = 3
	HeaderTrytes          = HeaderIndexTrytes + headerIndicatorTrytes + headerHeightTrytes + headerLengthTrytes // 11
)

// GramTrytes is the tryte width of one security "gram" (81 trytes =
// 243 trits), the unit verifying keys, auth path hashes, and next
// roots are measured in.
const GramTrytes = curl.HashSize / trinary.TritsPerTryte

// Header is the (decrypted) framing header prefixed to every message
// payload.
type Header struct {
	Index            uint64
	Security         uint8
	NextRootSecurity uint8 // 0 = no branch
	Height           uint8
	MessageLength    uint32 // in trytes
}

// AssembleInput gathers everything Assemble needs to build one
// message's ledger records. Signature and VerifyingKey/AuthPath are
// supplied by the caller (package raam), which computes them via
// packages merkle and ots before calling Assemble — control flows
// OTS.sign -> Codec.assemble, per spec.md §4.6 step 3-4.
type AssembleInput struct {
	Index            uint64
	Message          trinary.Trytes
	VerifyingKey     trinary.Trits
	AuthPath         []trinary.Trits
	Signature        trinary.Trits
	Height           uint8
	Security         uint8
	ChannelRoot      trinary.Trits
	ChannelPassword  trinary.Trytes
	MessagePassword  trinary.Trytes
	Public           bool
	NextRoot         trinary.Trits
	NextRootSecurity uint8
	Tag              trinary.Trytes
}

// ParsedMessage is the result of a successful Parse.
type ParsedMessage struct {
	Header           Header
	Message          trinary.Trytes
	VerifyingKey     trinary.Trits
	AuthPath         []trinary.Trits
	NextRoot         trinary.Trits
	NextRootSecurity uint8
}

// defaultTag is used when AssembleInput.Tag is empty.
var defaultTag = trinary.Trytes(padNines("", 27))

func padNines(s string, width int) string {
	out := make([]byte, width)
	copy(out, s)
	for i := len(s); i < width; i++ {
		out[i] = '9'
	}
	return string(out)
}

// AddressOf derives a message's ledger address from the channel root,
// its index, and the optional channel password (spec.md §4.5):
//
//	subroot = R + index_trits   (trit-wise balanced addition)
//	addr    = H(subroot || pad243(P_c))   if P_c present
//	addr    = H(subroot)                  otherwise
func AddressOf(channelRoot trinary.Trits, index uint64, channelPassword trinary.Trytes) (trinary.Trytes, error) {
	idx := trinary.IntToTrits(int64(index), len(channelRoot))
	subroot := trinary.AddTrits(channelRoot, idx)

	var input trinary.Trits
	if len(channelPassword) > 0 {
		pwTrits, err := trinary.TrytesToTrits(channelPassword)
		if err != nil {
			return "", errors.Wrap(err, "codec: invalid channel password")
		}
		padded := trinary.PadTrits(pwTrits, curl.HashSize)
		input = append(append(trinary.Trits{}, subroot...), padded...)
	} else {
		input = subroot
	}

	addrTrits, err := curl.Sum(trinary.PadTrits(input, curl.HashSize), curl.HashSize)
	if err != nil {
		return "", err
	}
	return trinary.TritsToTrytes(addrTrits)
}

// DeriveKey computes a message's stream-cipher key per spec.md §4.5:
//
//	key_basis = P_m if messagePassword provided
//	          = P_c if channelPassword provided and no P_m
//	          = R   otherwise
//	key       = key_basis + index_trits
func DeriveKey(channelRoot trinary.Trits, channelPassword, messagePassword trinary.Trytes, index uint64) (trinary.Trits, error) {
	var basis trinary.Trits
	var err error
	switch {
	case len(messagePassword) > 0:
		basis, err = trinary.TrytesToTrits(messagePassword)
	case len(channelPassword) > 0:
		basis, err = trinary.TrytesToTrits(channelPassword)
	default:
		basis = channelRoot
	}
	if err != nil {
		return nil, errors.Wrap(err, "codec: invalid password")
	}
	idx := trinary.IntToTrits(int64(index), len(basis))
	return trinary.AddTrits(basis, idx), nil
}

// PublicMessagePassword computes the message password that makes a
// message decodable by anyone who knows only its ledger address:
// messagePassword = addr - index_trits (trit-wise balanced
// subtraction, not modular — spec.md §9). Assembling with this
// password as MessagePassword and Public=true produces a record whose
// DeriveKey(..., messagePassword, index) reconstructs to addr's own
// trits, since subtraction and addition here are exact group inverses.
func PublicMessagePassword(addr trinary.Trytes, index uint64) (trinary.Trytes, error) {
	addrTrits, err := trinary.TrytesToTrits(addr)
	if err != nil {
		return "", errors.Wrap(err, "codec: invalid address")
	}
	idx := trinary.IntToTrits(int64(index), len(addrTrits))
	pm := trinary.SubTrits(addrTrits, idx)
	return trinary.TritsToTrytes(pm)
}

// PublicKey returns the stream-cipher key for a public-mode message
// given only its ledger address: algebraically
// (addr - index_trits) + index_trits == addr, so a reader that knows
// just the address can skip the round trip through
// PublicMessagePassword/DeriveKey and use the address's own trits
// directly.
func PublicKey(addr trinary.Trytes) (trinary.Trits, error) {
	return trinary.TrytesToTrits(addr)
}

func buildHeader(index uint64, security, nextRootSecurity, height uint8, messageLen int) (trinary.Trytes, error) {
	indexT, err := trinary.IntToTrytes(index, HeaderIndexTrytes)
	if err != nil {
		return "", errors.Wrap(err, "codec: index overflows header field")
	}
	indicator := uint64(security-1) + 4*uint64(nextRootSecurity)
	indicatorT, err := trinary.IntToTrytes(indicator, headerIndicatorTrytes)
	if err != nil {
		return "", err
	}
	heightT, err := trinary.IntToTrytes(uint64(height), headerHeightTrytes)
	if err != nil {
		return "", err
	}
	lenT, err := trinary.IntToTrytes(uint64(messageLen), headerLengthTrytes)
	if err != nil {
		return "", errors.Wrap(err, "codec: message length overflows header field")
	}
	return indexT + indicatorT + heightT + lenT, nil
}

func parseHeader(h trinary.Trytes) (Header, error) {
	if len(h) < HeaderTrytes {
		return Header{}, errs.ErrShortMessage
	}
	index, err := trinary.TrytesToInt(h[0:HeaderIndexTrytes])
	if err != nil {
		return Header{}, err
	}
	off := HeaderIndexTrytes
	indicator, err := trinary.TrytesToInt(h[off : off+headerIndicatorTrytes])
	if err != nil {
		return Header{}, err
	}
	off += headerIndicatorTrytes
	height, err := trinary.TrytesToInt(h[off : off+headerHeightTrytes])
	if err != nil {
		return Header{}, err
	}
	off += headerHeightTrytes
	msgLen, err := trinary.TrytesToInt(h[off : off+headerLengthTrytes])
	if err != nil {
		return Header{}, err
	}

	security := uint8(indicator%4) + 1
	nextRootSecurity := uint8(indicator / 4)
	return Header{
		Index:            index,
		Security:         security,
		NextRootSecurity: nextRootSecurity,
		Height:           uint8(height),
		MessageLength:    uint32(msgLen),
	}, nil
}

// Assemble builds the complete, ordered set of ledger records for one
// message: header+body are packed, padded to a multiple of
// FragTrytes, and stream-encrypted; the signature is appended as
// trailing clear trytes and split into Security additional records.
func Assemble(in AssembleInput) (ledger.Bundle, error) {
	if in.Public && len(in.ChannelPassword) > 0 {
		return nil, errs.ErrPublicNotAllowed
	}
	if in.Height < 1 || in.Height > 26 {
		return nil, errs.ErrInvalidHeight
	}
	if in.Security < 1 || in.Security > 4 {
		return nil, errs.ErrInvalidSecurityLevel
	}
	if in.Index >= uint64(1)<<in.Height {
		return nil, errs.ErrInvalidIndex
	}
	if len(in.AuthPath) != int(in.Height) {
		return nil, errors.New("codec: auth path length must equal channel height")
	}

	addr, err := AddressOf(in.ChannelRoot, in.Index, in.ChannelPassword)
	if err != nil {
		return nil, err
	}

	msgPassword := in.MessagePassword
	if in.Public {
		msgPassword, err = PublicMessagePassword(addr, in.Index)
		if err != nil {
			return nil, err
		}
	}
	key, err := DeriveKey(in.ChannelRoot, in.ChannelPassword, msgPassword, in.Index)
	if err != nil {
		return nil, err
	}

	verifyingKeyTrytes, err := trinary.TritsToTrytes(in.VerifyingKey)
	if err != nil {
		return nil, errors.Wrap(err, "codec: invalid verifying key")
	}
	var body trinary.Trytes
	body += in.Message
	body += verifyingKeyTrytes
	for i, p := range in.AuthPath {
		pt, err := trinary.TritsToTrytes(p)
		if err != nil {
			return nil, errors.Wrapf(err, "codec: invalid auth path element %d", i)
		}
		body += pt
	}
	var nextRootTrytes trinary.Trytes
	if in.NextRootSecurity > 0 {
		nextRootTrytes, err = trinary.TritsToTrytes(in.NextRoot)
		if err != nil {
			return nil, errors.Wrap(err, "codec: invalid next root")
		}
		body += nextRootTrytes
	}

	header, err := buildHeader(in.Index, in.Security, in.NextRootSecurity, in.Height, len(in.Message))
	if err != nil {
		return nil, err
	}

	payload := header + body
	padded := trinary.PadTrytes(payload, FragTrytes)

	cipher, err := streamcipher.New(key, nil)
	if err != nil {
		return nil, err
	}
	paddedTrits, err := trinary.TrytesToTrits(padded)
	if err != nil {
		return nil, errors.Wrap(err, "codec: invalid payload trytes")
	}
	cipherTrits, err := cipher.Encrypt(paddedTrits)
	if err != nil {
		return nil, err
	}
	cipherTrytes, err := trinary.TritsToTrytes(cipherTrits)
	if err != nil {
		return nil, err
	}

	sigTrytes, err := trinary.TritsToTrytes(in.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "codec: invalid signature")
	}
	wantSigTrytes := int(in.Security) * FragTrytes
	if len(sigTrytes) != wantSigTrytes {
		return nil, errors.Errorf("codec: signature must be %d trytes for security %d, got %d", wantSigTrytes, in.Security, len(sigTrytes))
	}

	tag := in.Tag
	if len(tag) == 0 {
		tag = defaultTag
	}

	payloadRecords := len(cipherTrytes) / FragTrytes
	total := payloadRecords + int(in.Security)
	bundle := make(ledger.Bundle, 0, total)
	for i := 0; i < payloadRecords; i++ {
		bundle = append(bundle, ledger.Record{
			Address:      addr,
			Value:        0,
			Message:      cipherTrytes[i*FragTrytes : (i+1)*FragTrytes],
			Tag:          tag,
			CurrentIndex: i,
			LastIndex:    total - 1,
		})
	}
	for i := 0; i < int(in.Security); i++ {
		bundle = append(bundle, ledger.Record{
			Address:      addr,
			Value:        0,
			Message:      sigTrytes[i*FragTrytes : (i+1)*FragTrytes],
			Tag:          tag,
			CurrentIndex: payloadRecords + i,
			LastIndex:    total - 1,
		})
	}
	return bundle, nil
}

// Parse decrypts and validates a bundle's records (sorted by
// CurrentIndex) using key, returning the decoded message and its
// embedded authentication material. Errors returned here are
// "per-bundle" in the sense of spec.md §7: a caller trying several
// bundles at one address should treat any error as "skip this bundle,
// try the next," never as fatal to the whole fetch.
func Parse(bundle ledger.Bundle, key trinary.Trits) (*ParsedMessage, error) {
	if len(bundle) < 2 {
		return nil, errs.ErrShortMessage
	}

	cipher, err := streamcipher.New(key, nil)
	if err != nil {
		return nil, err
	}

	// Decrypt chunk by chunk across the concatenated payload records
	// until we've recovered the header and can compute the full
	// payload length.
	var plain trinary.Trytes
	recordIdx := 0
	decryptNextRecord := func() error {
		if recordIdx >= len(bundle) {
			return errs.ErrShortMessage
		}
		r := bundle[recordIdx]
		recordIdx++
		ct, err := trinary.TrytesToTrits(r.Message)
		if err != nil {
			return errors.Wrap(err, "codec: invalid record message trytes")
		}
		pt, err := cipher.Decrypt(ct)
		if err != nil {
			return err
		}
		pts, err := trinary.TritsToTrytes(pt)
		if err != nil {
			return err
		}
		plain += pts
		return nil
	}

	for len(plain) < HeaderTrytes {
		if err := decryptNextRecord(); err != nil {
			return nil, err
		}
	}
	header, err := parseHeader(plain[:HeaderTrytes])
	if err != nil {
		return nil, err
	}
	if header.Height < 1 || header.Height > 26 {
		return nil, errs.ErrWrongHeight
	}
	if header.Security < 1 || header.Security > 4 {
		return nil, errs.ErrWrongSecurity
	}

	bodyLen := int(header.MessageLength) + (int(header.Height)+1)*int(header.Security)*GramTrytes
	if header.NextRootSecurity > 0 {
		bodyLen += int(header.NextRootSecurity) * GramTrytes
	}
	totalPayloadLen := HeaderTrytes + bodyLen
	payloadRecords := (totalPayloadLen + FragTrytes - 1) / FragTrytes
	if payloadRecords < 1 {
		payloadRecords = 1
	}

	if len(bundle) < payloadRecords+int(header.Security) {
		return nil, errs.ErrShortMessage
	}

	for len(plain) < totalPayloadLen {
		if err := decryptNextRecord(); err != nil {
			return nil, err
		}
	}

	body := plain[HeaderTrytes:totalPayloadLen]
	msgLen := int(header.MessageLength)
	if len(body) < msgLen {
		return nil, errs.ErrShortMessage
	}
	message := body[:msgLen]
	rest := body[msgLen:]

	vkLen := int(header.Security) * GramTrytes
	if len(rest) < vkLen {
		return nil, errs.ErrShortMessage
	}
	verifyingKey, err := trinary.TrytesToTrits(rest[:vkLen])
	if err != nil {
		return nil, err
	}
	rest = rest[vkLen:]

	authPathLen := int(header.Security) * GramTrytes
	authPath := make([]trinary.Trits, header.Height)
	for i := 0; i < int(header.Height); i++ {
		if len(rest) < authPathLen {
			return nil, errs.ErrShortMessage
		}
		p, err := trinary.TrytesToTrits(rest[:authPathLen])
		if err != nil {
			return nil, err
		}
		authPath[i] = p
		rest = rest[authPathLen:]
	}

	var nextRoot trinary.Trits
	if header.NextRootSecurity > 0 {
		nrLen := int(header.NextRootSecurity) * GramTrytes
		if len(rest) < nrLen {
			return nil, errs.ErrShortMessage
		}
		nextRoot, err = trinary.TrytesToTrits(rest[:nrLen])
		if err != nil {
			return nil, err
		}
	}

	// Signature: trailing clear trytes of length Security*FragTrytes,
	// occupying the records after the payload. The last such record
	// may be only partially used if the declared length is shorter
	// than its full width (spec.md §9 ambiguity b); here Security
	// fully determines the length so every signature record is used
	// in full, but we still trim to the declared width defensively.
	sigRecords := bundle[payloadRecords : payloadRecords+int(header.Security)]
	var sigTrytes trinary.Trytes
	for _, r := range sigRecords {
		sigTrytes += r.Message
	}
	wantSigLen := int(header.Security) * FragTrytes
	if len(sigTrytes) < wantSigLen {
		return nil, errs.ErrShortMessage
	}
	sigTrytes = sigTrytes[:wantSigLen]

	return &ParsedMessage{
		Header:           header,
		Message:          message,
		VerifyingKey:     verifyingKey,
		AuthPath:         authPath,
		NextRoot:         nextRoot,
		NextRootSecurity: header.NextRootSecurity,
	}, nil
}

// Signature converts a ParsedMessage's originating bundle's trailing
// signature records back into trits for verification by package ots.
// Exposed separately from ParsedMessage because Parse's caller
// (package raamreader) needs the raw signature trits to call
// ots.Verify, while ParsedMessage only carries the fields that get
// cached.
func Signature(bundle ledger.Bundle, payloadRecords int, security uint8) (trinary.Trits, error) {
	if len(bundle) < payloadRecords+int(security) {
		return nil, errs.ErrShortMessage
	}
	var sigTrytes trinary.Trytes
	for _, r := range bundle[payloadRecords : payloadRecords+int(security)] {
		sigTrytes += r.Message
	}
	want := int(security) * FragTrytes
	if len(sigTrytes) < want {
		return nil, errs.ErrShortMessage
	}
	return trinary.TrytesToTrits(sigTrytes[:want])
}

// PayloadRecordCount returns how many leading records of a bundle
// parsed with the given header carry encrypted payload (as opposed to
// clear-text signature).
func PayloadRecordCount(h Header) int {
	bodyLen := int(h.MessageLength) + (int(h.Height)+1)*int(h.Security)*GramTrytes
	if h.NextRootSecurity > 0 {
		bodyLen += int(h.NextRootSecurity) * GramTrytes
	}
	total := HeaderTrytes + bodyLen
	records := (total + FragTrytes - 1) / FragTrytes
	if records < 1 {
		records = 1
	}
	return records
}
