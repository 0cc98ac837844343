// Package errs collects the stable error *kinds* named in spec.md §6.
// Stable string text is not required by the spec, only stable kinds —
// callers are expected to compare with errors.Is, and call sites wrap
// these with github.com/pkg/errors.Wrap for context, mirroring the
// teacher's own ErrSeedTrytesLength/ErrInvalidAddressLength sentinel
// style.
package errs

import "errors"

var (
	ErrInvalidMessage       = errors.New("raam: invalid message")
	ErrInvalidIndex         = errors.New("raam: invalid index")
	ErrInvalidHeight        = errors.New("raam: invalid height")
	ErrInvalidSecurityLevel = errors.New("raam: invalid security level")
	ErrInvalidLength        = errors.New("raam: invalid length")
	ErrIndexUsed            = errors.New("raam: index already used")
	ErrIncompleteTree       = errors.New("raam: incomplete tree")
	ErrPublicNotAllowed     = errors.New("raam: public mode not allowed when a channel password is set")
	ErrShortMessage         = errors.New("raam: bundle has fewer records than its header declares")
	ErrWrongIndex           = errors.New("raam: decoded index does not match the requested index")
	ErrWrongHeight          = errors.New("raam: decoded height does not match the channel's height")
	ErrWrongSecurity        = errors.New("raam: decoded security level does not match the channel's security")
	ErrVerificationFailed   = errors.New("raam: signature verification failed")
	ErrAuthenticationFailed = errors.New("raam: merkle authentication path verification failed")
	ErrURLNotSet            = errors.New("raam: push-stream server URL not set")
)
