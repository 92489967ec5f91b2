// Package chainerr carries the three error kinds that cross a processor
// boundary: peer-attributable bad data, internal chain-state
// inconsistencies, and store/IO failures. See spec.md §7.
package chainerr

import (
	"errors"
	"fmt"
)

// BanReason explains why a peer should be banned for sending BadData.
type BanReason string

const (
	BanFraudulentBlock   BanReason = "fraudulent_block"
	BanBadPoW            BanReason = "bad_pow"
	BanBadBlockHeader    BanReason = "bad_block_header"
	BanBadBlock          BanReason = "bad_block"
	BanBadKernel         BanReason = "bad_kernel"
	BanBadRangeProof     BanReason = "bad_range_proof"
	BanBadCutThrough     BanReason = "bad_cut_through"
	BanBadCoinbase       BanReason = "bad_coinbase"
	BanAbusiveProtocol   BanReason = "abusive_protocol"
)

// BadDataError is a peer-attributable protocol or consensus violation.
// The caller bans the source and drops the payload; no state persists.
type BadDataError struct {
	Reason BanReason
	Msg    string
}

func (e *BadDataError) Error() string {
	return fmt.Sprintf("bad data (%s): %s", e.Reason, e.Msg)
}

// NewBadData constructs a BadDataError.
func NewBadData(reason BanReason, msg string) error {
	return &BadDataError{Reason: reason, Msg: msg}
}

// InternalError is an invariant violation against persisted state: a
// missing expected header, a failed reorg precondition. The batch is
// rolled back; the caller may retry or trigger resync.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("internal: %s", e.Msg)
}

func (e *InternalError) Unwrap() error { return e.Err }

// NewInternal constructs an InternalError.
func NewInternal(msg string, err error) error {
	return &InternalError{Msg: msg, Err: err}
}

// StoreError is an I/O failure at the file or DB layer.
type StoreError struct {
	Msg string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("store: %s", e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStore constructs a StoreError.
func NewStore(msg string, err error) error {
	return &StoreError{Msg: msg, Err: err}
}

// AsBadData reports whether err is (or wraps) a BadDataError.
func AsBadData(err error) (*BadDataError, bool) {
	var bd *BadDataError
	if errors.As(err, &bd) {
		return bd, true
	}
	return nil, false
}
