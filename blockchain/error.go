package blockchain

import (
	"fmt"

	"github.com/bitcoincandy/candyd/errors"
)

// ResultKind classifies a validation outcome for the caller: whether to ban
// the source, orphan the data, or shut the node down.
type ResultKind int

const (
	// KindInvalid is a consensus violation; the source may be banned
	// according to the DoS weight.
	KindInvalid ResultKind = iota

	// KindNonStandard is a policy rejection; never ban.
	KindNonStandard

	// KindDuplicate means the data is already known; not an error upstream.
	KindDuplicate

	// KindCorruptionPossible marks failures that may stem from local disk
	// corruption; neither ban nor mark permanently failed.
	KindCorruptionPossible

	// KindMissingInputs applies to transactions whose inputs are unknown;
	// the caller may orphan-cache them.
	KindMissingInputs

	// KindAgainstFinalized rejects an attempted reorg beneath the finalized
	// block.
	KindAgainstFinalized

	// KindSystemError is a local failure (disk full, database error); it
	// aborts the node and never bans.
	KindSystemError
)

// Standard reject codes, kept byte-compatible with upstream so peers see
// familiar values.
const (
	RejectInvalid          uint8 = 0x10
	RejectObsolete         uint8 = 0x11
	RejectDuplicate        uint8 = 0x12
	RejectNonstandard      uint8 = 0x40
	RejectInsufficientFee  uint8 = 0x42
	RejectCheckpoint       uint8 = 0x43
	RejectAgainstFinalized uint8 = 0x44
)

// RuleError is the structured result of a failed validation. Reason is a
// stable consensus-level identifier; Debug carries free-form detail.
type RuleError struct {
	Kind       ResultKind
	DoS        int
	RejectCode uint8
	Reason     string
	Debug      string
}

func (e *RuleError) Error() string {
	if e.Debug == "" {
		return e.Reason
	}

	return fmt.Sprintf("%s (%s)", e.Reason, e.Debug)
}

// Is lets rule errors match the coded error taxonomy.
func (e *RuleError) Is(target error) bool {
	te, ok := target.(*RuleError)
	if ok {
		return te.Reason == e.Reason
	}

	coded, ok := target.(*errors.Error)
	if !ok {
		return false
	}

	switch coded.Code() {
	case errors.ERR_BLOCK_INVALID, errors.ERR_TX_INVALID:
		return e.Kind == KindInvalid
	default:
		return false
	}
}

// ruleError builds a consensus rejection with a DoS weight.
func ruleError(dos int, rejectCode uint8, reason, debugFormat string, args ...interface{}) *RuleError {
	return &RuleError{
		Kind:       KindInvalid,
		DoS:        dos,
		RejectCode: rejectCode,
		Reason:     reason,
		Debug:      fmt.Sprintf(debugFormat, args...),
	}
}

func nonStandardError(reason, debugFormat string, args ...interface{}) *RuleError {
	return &RuleError{
		Kind:       KindNonStandard,
		RejectCode: RejectNonstandard,
		Reason:     reason,
		Debug:      fmt.Sprintf(debugFormat, args...),
	}
}

func missingInputsError(debugFormat string, args ...interface{}) *RuleError {
	return &RuleError{
		Kind:   KindMissingInputs,
		Reason: "missing-inputs",
		Debug:  fmt.Sprintf(debugFormat, args...),
	}
}

func againstFinalizedError(dos int, debugFormat string, args ...interface{}) *RuleError {
	return &RuleError{
		Kind:       KindAgainstFinalized,
		DoS:        dos,
		RejectCode: RejectAgainstFinalized,
		Reason:     "bad-fork-prior-finalized",
		Debug:      fmt.Sprintf(debugFormat, args...),
	}
}

func corruptionError(reason, debugFormat string, args ...interface{}) *RuleError {
	return &RuleError{
		Kind:       KindCorruptionPossible,
		RejectCode: RejectInvalid,
		Reason:     reason,
		Debug:      fmt.Sprintf(debugFormat, args...),
	}
}

// AsRuleError extracts a RuleError from an error chain, if present.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}

	return nil, false
}

// IsSystemError reports whether the error must abort the node rather than
// mark data invalid.
func IsSystemError(err error) bool {
	if re, ok := AsRuleError(err); ok {
		return re.Kind == KindSystemError
	}

	return errors.Is(err, errors.ErrSystem) || errors.Is(err, errors.ErrStorageError)
}
