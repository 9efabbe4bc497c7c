package miniscript

import (
	"fmt"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ParseErrorCode identifies a kind of script parse error.
type ParseErrorCode int

// These constants are used to identify a specific ParseError.
const (
	// ErrMalformedScript indicates the raw script could not be tokenized,
	// for example because a data push runs past the end of the script.
	ErrMalformedScript ParseErrorCode = iota

	// ErrInvalidOpcode indicates the script contains an opcode that has no
	// meaning in any Miniscript fragment.
	ErrInvalidOpcode

	// ErrUnexpectedToken indicates a token that cannot start or continue
	// any fragment at the current parse position.
	ErrUnexpectedToken

	// ErrUnexpectedEnd indicates the token stream ran out in the middle of
	// a fragment.
	ErrUnexpectedEnd

	// ErrTrailingTokens indicates tokens remained after a complete
	// expression was reduced.
	ErrTrailingTokens

	// ErrMultisigTooManyKeys indicates a CHECKMULTISIG key count above the
	// maximum the opcode can encode.  This is a parse error rather than a
	// context error because no script can represent the alternative.
	ErrMultisigTooManyKeys

	// ErrInvalidPubKey indicates a data push in key position that is not a
	// valid public key for the decoding context.
	ErrInvalidPubKey

	// ErrInvalidNum indicates a data push in number position that is not a
	// minimally encoded script number in the supported range.
	ErrInvalidNum

	// numParseErrorCodes is the maximum error code number used in tests.
	numParseErrorCodes
)

// Map of ParseErrorCode values back to their constant names for pretty
// printing.
var parseErrorCodeStrings = map[ParseErrorCode]string{
	ErrMalformedScript:     "ErrMalformedScript",
	ErrInvalidOpcode:       "ErrInvalidOpcode",
	ErrUnexpectedToken:     "ErrUnexpectedToken",
	ErrUnexpectedEnd:       "ErrUnexpectedEnd",
	ErrTrailingTokens:      "ErrTrailingTokens",
	ErrMultisigTooManyKeys: "ErrMultisigTooManyKeys",
	ErrInvalidPubKey:       "ErrInvalidPubKey",
	ErrInvalidNum:          "ErrInvalidNum",
}

// String returns the ParseErrorCode as a human-readable name.
func (e ParseErrorCode) String() string {
	if s := parseErrorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ParseErrorCode (%d)", int(e))
}

// ParseError identifies a grammar level failure: a malformed or truncated
// token sequence.  No partial AST is ever returned alongside one.  For errors
// raised while decoding a raw script, Offset is the position within the script
// of the first byte of the offending token, or of the last token consumed when
// the stream ran out.  Errors raised while parsing notation leave it zero.
type ParseError struct {
	ErrorCode   ParseErrorCode
	Offset      int
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e ParseError) Error() string {
	return e.Description
}

// parseError creates a ParseError given a set of arguments.
func parseError(c ParseErrorCode, format string, args ...interface{}) ParseError {
	return ParseError{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// parseErrorAt creates a ParseError carrying the script offset of the token
// that triggered it.
func parseErrorAt(offset int, c ParseErrorCode, format string,
	args ...interface{}) ParseError {

	return ParseError{
		ErrorCode:   c,
		Offset:      offset,
		Description: fmt.Sprintf(format, args...),
	}
}

// TypeError identifies a fragment whose children's correctness types are
// incompatible with the fragment's requirements.  A type error on any node
// fails the whole parse.
type TypeError struct {
	Fragment    string
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e TypeError) Error() string {
	return e.Description
}

// typeError creates a TypeError for the given fragment identifier.
func typeError(fragment string, format string, args ...interface{}) TypeError {
	return TypeError{
		Fragment:    fragment,
		Description: fmt.Sprintf(format, args...),
	}
}

// ContextErrorCode identifies a kind of script context validation error.
type ContextErrorCode int

// These constants are used to identify a specific ContextError.
const (
	// ErrMalleablePkH indicates a pk_h fragment under a context where
	// uncompressed key ambiguity makes its satisfaction cost unknowable.
	ErrMalleablePkH ContextErrorCode = iota

	// ErrMalleableOrI indicates an or_i fragment under a context where
	// non-minimal IF arguments are not rejected by consensus.
	ErrMalleableOrI

	// ErrMalleableDupIf indicates a d: wrapper under a context where
	// non-minimal IF arguments are not rejected by consensus.
	ErrMalleableDupIf

	// ErrCompressedOnly indicates an uncompressed public key under a
	// context that permits only compressed keys.
	ErrCompressedOnly

	// ErrXOnlyKeysNotAllowed indicates an x-only public key outside the
	// tapscript context.
	ErrXOnlyKeysNotAllowed

	// ErrUncompressedKeysNotAllowed indicates an uncompressed public key
	// under the tapscript context.
	ErrUncompressedKeysNotAllowed

	// ErrMaxWitnessItemsExceeded indicates that at least one satisfaction
	// path requires more witness stack items than the context permits.
	ErrMaxWitnessItemsExceeded

	// ErrMaxOpCountExceeded indicates that at least one satisfaction path
	// executes more non-push opcodes than the per-script maximum.
	ErrMaxOpCountExceeded

	// ErrMaxWitnessScriptSizeExceeded indicates the script would be larger
	// than the witness script ceiling for the context.
	ErrMaxWitnessScriptSizeExceeded

	// ErrMaxRedeemScriptSizeExceeded indicates the script would be larger
	// than the maximum P2SH redeem script size.
	ErrMaxRedeemScriptSizeExceeded

	// ErrMaxScriptSigSizeExceeded indicates that at least one satisfaction
	// would produce a scriptSig above the standardness ceiling.
	ErrMaxScriptSigSizeExceeded

	// ErrImpossibleSatisfaction indicates the fragment cannot be satisfied
	// under the context.
	ErrImpossibleSatisfaction

	// ErrCovElementSizeExceeded indicates a covenant prefix or suffix push
	// above the maximum stack element size.
	ErrCovElementSizeExceeded

	// ErrTaprootMultiDisabled indicates a CHECKMULTISIG multi fragment
	// under the tapscript context, where the opcode is removed.
	ErrTaprootMultiDisabled

	// ErrStackSizeLimitExceeded indicates that the execution stack can
	// outgrow the interpreter limit on at least one satisfaction path.
	ErrStackSizeLimitExceeded

	// ErrCheckMultiSigLimitExceeded indicates more than the maximum number
	// of keys in a multi fragment.
	ErrCheckMultiSigLimitExceeded

	// ErrMultiANotAllowed indicates a CHECKSIGADD multi_a fragment outside
	// the tapscript context.
	ErrMultiANotAllowed

	// ErrXOnlyKeysRequired indicates a compressed or uncompressed public
	// key under the tapscript context, which admits only x-only keys.
	ErrXOnlyKeysRequired

	// ErrCovenantNotAllowed indicates a transaction introspection fragment
	// under a context without covenant support.
	ErrCovenantNotAllowed

	// ErrNonStandardBareScript indicates a top-level fragment shape outside
	// the short allow-list for bare script pubkeys.
	ErrNonStandardBareScript

	// ErrExtension wraps an error reported by a downstream extension.
	ErrExtension

	// numContextErrorCodes is the maximum error code number used in tests.
	numContextErrorCodes
)

// Map of ContextErrorCode values back to their constant names for pretty
// printing.
var contextErrorCodeStrings = map[ContextErrorCode]string{
	ErrMalleablePkH:                 "ErrMalleablePkH",
	ErrMalleableOrI:                 "ErrMalleableOrI",
	ErrMalleableDupIf:               "ErrMalleableDupIf",
	ErrCompressedOnly:               "ErrCompressedOnly",
	ErrXOnlyKeysNotAllowed:          "ErrXOnlyKeysNotAllowed",
	ErrUncompressedKeysNotAllowed:   "ErrUncompressedKeysNotAllowed",
	ErrMaxWitnessItemsExceeded:      "ErrMaxWitnessItemsExceeded",
	ErrMaxOpCountExceeded:           "ErrMaxOpCountExceeded",
	ErrMaxWitnessScriptSizeExceeded: "ErrMaxWitnessScriptSizeExceeded",
	ErrMaxRedeemScriptSizeExceeded:  "ErrMaxRedeemScriptSizeExceeded",
	ErrMaxScriptSigSizeExceeded:     "ErrMaxScriptSigSizeExceeded",
	ErrImpossibleSatisfaction:       "ErrImpossibleSatisfaction",
	ErrCovElementSizeExceeded:       "ErrCovElementSizeExceeded",
	ErrTaprootMultiDisabled:         "ErrTaprootMultiDisabled",
	ErrStackSizeLimitExceeded:       "ErrStackSizeLimitExceeded",
	ErrCheckMultiSigLimitExceeded:   "ErrCheckMultiSigLimitExceeded",
	ErrMultiANotAllowed:             "ErrMultiANotAllowed",
	ErrXOnlyKeysRequired:            "ErrXOnlyKeysRequired",
	ErrCovenantNotAllowed:           "ErrCovenantNotAllowed",
	ErrNonStandardBareScript:        "ErrNonStandardBareScript",
	ErrExtension:                    "ErrExtension",
}

// String returns the ContextErrorCode as a human-readable name.
func (e ContextErrorCode) String() string {
	if s := contextErrorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ContextErrorCode (%d)", int(e))
}

// ContextError identifies a fragment that is syntactically and type correct
// but illegal or unsafe under the requested execution context.  It is never
// coerced into a different context; callers that want non-standard results
// re-validate with policy checks disabled instead.
type ContextError struct {
	ErrorCode   ContextErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e ContextError) Error() string {
	return e.Description
}

// contextError creates a ContextError given a set of arguments.
func contextError(c ContextErrorCode, format string, args ...interface{}) ContextError {
	return ContextError{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// IsParseErrorCode returns whether or not the provided error is a ParseError
// with the given error code.
func IsParseErrorCode(err error, c ParseErrorCode) bool {
	perr, ok := err.(ParseError)
	return ok && perr.ErrorCode == c
}

// IsContextErrorCode returns whether or not the provided error is a
// ContextError with the given error code.
func IsContextErrorCode(err error, c ContextErrorCode) bool {
	cerr, ok := err.(ContextError)
	return ok && cerr.ErrorCode == c
}
