package miniscript

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// maxScriptSize is the maximum allowed length in bytes of any raw
	// script accepted by consensus rules.
	maxScriptSize = 10000

	// maxStackSize is the maximum combined height of the stack and alt
	// stack during script execution.
	maxStackSize = 1000

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = txscript.MaxOpsPerScript

	// multisigMaxKeys is the maximum number of keys in a CHECKMULTISIG.
	// Scripts cannot encode more, so exceeding it is a parse error rather
	// than a validation error.
	multisigMaxKeys = txscript.MaxPubKeysPerMultiSig

	// maxScriptElementSize is the maximum number of bytes pushable to the
	// stack, which also caps the size of a P2SH redeem script.
	maxScriptElementSize = txscript.MaxScriptElementSize

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxStandardP2WSHStackItems is the maximum number of witness stack
	// items for a standard P2WSH spend.
	maxStandardP2WSHStackItems = 100

	// maxScriptSigSize is the maximum size in bytes of a standard
	// scriptSig.
	maxScriptSigSize = 1650

	// maxTapscriptSize bounds a tapscript leaf. Tapscript has no explicit
	// script size limit, so the block weight limit is the only ceiling.
	maxTapscriptSize = blockchain.MaxBlockWeight
)

const (
	// pubKeyLen is the length of a compressed public key.
	pubKeyLen = 33

	// pubKeyDataPushLen is the length of a compressed public key data
	// push, 1 byte for the push opcode plus 33 key bytes.
	pubKeyDataPushLen = 34

	// uncompressedPubKeyLen is the length of an uncompressed public key.
	uncompressedPubKeyLen = 65

	// xOnlyPubKeyLen is the length of an x-only public key as used by
	// tapscript.
	xOnlyPubKeyLen = 32

	// maxEcdsaSigSize is an upper bound for the size of an ECDSA
	// signature data push: 72 bytes of DER signature plus sighash flag
	// plus the push length prefix.
	maxEcdsaSigSize = 73

	// maxSchnorrSigSize is an upper bound for the size of a Schnorr
	// signature data push: the 64 byte signature plus an optional sighash
	// flag plus the push length prefix.
	maxSchnorrSigSize = 66
)
