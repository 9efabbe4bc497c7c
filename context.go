package miniscript

// Context identifies the script execution environment a miniscript is
// validated against. The same fragment tree can be perfectly fine in one
// environment and unspendable or malleable in another, so every decoded or
// parsed tree carries the context it was checked under and is never silently
// reinterpreted.
//
// The set of contexts is closed. Each value selects a fixed row of
// capabilities below: accepted key formats, the signature algorithm, resource
// ceilings and fragment prohibitions.
type Context uint8

const (
	// ContextBare is a script used directly as a script pubkey, without
	// any script hash construction.
	ContextBare Context = iota

	// ContextLegacy is a pre-segwit P2SH redeem script. Satisfactions are
	// encoded into the scriptSig.
	ContextLegacy

	// ContextSegwitV0 is a P2WSH witness script. Satisfactions are
	// witness stacks.
	ContextSegwitV0

	// ContextTap is a tapscript leaf script. Keys are x-only and
	// signatures are Schnorr.
	ContextTap

	// ContextNoChecks performs type checking only and no context
	// validation. Cost and satisfaction size queries on trees validated
	// under it fail loudly. It is meant for analysis of fragments in
	// isolation, never for constructing spendable scripts.
	ContextNoChecks
)

// String returns a human-readable context name.
func (c Context) String() string {
	switch c {
	case ContextBare:
		return "BareCtx"
	case ContextLegacy:
		return "Legacy/p2sh"
	case ContextSegwitV0:
		return "Segwitv0"
	case ContextTap:
		return "TapscriptCtx"
	case ContextNoChecks:
		return "NochecksEcdsa"
	default:
		return "Unknown"
	}
}

// Valid returns whether c is one of the defined contexts.
func (c Context) Valid() bool {
	return c <= ContextNoChecks
}

type sigType uint8

const (
	sigTypeEcdsa sigType = iota
	sigTypeSchnorr
)

// sigType returns the signature algorithm of the context.
func (c Context) sigType() sigType {
	if c == ContextTap {
		return sigTypeSchnorr
	}
	return sigTypeEcdsa
}

// PkDataPushLen returns the worst case size of a public key push in the
// context, including the push opcode. A nil key stands for a key that is not
// known yet, e.g. behind a pk_h hash, and costs the compressed size.
//
// It panics on ContextNoChecks, which has no key format of its own.
func (c Context) PkDataPushLen(key *PublicKey) int {
	switch c {
	case ContextBare, ContextLegacy:
		if key != nil && key.IsUncompressed() {
			return 1 + uncompressedPubKeyLen
		}
		return pubKeyDataPushLen
	case ContextSegwitV0:
		return pubKeyDataPushLen
	case ContextTap:
		return 1 + xOnlyPubKeyLen
	default:
		panic(AssertError("key size queried on a no-checks context"))
	}
}

// checkPubKey rejects key formats the context cannot verify signatures for.
func (c Context) checkPubKey(key *PublicKey) error {
	if key == nil {
		return nil
	}
	switch c {
	case ContextBare, ContextLegacy:
		if key.IsXOnly() {
			return contextError(ErrXOnlyKeysNotAllowed,
				"x-only keys are not allowed in %s", c)
		}
	case ContextSegwitV0:
		if key.IsUncompressed() {
			return contextError(ErrCompressedOnly,
				"uncompressed keys are not allowed in %s", c)
		}
		if key.IsXOnly() {
			return contextError(ErrXOnlyKeysNotAllowed,
				"x-only keys are not allowed in %s", c)
		}
	case ContextTap:
		if key.IsUncompressed() {
			return contextError(ErrUncompressedKeysNotAllowed,
				"uncompressed keys are not allowed in %s", c)
		}
		if !key.IsXOnly() {
			return contextError(ErrXOnlyKeysRequired,
				"%s admits only x-only keys", c)
		}
	}
	return nil
}

// checkKeys applies checkPubKey to every key referenced by the node.
func (c Context) checkKeys(node *Miniscript) error {
	if node.key != nil {
		if err := c.checkPubKey(node.key); err != nil {
			return err
		}
	}
	for _, key := range node.keys {
		if err := c.checkPubKey(key); err != nil {
			return err
		}
	}
	return nil
}

// checkGlobalConsensusValidity enforces the per-fragment consensus rules of
// the context: script size ceilings, key formats and fragment prohibitions.
// It runs on every node as it is reduced, so violations surface at the
// smallest offending fragment.
func (c Context) checkGlobalConsensusValidity(node *Miniscript) error {
	if c == ContextNoChecks {
		return nil
	}

	switch c {
	case ContextBare, ContextSegwitV0:
		if node.scriptLen > maxScriptSize {
			return contextError(ErrMaxWitnessScriptSizeExceeded,
				"script of size %d exceeded the %d byte limit of "+
					"%s", node.scriptLen, maxScriptSize, c)
		}
	case ContextLegacy:
		if node.scriptLen > maxScriptElementSize {
			return contextError(ErrMaxRedeemScriptSizeExceeded,
				"redeem script of size %d exceeded the %d byte "+
					"push limit", node.scriptLen,
				maxScriptElementSize)
		}
	case ContextTap:
		if node.scriptLen > maxTapscriptSize {
			return contextError(ErrMaxWitnessScriptSizeExceeded,
				"script of size %d exceeded the %d byte limit of "+
					"%s", node.scriptLen, maxTapscriptSize, c)
		}
	}

	if err := c.checkKeys(node); err != nil {
		return err
	}

	switch node.identifier {
	case f_multi:
		if c == ContextTap {
			return contextError(ErrTaprootMultiDisabled,
				"CHECKMULTISIG is removed in %s, use multi_a", c)
		}
		if len(node.keys) > multisigMaxKeys {
			return contextError(ErrCheckMultiSigLimitExceeded,
				"number of multisig keys %d exceeded the limit "+
					"of %d", len(node.keys), multisigMaxKeys)
		}

	case f_multi_a:
		if c != ContextTap {
			return contextError(ErrMultiANotAllowed,
				"multi_a is only available in %s", ContextTap)
		}

	case f_ver_eq, f_outputs_pref:
		if c != ContextSegwitV0 {
			return contextError(ErrCovenantNotAllowed,
				"transaction introspection is only available "+
					"in %s", ContextSegwitV0)
		}
		if len(node.value) > maxScriptElementSize {
			return contextError(ErrCovElementSizeExceeded,
				"covenant prefix of size %d exceeded the %d "+
					"byte push limit", len(node.value),
				maxScriptElementSize)
		}

	case f_ext:
		if c == ContextBare || c == ContextLegacy {
			return contextError(ErrExtension,
				"extension fragments are not available in %s", c)
		}
		return node.ext.CheckContext(c)
	}

	return nil
}

// checkGlobalPolicyValidity enforces the per-fragment standardness rules of
// the context. Callers can disable it to analyze scripts that would relay
// poorly but remain valid by consensus.
func (c Context) checkGlobalPolicyValidity(node *Miniscript) error {
	switch c {
	case ContextBare, ContextLegacy, ContextSegwitV0:
		if node.opCount.count > maxOpsPerScript {
			return contextError(ErrMaxOpCountExceeded,
				"script with %d opcodes exceeded the limit of "+
					"%d", node.opCount.count, maxOpsPerScript)
		}
	}
	if c == ContextSegwitV0 && node.scriptLen > maxStandardP2WSHScriptSize {
		return contextError(ErrMaxWitnessScriptSizeExceeded,
			"script of size %d exceeded the %d byte standardness "+
				"limit of %s", node.scriptLen,
			maxStandardP2WSHScriptSize, c)
	}
	return nil
}

// checkLocalConsensusValidity enforces the satisfaction dependent consensus
// rules of the context. It inspects the worst case satisfaction of the whole
// tree, so it runs once, on the root. A tree with no satisfaction at all has
// no opcode bound and fails the op count rule in the non-tapscript contexts.
func (c Context) checkLocalConsensusValidity(node *Miniscript) error {
	switch c {
	case ContextBare, ContextLegacy, ContextSegwitV0:
		sat := node.opCount.sat
		if !sat.valid {
			return contextError(ErrMaxOpCountExceeded,
				"no satisfaction stays within the %d opcode "+
					"limit", maxOpsPerScript)
		}
		if node.opCount.count+sat.value > maxOpsPerScript {
			return contextError(ErrMaxOpCountExceeded,
				"satisfaction executes %d opcodes, exceeding "+
					"the limit of %d",
				node.opCount.count+sat.value, maxOpsPerScript)
		}
	case ContextTap:
		elems := node.stackCount.sat
		if elems.valid && elems.value+node.execStack > maxStackSize {
			return contextError(ErrStackSizeLimitExceeded,
				"satisfaction can grow the stack to %d "+
					"elements, exceeding the limit of %d",
				elems.value+node.execStack, maxStackSize)
		}
	}
	return nil
}

// checkLocalPolicyValidity enforces the satisfaction dependent standardness
// rules of the context on the root of the tree.
func (c Context) checkLocalPolicyValidity(node *Miniscript) error {
	switch c {
	case ContextLegacy:
		sat := node.satSize.sat
		if !sat.valid {
			return contextError(ErrImpossibleSatisfaction,
				"no satisfaction exists for the script")
		}
		if sat.ss > maxScriptSigSize {
			return contextError(ErrMaxScriptSigSizeExceeded,
				"satisfaction of %d bytes exceeded the %d byte "+
					"scriptSig limit", sat.ss, maxScriptSigSize)
		}
	case ContextSegwitV0:
		elems := node.stackCount.sat
		if !elems.valid {
			return contextError(ErrImpossibleSatisfaction,
				"no satisfaction exists for the script")
		}
		if elems.value > maxStandardP2WSHStackItems {
			return contextError(ErrMaxWitnessItemsExceeded,
				"satisfaction with %d witness items exceeded "+
					"the limit of %d", elems.value,
				maxStandardP2WSHStackItems)
		}
	}
	return nil
}

// checkGlobalValidity runs the non-skippable consensus rules and, unless
// disabled, the standardness rules on a single node.
func (c Context) checkGlobalValidity(node *Miniscript,
	flags ValidationFlags) error {

	if err := c.checkGlobalConsensusValidity(node); err != nil {
		return err
	}
	if !flags.skipPolicy() {
		if err := c.checkGlobalPolicyValidity(node); err != nil {
			return err
		}
	}
	return nil
}

// checkLocalValidity runs the satisfaction dependent rules on the root of a
// tree. Consensus rules always run; standardness rules honor the flags.
func (c Context) checkLocalValidity(node *Miniscript,
	flags ValidationFlags) error {

	if err := c.checkLocalConsensusValidity(node); err != nil {
		return err
	}
	if !flags.skipLocalPolicy() {
		if err := c.checkLocalPolicyValidity(node); err != nil {
			return err
		}
	}
	return nil
}

// checkTerminalNonMalleable rejects fragment shapes whose satisfactions are
// third party malleable in this context only. In the legacy context the
// interpreter does not enforce minimal IF inputs and scriptSig pushes admit
// multiple encodings, so branch selectors and revealed keys degrade into
// mutation vectors.
func (c Context) checkTerminalNonMalleable(node *Miniscript) error {
	if c != ContextLegacy {
		return nil
	}
	switch node.identifier {
	case f_pk_h:
		return contextError(ErrMalleablePkH,
			"pk_h is malleable under %s", c)
	case f_or_i:
		return contextError(ErrMalleableOrI,
			"or_i is malleable under %s", c)
	case f_wrap_d:
		return contextError(ErrMalleableDupIf,
			"d: is malleable under %s", c)
	}
	return nil
}

// CheckWitness validates a finished witness stack against the resource rules
// of the context. The witness is the stack the satisfier produced, without
// the script itself.
func (c Context) CheckWitness(witness [][]byte) error {
	switch c {
	case ContextLegacy:
		size := 0
		for _, elem := range witness {
			_, ss := dataPushCost(len(elem))
			size += ss
		}
		if size > maxScriptSigSize {
			return contextError(ErrMaxScriptSigSizeExceeded,
				"witness of %d bytes exceeded the %d byte "+
					"scriptSig limit", size, maxScriptSigSize)
		}
	case ContextSegwitV0:
		if len(witness) > maxStandardP2WSHStackItems {
			return contextError(ErrMaxWitnessItemsExceeded,
				"witness with %d items exceeded the limit of "+
					"%d", len(witness),
				maxStandardP2WSHStackItems)
		}
	case ContextTap:
		if len(witness) > maxStackSize {
			return contextError(ErrMaxWitnessItemsExceeded,
				"witness with %d items exceeded the limit of "+
					"%d", len(witness), maxStackSize)
		}
	}
	return nil
}

// checkTopLevelType requires the root of a tree to be a base expression.
func (c Context) checkTopLevelType(node *Miniscript) error {
	if node.basicType != typeB {
		return typeError(node.identifier, "top level miniscript must "+
			"be of type B, but is %s", node.basicType)
	}
	return nil
}

// otherTopLevelChecks enforces root shape standardness. Only the bare context
// has one: anything beyond single key checks and small multisigs is
// non-standard as a raw script pubkey.
func (c Context) otherTopLevelChecks(node *Miniscript) error {
	if c != ContextBare {
		return nil
	}
	switch {
	case node.identifier == f_wrap_c &&
		(node.args[0].identifier == f_pk_k ||
			node.args[0].identifier == f_pk_h):
		return nil
	case node.identifier == f_multi && len(node.keys) <= 3:
		return nil
	}
	return contextError(ErrNonStandardBareScript,
		"%s only admits single key checks and up to 3-of-3 multisig "+
			"at the top level", c)
}

// ValidationFlags adjusts which rule tiers run during decoding and parsing.
// Consensus rules are never skippable; the flags only relax standardness.
type ValidationFlags uint32

const (
	// SkipPolicyChecks disables all standardness rules, global and
	// satisfaction dependent. Consensus rules still run.
	SkipPolicyChecks ValidationFlags = 1 << iota

	// SkipLocalChecks disables only the satisfaction dependent
	// standardness rules. Use it to inspect scripts that are too big to
	// relay but structurally sound.
	SkipLocalChecks
)

func (f ValidationFlags) skipPolicy() bool {
	return f&SkipPolicyChecks != 0
}

func (f ValidationFlags) skipLocalPolicy() bool {
	return f&(SkipPolicyChecks|SkipLocalChecks) != 0
}
