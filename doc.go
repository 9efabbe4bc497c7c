/*
Package miniscript implements decoding, parsing, analysis and satisfaction of
miniscript, a structured language for Bitcoin and Elements scripts.

Miniscript expresses spending conditions as a tree of fragments, each of which
compiles to a fixed piece of script.  The composition rules of the fragments
guarantee that the resulting script is consensus valid, that its resource
usage is known in advance, and that satisfying witnesses can be constructed
without executing the script.

This package works in both directions.  Parse turns the text notation, e.g.

	and_v(v:pk(key),older(144))

into a fragment tree, and Decode reconstructs the same tree from raw script
bytes, so an output script found on chain can be lifted back into the policy
it enforces.  Both directions run the identical type checking, malleability
and resource analysis pipeline.

# Script contexts

A miniscript is always analyzed relative to the context the script will be
executed in, since the contexts disagree about key encodings, opcode
availability and resource limits.  Five contexts are supported: bare output
scripts, P2SH, P2WSH, Tapscript and a no-checks mode that only validates the
fragment composition itself.  Checks are layered into consensus checks, which
can never be disabled, and standardness policy checks, which can be switched
off with validation flags.

# Elements

Two covenant fragments from Elements script are supported in the P2WSH
context: ver_eq(n) pins the spending transaction's version and
outputs_pref(prefix) pins the serialization prefix of its outputs.  Both rely
on the transaction introspection witness layout used by Elements covenants.
Further Elements-specific fragments can be hooked into the decoder through the
ExtensionParser interface.

# Satisfaction

Satisfy builds a witness stack for a satisfiable expression from caller
provided signers and hash preimages, preferring the smallest non-malleable
satisfaction.  The analysis methods (IsSane, CheckNonMalleable,
MaxSatisfactionSize, MaxOpCount and friends) report whether and at what cost
an expression can be spent without constructing a witness.
*/
package miniscript
