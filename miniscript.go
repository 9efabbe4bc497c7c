package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// All fragment identifiers.

	f_0            = "0"            // 0
	f_1            = "1"            // 1
	f_pk_k         = "pk_k"         // pk_k(key)
	f_pk_h         = "pk_h"         // pk_h(key)
	f_pk           = "pk"           // pk(key) = c:pk_k(key)
	f_pkh          = "pkh"          // pkh(key) = c:pk_h(key)
	f_sha256       = "sha256"       // sha256(h)
	f_ripemd160    = "ripemd160"    // ripemd160(h)
	f_hash256      = "hash256"      // hash256(h)
	f_hash160      = "hash160"      // hash160(h)
	f_older        = "older"        // older(n)
	f_after        = "after"        // after(n)
	f_andor        = "andor"        // andor(X,Y,Z)
	f_and_v        = "and_v"        // and_v(X,Y)
	f_and_b        = "and_b"        // and_b(X,Y)
	f_and_n        = "and_n"        // and_n(X,Y) = andor(X,Y,0)
	f_or_b         = "or_b"         // or_b(X,Z)
	f_or_c         = "or_c"         // or_c(X,Z)
	f_or_d         = "or_d"         // or_d(X,Z)
	f_or_i         = "or_i"         // or_i(X,Z)
	f_thresh       = "thresh"       // thresh(k,X1,...,Xn)
	f_multi        = "multi"        // multi(k,key1,...,keyn)
	f_multi_a      = "multi_a"      // multi_a(k,key1,...,keyn)
	f_ver_eq       = "ver_eq"       // ver_eq(n)
	f_outputs_pref = "outputs_pref" // outputs_pref(prefix)
	f_ext          = "ext"          // extension leaf
	f_wrap_a       = "a"            // a:X
	f_wrap_s       = "s"            // s:X
	f_wrap_c       = "c"            // c:X
	f_wrap_d       = "d"            // d:X
	f_wrap_v       = "v"            // v:X
	f_wrap_j       = "j"            // j:X
	f_wrap_n       = "n"            // n:X
	f_wrap_t       = "t"            // t:X = and_v(X,1)
	f_wrap_l       = "l"            // l:X = or_i(0,X)
	f_wrap_u       = "u"            // u:X = or_i(X,0)
)

// Miniscript is one node of the fragment tree of a miniscript expression.
// Nodes are produced by Decode or Parse with all type, malleability and cost
// annotations already computed and checked against a Context; they are
// immutable afterwards.
type Miniscript struct {
	basicType basicType
	props     properties

	// ctx is the context the node was validated under.
	ctx Context

	// wrappers are the unexpanded wrapper letters during text parsing,
	// e.g. in "dv:older", "dv". Empty once the tree is finalized.
	wrappers   string
	identifier string

	// num is the parsed integer for when the fragment carries a number:
	// the locktime of older/after, the threshold of thresh, multi and
	// multi_a, and the transaction version of ver_eq.
	num uint64

	// value is the raw data payload: the 32 or 20 byte digest of a hash
	// lock, the 20 byte key hash of a decoded pk_h, or the raw serialized
	// prefix of outputs_pref.
	value []byte

	// key is set for pk_k, and for pk_h when the key behind the hash is
	// known.
	key *PublicKey

	// keys are the keys of multi and multi_a, in script order.
	keys []*PublicKey

	args []*Miniscript

	// ext is the payload of an extension leaf.
	ext Extension

	scriptLen  int
	opCount    ops
	stackCount stackCount
	satSize    satSizes
	execStack  int
}

// computeProperties runs the full annotation pipeline on a single node whose
// children are already annotated, then applies the per-node context rules.
// The decoder and the parser both call it exactly once per node, bottom-up.
func computeProperties(node *Miniscript, ctx Context,
	flags ValidationFlags) error {

	node.ctx = ctx

	if node.identifier == f_ext {
		if err := applyExtensionInfo(node); err != nil {
			return err
		}
		return ctx.checkGlobalValidity(node, flags)
	}

	if err := typeCheck(node); err != nil {
		return err
	}
	if err := malleabilityCheck(node); err != nil {
		return err
	}
	canCollapseVerify(node)
	if err := computeScriptLen(node); err != nil {
		return err
	}
	if err := computeOpCount(node); err != nil {
		return err
	}
	if err := computeStackCount(node); err != nil {
		return err
	}
	if err := computeSatSize(node, ctx); err != nil {
		return err
	}
	if err := computeExecStack(node); err != nil {
		return err
	}
	return ctx.checkGlobalValidity(node, flags)
}

// checkTopLevel runs the rules that only apply to the root of a finished
// tree: the base type requirement, the per-context root shape allow-list and
// the satisfaction dependent resource rules.
func checkTopLevel(node *Miniscript, ctx Context,
	flags ValidationFlags) error {

	if err := ctx.checkTopLevelType(node); err != nil {
		return err
	}
	if !flags.skipPolicy() {
		if err := ctx.otherTopLevelChecks(node); err != nil {
			return err
		}
	}
	return ctx.checkLocalValidity(node, flags)
}

// Context returns the context the tree was validated under.
func (m *Miniscript) Context() Context {
	return m.ctx
}

// Type returns the basic type of the expression: B, V, K or W.
func (m *Miniscript) Type() string {
	return string(m.basicType)
}

// Properties returns the type and malleability properties of the expression
// as a compact letter string, e.g. "ndu" or "zmf".
func (m *Miniscript) Properties() string {
	return m.props.String()
}

// formattedType returns the basic type (B, V, K or W) followed by all type
// properties.
func (m *Miniscript) formattedType() string {
	return fmt.Sprintf("%s%s", m.basicType, m.props)
}

// ScriptLen returns the byte size of the script this expression compiles to.
func (m *Miniscript) ScriptLen() int {
	return m.scriptLen
}

// MaxOpCount returns the maximum number of ops needed to satisfy this script,
// which is relevant for the per-script op limit outside tapscript. For an
// unsatisfiable script this degrades to the static opcode count.
func (m *Miniscript) MaxOpCount() int {
	return m.opCount.count + m.opCount.sat.value
}

// MaxSatisfactionSize returns the worst case byte size of a satisfaction,
// excluding the script itself. For the bare and legacy contexts this is the
// scriptSig encoding, for segwit contexts the witness stack encoding.
//
// It panics for trees validated under ContextNoChecks and errors for
// unsatisfiable scripts.
func (m *Miniscript) MaxSatisfactionSize() (int, error) {
	if m.ctx == ContextNoChecks {
		panic(AssertError("satisfaction size queried on a no-checks " +
			"miniscript"))
	}
	sat := m.satSize.sat
	if !sat.valid {
		return 0, contextError(ErrImpossibleSatisfaction,
			"no satisfaction exists for the script")
	}
	switch m.ctx {
	case ContextBare, ContextLegacy:
		return sat.ss, nil
	default:
		return sat.wit, nil
	}
}

// MaxWitnessItems returns the worst case number of stack items of a
// satisfaction, including the script element itself.
//
// It panics for trees validated under ContextNoChecks and errors for
// unsatisfiable scripts.
func (m *Miniscript) MaxWitnessItems() (int, error) {
	if m.ctx == ContextNoChecks {
		panic(AssertError("witness items queried on a no-checks " +
			"miniscript"))
	}
	sat := m.stackCount.sat
	if !sat.valid {
		return 0, contextError(ErrImpossibleSatisfaction,
			"no satisfaction exists for the script")
	}
	return sat.value + 1, nil
}

// IsValidTopLevel checks whether this node is valid as a script on its own in
// its context.
func (m *Miniscript) IsValidTopLevel() error {
	return checkTopLevel(m, m.ctx, 0)
}

// CheckNonMalleable returns an error if satisfactions of this script can be
// mutated by third parties, either because of the fragment composition or
// because of per-context interpreter gaps.
func (m *Miniscript) CheckNonMalleable() error {
	err := m.walk(func(node *Miniscript) error {
		return m.ctx.checkTerminalNonMalleable(node)
	})
	if err != nil {
		return err
	}
	if !m.props.m {
		return fmt.Errorf("no non-malleable satisfaction exists for %s",
			m.identifier)
	}
	return nil
}

// isSaneSubexpression checks whether the apparent policy of this node matches
// its script semantics. Doesn't guarantee it is a safe script on its own.
func (m *Miniscript) isSaneSubexpression() error {
	if err := m.CheckNonMalleable(); err != nil {
		return err
	}
	return nil
}

// IsSane checks whether this node is safe as a script on its own: a valid
// top level type within the context's resource rules, with non-malleable
// satisfactions that always involve a signature, and no key used twice.
func (m *Miniscript) IsSane() error {
	if err := m.IsValidTopLevel(); err != nil {
		return err
	}
	if err := m.isSaneSubexpression(); err != nil {
		return err
	}
	if !m.props.s {
		return fmt.Errorf("a satisfaction does not need a signature")
	}
	return m.repeatedKeyCheck()
}

func (m *Miniscript) repeatedKeyCheck() error {
	seen := make(map[string]struct{})
	add := func(b []byte) error {
		if _, ok := seen[string(b)]; ok {
			return fmt.Errorf("key %x is used more than once", b)
		}
		seen[string(b)] = struct{}{}
		return nil
	}
	return m.walk(func(node *Miniscript) error {
		if node.key != nil {
			return add(node.key.Serialize())
		}
		if node.identifier == f_pk_h && node.value != nil {
			return add(node.value)
		}
		for _, key := range node.keys {
			if err := add(key.Serialize()); err != nil {
				return err
			}
		}
		return nil
	})
}

// walk visits the node and all subexpressions bottom-up, stopping at the
// first error.
func (m *Miniscript) walk(f func(*Miniscript) error) error {
	for _, arg := range m.args {
		if err := arg.walk(f); err != nil {
			return err
		}
	}
	return f(m)
}

// apply replaces the node and all subexpressions bottom-up. Used by the text
// notation transformer passes.
func (m *Miniscript) apply(f func(*Miniscript) (*Miniscript, error)) (
	*Miniscript, error) {

	for i, arg := range m.args {
		newArg, err := arg.apply(f)
		if err != nil {
			return nil, err
		}
		m.args[i] = newArg
	}
	return f(m)
}

func (m *Miniscript) drawTree(w io.Writer, indent string) {
	if m.wrappers != "" {
		_, _ = fmt.Fprintf(w, "%s:", m.wrappers)
	}
	_, _ = fmt.Fprint(w, m.identifier)
	typ := m.formattedType()
	if m.props.canCollapseVerify {
		typ += "v"
	}
	if typ != "" {
		_, _ = fmt.Fprintf(w, " [%s]", typ)
	}
	if m.num != 0 {
		_, _ = fmt.Fprintf(w, " [%d]", m.num)
	}
	if m.value != nil {
		_, _ = fmt.Fprintf(w, " [%x]", m.value)
	}
	if m.key != nil {
		_, _ = fmt.Fprintf(w, " [%s]", m.key)
	}
	for _, key := range m.keys {
		_, _ = fmt.Fprintf(w, " [%s]", key)
	}
	_, _ = fmt.Fprintln(w)
	for i, arg := range m.args {
		mark := ""
		delim := ""
		if i == len(m.args)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(arg.identifier)) + len([]rune(mark)) -
			1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		arg.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the fragment tree with one node per line, including the
// computed type annotations. Useful for debugging and for the inspection
// tool.
func (m *Miniscript) DrawTree() string {
	var b strings.Builder
	m.drawTree(&b, "")
	return b.String()
}

// hexValue returns the data payload as a hex string.
func (m *Miniscript) hexValue() string {
	return hex.EncodeToString(m.value)
}
