package miniscript

import (
	"sort"

	"github.com/btcsuite/btcd/txscript"
)

const (
	// introCommitElements is the number of witness elements consumed by
	// the output prefix fragment.
	introCommitElements = 7

	// maxIntroCommitCost is the worst case cost of the seven transaction
	// commitment elements consumed by the output prefix fragment. The
	// elements are limited to 80 bytes each by standardness, plus one
	// length byte per element.
	maxIntroCommitCost = introCommitElements * 81
)

type maxInt struct {
	valid bool
	value int
}

func (m maxInt) and(b maxInt) maxInt {
	if !m.valid || !b.valid {
		return maxInt{}
	}
	return maxInt{
		valid: true,
		value: m.value + b.value,
	}
}

func (m maxInt) or(b maxInt) maxInt {
	if !m.valid {
		return b
	}
	if !b.valid {
		return m
	}
	if m.value >= b.value {
		return maxInt{
			valid: true,
			value: m.value,
		}
	}
	return maxInt{
		valid: true,
		value: b.value,
	}
}

// maxPair tracks the worst case byte size of a satisfaction in both input
// encodings at once: wit is the size with elements prefixed by a compact size
// length byte, ss is the size with elements encoded as script pushes.
type maxPair struct {
	valid   bool
	wit, ss int
}

func (p maxPair) and(b maxPair) maxPair {
	if !p.valid || !b.valid {
		return maxPair{}
	}
	return maxPair{
		valid: true,
		wit:   p.wit + b.wit,
		ss:    p.ss + b.ss,
	}
}

func (p maxPair) or(b maxPair) maxPair {
	if !p.valid {
		return b
	}
	if !b.valid {
		return p
	}
	if p.wit > b.wit || (p.wit == b.wit && p.ss >= b.ss) {
		return p
	}
	return b
}

func (p maxPair) plus(wit, ss int) maxPair {
	if !p.valid {
		return maxPair{}
	}
	return maxPair{
		valid: true,
		wit:   p.wit + wit,
		ss:    p.ss + ss,
	}
}

// dataPushCost returns the cost of one input element of n bytes in the
// witness encoding (compact size prefix) and the script-sig encoding (push
// opcode overhead).
func dataPushCost(n int) (wit, ss int) {
	wit = n + 1
	switch {
	case n <= 75:
		ss = n + 1
	case n <= 255:
		ss = n + 2
	default:
		ss = n + 3
	}
	return wit, ss
}

type ops struct {
	// count is the number of non-push opcodes.
	count int

	// dsat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to dissatisfy.
	dsat maxInt

	// sat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to satisfy.
	sat maxInt
}

type stackCount struct {
	// sat is the maximum number of input elements consumed by a
	// satisfaction, dsat by a dissatisfaction.
	sat, dsat maxInt
}

type satSizes struct {
	// sat is the maximum byte size of a satisfaction, dsat of a
	// dissatisfaction.
	sat, dsat maxPair
}

// threshChoice computes the maximum of sat(i) for k chosen children plus
// dsat(j) for the rest, over all ways of choosing k children. All children of
// a threshold are dissatisfiable, so the base sum over dsat is always valid.
// The maximum picks the k children with the largest sat minus dsat delta.
func threshChoice(args []*Miniscript, k int,
	sat, dsat func(*Miniscript) maxInt) maxInt {

	total := maxInt{valid: true}
	var deltas []int
	for _, arg := range args {
		d := dsat(arg)
		if !d.valid {
			return maxInt{}
		}
		total = total.and(d)
		s := sat(arg)
		if s.valid {
			deltas = append(deltas, s.value-d.value)
		}
	}
	if len(deltas) < k {
		return maxInt{}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(deltas)))
	for _, delta := range deltas[:k] {
		total.value += delta
	}
	return total
}

// threshChoicePair is threshChoice over satisfaction sizes. Deltas are
// ordered by the witness encoding.
func threshChoicePair(args []*Miniscript, k int,
	sat, dsat func(*Miniscript) maxPair) maxPair {

	total := maxPair{valid: true}
	type delta struct {
		wit, ss int
	}
	var deltas []delta
	for _, arg := range args {
		d := dsat(arg)
		if !d.valid {
			return maxPair{}
		}
		total = total.and(d)
		s := sat(arg)
		if s.valid {
			deltas = append(deltas, delta{
				wit: s.wit - d.wit,
				ss:  s.ss - d.ss,
			})
		}
	}
	if len(deltas) < k {
		return maxPair{}
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].wit > deltas[j].wit
	})
	for _, delta := range deltas[:k] {
		total.wit += delta.wit
		total.ss += delta.ss
	}
	return total
}

func computeOpCount(node *Miniscript) error {
	zero := maxInt{valid: true, value: 0}
	invalid := maxInt{valid: false}
	switch node.identifier {
	case f_0:
		node.opCount = ops{0, zero, invalid}

	case f_1:
		node.opCount = ops{0, invalid, zero}

	case f_pk_k:
		node.opCount = ops{0, zero, zero}

	case f_pk_h:
		node.opCount = ops{3, zero, zero}

	case f_older, f_after:
		node.opCount = ops{1, invalid, zero}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		node.opCount = ops{4, zero, zero}

	case f_ver_eq:
		node.opCount = ops{4, invalid, zero}

	case f_outputs_pref:
		node.opCount = ops{13, zero, zero}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.opCount = ops{
			3 + x.opCount.count + y.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			y.opCount.sat.and(x.opCount.sat).or(
				z.opCount.sat.and(x.opCount.dsat),
			),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.opCount = ops{
			x.opCount.count + y.opCount.count,
			invalid,
			y.opCount.sat.and(x.opCount.sat),
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.opCount = ops{
			1 + x.opCount.count + y.opCount.count,
			y.opCount.dsat.and(x.opCount.dsat),
			y.opCount.sat.and(x.opCount.sat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			1 + x.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			z.opCount.dsat.and(x.opCount.sat).or(
				z.opCount.sat.and(x.opCount.dsat),
			),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			2 + x.opCount.count + z.opCount.count,
			invalid,
			x.opCount.sat.or(z.opCount.sat.and(x.opCount.dsat)),
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			3 + x.opCount.count + z.opCount.count,
			z.opCount.dsat.and(x.opCount.dsat),
			x.opCount.sat.or(z.opCount.sat.and(x.opCount.dsat)),
		}

	case f_or_i:
		x, z := node.args[0], node.args[1]
		node.opCount = ops{
			3 + x.opCount.count + z.opCount.count,
			x.opCount.dsat.or(z.opCount.dsat),
			x.opCount.sat.or(z.opCount.sat),
		}

	case f_thresh:
		n := len(node.args)
		// n-1 OP_ADDs plus the final comparison.
		count := n
		dsat := maxInt{valid: true}
		for _, arg := range node.args {
			count += arg.opCount.count
			dsat = dsat.and(arg.opCount.dsat)
		}
		sat := threshChoice(node.args, int(node.num),
			func(arg *Miniscript) maxInt { return arg.opCount.sat },
			func(arg *Miniscript) maxInt { return arg.opCount.dsat },
		)
		node.opCount = ops{count, dsat, sat}

	case f_multi:
		n := len(node.keys)
		node.opCount = ops{
			1,
			maxInt{valid: true, value: n},
			maxInt{valid: true, value: n},
		}

	case f_multi_a:
		// One OP_CHECKSIG, n-1 OP_CHECKSIGADDs and the final
		// comparison.
		node.opCount = ops{len(node.keys) + 1, zero, zero}

	case f_wrap_a:
		x := node.args[0]
		node.opCount = ops{
			2 + x.opCount.count,
			x.opCount.dsat,
			x.opCount.sat,
		}

	case f_wrap_s, f_wrap_c, f_wrap_n:
		x := node.args[0]
		node.opCount = ops{
			1 + x.opCount.count,
			x.opCount.dsat, x.opCount.sat,
		}

	case f_wrap_d:
		x := node.args[0]
		node.opCount = ops{
			3 + x.opCount.count,
			zero, x.opCount.sat,
		}

	case f_wrap_v:
		x := node.args[0]
		opVerify := 0
		if !node.args[0].props.canCollapseVerify {
			opVerify = 1
		}
		node.opCount = ops{
			opVerify + x.opCount.count, invalid, x.opCount.sat,
		}

	case f_wrap_j:
		x := node.args[0]
		node.opCount = ops{4 + x.opCount.count, zero, x.opCount.sat}

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}

// Compute the length of the resulting script.
func computeScriptLen(node *Miniscript) error {
	numPushLen := func(n int64) int {
		numPush, _ := txscript.NewScriptBuilder().AddInt64(n).Script()
		return len(numPush)
	}
	dataPushLen := func(n int) int {
		switch {
		case n <= 75:
			return n + 1
		case n <= 255:
			return n + 2
		default:
			return n + 3
		}
	}
	keyPushLen := func(key *PublicKey) int {
		if key == nil {
			return pubKeyDataPushLen
		}
		return 1 + len(key.Serialize())
	}
	argsSummed := 0
	for _, arg := range node.args {
		argsSummed += arg.scriptLen
	}

	switch node.identifier {
	case f_0, f_1:
		node.scriptLen = 1

	case f_pk_k:
		node.scriptLen = keyPushLen(node.key)

	case f_pk_h:
		node.scriptLen = 24

	case f_older, f_after:
		node.scriptLen = 1 + numPushLen(int64(node.num))

	case f_sha256, f_hash256:
		node.scriptLen = 39

	case f_ripemd160, f_hash160:
		node.scriptLen = 27

	case f_ver_eq:
		// DEPTH <12> SUB PICK, a raw four byte push of the version and
		// EQUAL.
		node.scriptLen = 10

	case f_outputs_pref:
		// Six CATs, the prefix push, then SWAP CAT HASH256 DEPTH <4>
		// SUB PICK EQUAL.
		node.scriptLen = 14 + dataPushLen(len(node.value))

	case f_andor, f_or_i, f_or_d, f_wrap_d:
		node.scriptLen = argsSummed + 3

	case f_and_v:
		node.scriptLen = argsSummed

	case f_and_b, f_or_b, f_wrap_s, f_wrap_c, f_wrap_n:
		node.scriptLen = argsSummed + 1

	case f_or_c, f_wrap_a:
		node.scriptLen = argsSummed + 2

	case f_thresh:
		numAdds := len(node.args) - 1
		node.scriptLen = argsSummed + numAdds +
			numPushLen(int64(node.num)) + 1

	case f_multi:
		keysSummed := 0
		for _, key := range node.keys {
			keysSummed += keyPushLen(key)
		}
		node.scriptLen = numPushLen(int64(node.num)) + keysSummed +
			numPushLen(int64(len(node.keys))) + 1

	case f_multi_a:
		keysSummed := 0
		for _, key := range node.keys {
			keysSummed += keyPushLen(key)
		}
		// One signature check opcode per key and the final comparison.
		node.scriptLen = keysSummed + len(node.keys) +
			numPushLen(int64(node.num)) + 1

	case f_wrap_v:
		if node.args[0].props.canCollapseVerify {
			// OP_VERIFY not needed, collapsed into OP_EQUALVERIFY,
			// OP_CHECKSIGVERIFY, OP_CHECKMULTISIGVERIFY.
			node.scriptLen = argsSummed
		} else {
			node.scriptLen = argsSummed + 1
		}

	case f_wrap_j:
		node.scriptLen = argsSummed + 4

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}

// computeStackCount infers the maximum number of input elements consumed by a
// satisfaction and a dissatisfaction of the node.
func computeStackCount(node *Miniscript) error {
	zero := maxInt{valid: true, value: 0}
	one := maxInt{valid: true, value: 1}
	invalid := maxInt{valid: false}
	switch node.identifier {
	case f_0:
		node.stackCount = stackCount{invalid, zero}

	case f_1:
		node.stackCount = stackCount{zero, invalid}

	case f_pk_k:
		node.stackCount = stackCount{one, one}

	case f_pk_h:
		two := maxInt{valid: true, value: 2}
		node.stackCount = stackCount{two, two}

	case f_older, f_after, f_ver_eq:
		node.stackCount = stackCount{zero, invalid}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		// Dissatisfied with a wrong preimage of the correct size.
		node.stackCount = stackCount{one, one}

	case f_outputs_pref:
		elems := maxInt{valid: true, value: introCommitElements}
		node.stackCount = stackCount{elems, elems}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.stackCount = stackCount{
			sat: x.stackCount.sat.and(y.stackCount.sat).or(
				x.stackCount.dsat.and(z.stackCount.sat)),
			dsat: x.stackCount.dsat.and(z.stackCount.dsat),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat:  x.stackCount.sat.and(y.stackCount.sat),
			dsat: invalid,
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat:  x.stackCount.sat.and(y.stackCount.sat),
			dsat: x.stackCount.dsat.and(y.stackCount.dsat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat: x.stackCount.sat.and(z.stackCount.dsat).or(
				x.stackCount.dsat.and(z.stackCount.sat)),
			dsat: x.stackCount.dsat.and(z.stackCount.dsat),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat: x.stackCount.sat.or(
				x.stackCount.dsat.and(z.stackCount.sat)),
			dsat: invalid,
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat: x.stackCount.sat.or(
				x.stackCount.dsat.and(z.stackCount.sat)),
			dsat: x.stackCount.dsat.and(z.stackCount.dsat),
		}

	case f_or_i:
		x, z := node.args[0], node.args[1]
		node.stackCount = stackCount{
			sat:  x.stackCount.sat.or(z.stackCount.sat).and(one),
			dsat: x.stackCount.dsat.or(z.stackCount.dsat).and(one),
		}

	case f_thresh:
		dsat := maxInt{valid: true}
		for _, arg := range node.args {
			dsat = dsat.and(arg.stackCount.dsat)
		}
		sat := threshChoice(node.args, int(node.num),
			func(arg *Miniscript) maxInt { return arg.stackCount.sat },
			func(arg *Miniscript) maxInt { return arg.stackCount.dsat },
		)
		node.stackCount = stackCount{sat, dsat}

	case f_multi:
		// k signatures plus the dummy element consumed by
		// OP_CHECKMULTISIG.
		elems := maxInt{valid: true, value: int(node.num) + 1}
		node.stackCount = stackCount{elems, elems}

	case f_multi_a:
		// One element per key, empty for keys not signing.
		elems := maxInt{valid: true, value: len(node.keys)}
		node.stackCount = stackCount{elems, elems}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		x := node.args[0]
		node.stackCount = stackCount{x.stackCount.sat, x.stackCount.dsat}

	case f_wrap_v:
		x := node.args[0]
		node.stackCount = stackCount{x.stackCount.sat, invalid}

	case f_wrap_d:
		x := node.args[0]
		node.stackCount = stackCount{x.stackCount.sat.and(one), one}

	case f_wrap_j:
		x := node.args[0]
		node.stackCount = stackCount{x.stackCount.sat, one}

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}

// computeSatSize infers the maximum byte size of a satisfaction and a
// dissatisfaction of the node, in both input encodings. The signature and key
// element sizes depend on the validation context.
func computeSatSize(node *Miniscript, ctx Context) error {
	zero := maxPair{valid: true}
	empty := maxPair{valid: true, wit: 1, ss: 1}
	invalid := maxPair{}
	sigCost := maxEcdsaSigSize
	if ctx.sigType() == sigTypeSchnorr {
		sigCost = maxSchnorrSigSize
	}

	switch node.identifier {
	case f_0:
		node.satSize = satSizes{invalid, zero}

	case f_1:
		node.satSize = satSizes{zero, invalid}

	case f_pk_k:
		sig := maxPair{valid: true, wit: sigCost, ss: sigCost}
		node.satSize = satSizes{sig, empty}

	case f_pk_h:
		keyCost := pubKeyDataPushLen
		if node.key != nil {
			keyCost = 1 + len(node.key.Serialize())
		}
		node.satSize = satSizes{
			sat: maxPair{
				valid: true,
				wit:   sigCost + keyCost,
				ss:    sigCost + keyCost,
			},
			dsat: maxPair{
				valid: true,
				wit:   1 + keyCost,
				ss:    1 + keyCost,
			},
		}

	case f_older, f_after, f_ver_eq:
		node.satSize = satSizes{zero, invalid}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		wit, ss := dataPushCost(32)
		preimage := maxPair{valid: true, wit: wit, ss: ss}
		node.satSize = satSizes{preimage, preimage}

	case f_outputs_pref:
		commit := maxPair{
			valid: true,
			wit:   maxIntroCommitCost,
			ss:    maxIntroCommitCost,
		}
		node.satSize = satSizes{commit, commit}

	case f_andor:
		x, y, z := node.args[0], node.args[1], node.args[2]
		node.satSize = satSizes{
			sat: x.satSize.sat.and(y.satSize.sat).or(
				x.satSize.dsat.and(z.satSize.sat)),
			dsat: x.satSize.dsat.and(z.satSize.dsat),
		}

	case f_and_v:
		x, y := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat:  x.satSize.sat.and(y.satSize.sat),
			dsat: invalid,
		}

	case f_and_b:
		x, y := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat:  x.satSize.sat.and(y.satSize.sat),
			dsat: x.satSize.dsat.and(y.satSize.dsat),
		}

	case f_or_b:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat: x.satSize.sat.and(z.satSize.dsat).or(
				x.satSize.dsat.and(z.satSize.sat)),
			dsat: x.satSize.dsat.and(z.satSize.dsat),
		}

	case f_or_c:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat: x.satSize.sat.or(
				x.satSize.dsat.and(z.satSize.sat)),
			dsat: invalid,
		}

	case f_or_d:
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat: x.satSize.sat.or(
				x.satSize.dsat.and(z.satSize.sat)),
			dsat: x.satSize.dsat.and(z.satSize.dsat),
		}

	case f_or_i:
		// Taking the first branch costs a push of 1, the second an
		// empty push. In the script-sig encoding both are a single
		// opcode.
		x, z := node.args[0], node.args[1]
		node.satSize = satSizes{
			sat:  x.satSize.sat.plus(2, 1).or(z.satSize.sat.plus(1, 1)),
			dsat: x.satSize.dsat.plus(2, 1).or(z.satSize.dsat.plus(1, 1)),
		}

	case f_thresh:
		dsat := maxPair{valid: true}
		for _, arg := range node.args {
			dsat = dsat.and(arg.satSize.dsat)
		}
		sat := threshChoicePair(node.args, int(node.num),
			func(arg *Miniscript) maxPair { return arg.satSize.sat },
			func(arg *Miniscript) maxPair { return arg.satSize.dsat },
		)
		node.satSize = satSizes{sat, dsat}

	case f_multi:
		k := int(node.num)
		node.satSize = satSizes{
			sat: maxPair{
				valid: true,
				wit:   1 + k*maxEcdsaSigSize,
				ss:    1 + k*maxEcdsaSigSize,
			},
			dsat: maxPair{
				valid: true,
				wit:   1 + k,
				ss:    1 + k,
			},
		}

	case f_multi_a:
		k, n := int(node.num), len(node.keys)
		node.satSize = satSizes{
			sat: maxPair{
				valid: true,
				wit:   k*maxSchnorrSigSize + (n - k),
				ss:    k*maxSchnorrSigSize + (n - k),
			},
			dsat: maxPair{valid: true, wit: n, ss: n},
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		x := node.args[0]
		node.satSize = satSizes{x.satSize.sat, x.satSize.dsat}

	case f_wrap_v:
		x := node.args[0]
		node.satSize = satSizes{x.satSize.sat, invalid}

	case f_wrap_d:
		x := node.args[0]
		node.satSize = satSizes{x.satSize.sat.plus(2, 1), empty}

	case f_wrap_j:
		x := node.args[0]
		node.satSize = satSizes{x.satSize.sat, empty}

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}

// computeExecStack infers a conservative bound on the stack depth added on
// top of the input elements while the fragment executes. It feeds the
// tapscript stack size limit together with the input element count.
func computeExecStack(node *Miniscript) error {
	maxArgs := 0
	for _, arg := range node.args {
		if arg.execStack > maxArgs {
			maxArgs = arg.execStack
		}
	}

	switch node.identifier {
	case f_0, f_1, f_older, f_after, f_ver_eq:
		node.execStack = 1

	case f_pk_k, f_sha256, f_hash256, f_ripemd160, f_hash160:
		node.execStack = 2

	case f_pk_h, f_multi_a:
		node.execStack = 3

	case f_outputs_pref:
		// The seven commitment elements are concatenated into a single
		// working element next to the picked commitment.
		node.execStack = introCommitElements + 2

	case f_multi:
		node.execStack = len(node.keys) + 3

	case f_andor, f_and_v, f_and_b, f_or_b, f_or_c, f_or_d, f_or_i:
		node.execStack = maxArgs + 1

	case f_thresh:
		node.execStack = maxArgs + 2

	case f_wrap_a, f_wrap_d, f_wrap_j:
		node.execStack = maxArgs + 1

	case f_wrap_s, f_wrap_c, f_wrap_v, f_wrap_n:
		node.execStack = maxArgs

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}
