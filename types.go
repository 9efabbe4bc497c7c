package miniscript

import (
	"strings"
)

// basicType is the base kind of a fragment's correctness type.  It describes
// what the fragment leaves on the evaluation stack on success and failure.
type basicType string

const (
	typeB basicType = "B"
	typeV basicType = "V"
	typeK basicType = "K"
	typeW basicType = "W"
)

type properties struct {
	// Basic type properties.
	z, o, n, d, u bool

	// Malleability properties.
	// If `m`, a non-malleable satisfaction is guaranteed to exist.
	// The purpose of s/f/e is only to compute `m` and can be disregarded
	// afterward.
	m, s, f, e bool

	// canCollapseVerify enables checking if the rightmost script byte
	// produced by this node is OP_EQUAL, OP_CHECKSIG, OP_CHECKMULTISIG or
	// OP_NUMEQUAL.
	//
	// If so, it can be converted into the VERIFY version if an ancestor is
	// the verify wrapper `v`, i.e. OP_EQUALVERIFY, OP_CHECKSIGVERIFY,
	// OP_CHECKMULTISIGVERIFY and OP_NUMEQUALVERIFY instead of using two
	// opcodes, e.g. `OP_EQUAL OP_VERIFY`.
	canCollapseVerify bool
}

func (p properties) String() string {
	s := strings.Builder{}
	if p.z {
		s.WriteRune('z')
	}
	if p.o {
		s.WriteRune('o')
	}
	if p.n {
		s.WriteRune('n')
	}
	if p.d {
		s.WriteRune('d')
	}
	if p.u {
		s.WriteRune('u')
	}
	if p.m {
		s.WriteRune('m')
	}
	if p.s {
		s.WriteRune('s')
	}
	if p.f {
		s.WriteRune('f')
	}
	if p.e {
		s.WriteRune('e')
	}
	return s.String()
}

// expectBasicType is a helper function to check that this node has a specific
// type.
func (m *Miniscript) expectBasicType(typ basicType) error {
	if m.basicType != typ {
		return typeError(m.identifier, "expression `%s` expected to "+
			"have type %s, but is type %s", m.identifier, typ,
			m.basicType)
	}
	return nil
}

// typeCheck infers the node's base kind and the z/o/n/d/u properties from its
// own shape and its children's already computed types.  Not all fragments
// compose with each other to produce a valid script and valid witness; the
// composition rules enforced here are what make a well-typed tree spendable.
// It is a pure function of the immediate children, which is what allows the
// decoder to run it once per reduction, bottom-up.
func typeCheck(node *Miniscript) error {
	switch node.identifier {
	case f_0:
		node.basicType = typeB
		node.props.z = true
		node.props.u = true
		node.props.d = true

	case f_1:
		node.basicType = typeB
		node.props.z = true
		node.props.u = true

	case f_pk_k:
		node.basicType = typeK
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_pk_h:
		node.basicType = typeK
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_older, f_after:
		if node.num < 1 || node.num >= 1<<31 {
			return typeError(node.identifier,
				"%s(n) -> n must 1 ≤ n < 2^31, but got: %d",
				node.identifier, node.num)
		}
		node.basicType = typeB
		node.props.z = true

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		node.basicType = typeB
		node.props.o = true
		node.props.n = true
		node.props.d = true
		node.props.u = true

	case f_ver_eq:
		// Whether the fragment evaluates to true depends only on the
		// transaction, never on the witness, so it is neither
		// dissatisfiable nor forced.
		node.basicType = typeB
		node.props.z = true
		node.props.u = true

	case f_outputs_pref:
		node.basicType = typeB
		node.props.d = true
		node.props.u = true

	case f_andor:
		_x, _y, _z := node.args[0], node.args[1], node.args[2]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.d || !_x.props.u {
			return typeError(node.identifier, "wrong properties on "+
				"`%s` in the first argument of `%s`",
				_x.identifier, node.identifier)
		}
		if _y.basicType != typeB && _y.basicType != typeK &&
			_y.basicType != typeV {

			return typeError(node.identifier, "in `%s`, the second "+
				"argument type is not B, K or V, but: %s",
				node.identifier, _y.basicType)
		}
		if _z.basicType != _y.basicType {
			return typeError(node.identifier, "in `%s`, the third "+
				"argument type is not the same as the type of "+
				"the second argument, which is: %s",
				node.identifier, _y.basicType)
		}
		node.basicType = _y.basicType
		node.props.z = _x.props.z && _y.props.z && _z.props.z
		node.props.o = (_x.props.z && _y.props.o && _z.props.o) ||
			(_x.props.o && _y.props.z && _z.props.z)
		node.props.u = _y.props.u && _z.props.u
		node.props.d = _z.props.d

	case f_and_v:
		_x, _y := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeV); err != nil {
			return err
		}
		if _y.basicType != typeB && _y.basicType != typeK &&
			_y.basicType != typeV {

			return typeError(node.identifier, "in `%s`, the second "+
				"argument type is not B, K or V, but: %s",
				node.identifier, _y.basicType)
		}
		node.basicType = _y.basicType
		node.props.z = _x.props.z && _y.props.z
		node.props.o = (_x.props.z && _y.props.o) ||
			(_y.props.z && _x.props.o)
		node.props.n = _x.props.n || (_x.props.z && _y.props.n)
		node.props.u = _y.props.u

	case f_and_b:
		_x, _y := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if err := _y.expectBasicType(typeW); err != nil {
			return err
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _y.props.z
		node.props.o = (_x.props.z && _y.props.o) ||
			(_y.props.z && _x.props.o)
		node.props.n = _x.props.n || (_x.props.z && _y.props.n)
		node.props.d = _x.props.d && _y.props.d
		node.props.u = true

	case f_or_b:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.d {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		if err := _z.expectBasicType(typeW); err != nil {
			return err
		}
		if !_z.props.d {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the second argument of `%s`",
				_z.identifier, node.identifier)
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _z.props.z
		node.props.o = (_x.props.z && _z.props.o) ||
			(_z.props.z && _x.props.o)
		node.props.d = true
		node.props.u = true

	case f_or_c:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.d || !_x.props.u {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		if err := _z.expectBasicType(typeV); err != nil {
			return err
		}
		node.basicType = typeV
		node.props.z = _x.props.z && _z.props.z
		node.props.o = _x.props.o && _z.props.z

	case f_or_d:
		_x, _z := node.args[0], node.args[1]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.d || !_x.props.u {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		if err := _z.expectBasicType(typeB); err != nil {
			return err
		}
		node.basicType = typeB
		node.props.z = _x.props.z && _z.props.z
		node.props.o = _x.props.o && _z.props.z
		node.props.d = _z.props.d
		node.props.u = _z.props.u

	case f_or_i:
		_x, _z := node.args[0], node.args[1]
		if _x.basicType != typeB && _x.basicType != typeK &&
			_x.basicType != typeV {

			return typeError(node.identifier,
				"or_i: wrong type of first argument")
		}
		if _z.basicType != _x.basicType {
			return typeError(node.identifier,
				"or_i: wrong type of second argument")
		}
		node.basicType = _x.basicType
		node.props.o = _x.props.z && _z.props.z
		node.props.u = _x.props.u && _z.props.u
		node.props.d = _x.props.d || _z.props.d

	case f_thresh:
		if node.num < 1 || node.num > uint64(len(node.args)) {
			return typeError(node.identifier,
				"%s(k) -> k must 1 ≤ k ≤ n, but got: %d",
				node.identifier, node.num)
		}
		// X1 is Bdu; others are Wdu.
		if err := node.args[0].expectBasicType(typeB); err != nil {
			return err
		}
		if !node.args[0].props.d || !node.args[0].props.u {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the first argument of `%s`",
				node.args[0].identifier, node.identifier)
		}
		for i := 1; i < len(node.args); i++ {
			arg := node.args[i]
			if err := arg.expectBasicType(typeW); err != nil {
				return err
			}
			if !arg.props.d || !arg.props.u {
				return typeError(node.identifier, "wrong "+
					"properties on `%s`, argument #%d of "+
					"`%s`", arg.identifier, i+1,
					node.identifier)
			}
		}

		node.basicType = typeB
		// z=all are z; o=all are z except one is o; d; u.
		node.props.z = true
		node.props.o = true
		for _, arg := range node.args {
			node.props.z = node.props.z && arg.props.z
			node.props.o = node.props.o && arg.props.z &&
				!(arg.props.o || arg.props.d || arg.props.u)
		}
		node.props.d = true
		node.props.u = true

	case f_multi, f_multi_a:
		if node.num < 1 || node.num > uint64(len(node.keys)) {
			return typeError(node.identifier,
				"%s(k) -> k must 1 ≤ k ≤ n, but got: %d",
				node.identifier, node.num)
		}
		node.basicType = typeB
		if node.identifier == f_multi {
			node.props.n = true
		}
		node.props.d = true
		node.props.u = true

	case f_wrap_a:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		node.basicType = typeW
		node.props.d = _x.props.d
		node.props.u = _x.props.u

	case f_wrap_s:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.o {
			return typeError(node.identifier, "wrong properties on "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		node.basicType = typeW
		node.props.d = _x.props.d
		node.props.u = _x.props.u

	case f_wrap_c:
		_x := node.args[0]
		if err := _x.expectBasicType(typeK); err != nil {
			return err
		}
		node.basicType = typeB
		node.props.o = _x.props.o
		node.props.n = _x.props.n
		node.props.d = _x.props.d
		node.props.u = true

	case f_wrap_d:
		_x := node.args[0]
		if err := _x.expectBasicType(typeV); err != nil {
			return err
		}
		if !_x.props.z {
			return typeError(node.identifier, "wrong property of "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		node.basicType = typeB
		node.props.o = true
		node.props.n = true
		node.props.d = true

	case f_wrap_v:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		node.basicType = typeV
		node.props.z = _x.props.z
		node.props.o = _x.props.o
		node.props.n = _x.props.n

	case f_wrap_j:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		if !_x.props.n {
			return typeError(node.identifier, "wrong property of "+
				"`%s`, the first argument of `%s`", _x.identifier,
				node.identifier)
		}
		node.basicType = typeB
		node.props.o = _x.props.o
		node.props.n = true
		node.props.d = true
		node.props.u = _x.props.u

	case f_wrap_n:
		_x := node.args[0]
		if err := _x.expectBasicType(typeB); err != nil {
			return err
		}
		node.basicType = typeB
		node.props.z = _x.props.z
		node.props.o = _x.props.o
		node.props.n = _x.props.n
		node.props.d = _x.props.d
		node.props.u = true

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}
	return nil
}

// malleabilityCheck infers the m/s/f/e properties, which track whether a
// non-malleable satisfaction is guaranteed to exist.
func malleabilityCheck(node *Miniscript) error {
	switch node.identifier {
	case f_0:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case f_1:
		node.props.m = true
		node.props.f = true

	case f_pk_k, f_pk_h:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case f_older, f_after:
		node.props.m = true
		node.props.f = true

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		node.props.m = true

	case f_ver_eq:
		node.props.m = true

	case f_outputs_pref:
		node.props.m = true

	case f_andor:
		_x, _y := node.args[0].props, node.args[1].props
		_z := node.args[2].props
		node.props.m = _x.m && _y.m && _z.m &&
			(_x.e && (_x.s || _y.s || _z.s))
		node.props.s = _z.s && (_x.s || _y.s)
		node.props.f = _z.f && (_x.s || _y.f)
		node.props.e = _z.e && (_x.s || _y.f)

	case f_and_v:
		_x, _y := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _y.m
		node.props.s = _x.s || _y.s
		node.props.f = _x.s || _y.f

	case f_and_b:
		_x, _y := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _y.m
		node.props.s = _x.s || _y.s
		node.props.f = _x.f && _y.f || _x.s && _x.f || _y.s && _y.f
		node.props.e = _x.e && _y.e && _x.s && _y.s

	case f_or_b:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && _z.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.e = true

	case f_or_c:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.f = true

	case f_or_d:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.e && (_x.s || _z.s))
		node.props.s = _x.s && _z.s
		node.props.f = _z.f
		node.props.e = _z.e

	case f_or_i:
		_x, _z := node.args[0].props, node.args[1].props
		node.props.m = _x.m && _z.m && (_x.s || _z.s)
		node.props.s = _x.s && _z.s
		node.props.f = _x.f && _z.f
		node.props.e = _x.e && _z.f || _z.e && _x.f

	case f_thresh:
		k := node.num
		notSCount := 0
		node.props.m = true
		for _, arg := range node.args {
			node.props.m = node.props.m && arg.props.m && arg.props.e
			if !arg.props.s {
				notSCount++
			}
		}
		node.props.m = node.props.m && uint64(notSCount) <= k
		node.props.s = uint64(notSCount) <= k-1
		node.props.e = true
		for _, arg := range node.args {
			node.props.e = node.props.e && arg.props.e && arg.props.s
		}

	case f_multi, f_multi_a:
		node.props.m = true
		node.props.s = true
		node.props.e = true

	case f_wrap_a, f_wrap_s:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = _x.f
		node.props.e = _x.e

	case f_wrap_c:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = true
		node.props.f = _x.f
		node.props.e = _x.e

	case f_wrap_d:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.e = true

	case f_wrap_v:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = true

	case f_wrap_j:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.e = _x.f

	case f_wrap_n:
		_x := node.args[0].props
		node.props.m = _x.m
		node.props.s = _x.s
		node.props.f = _x.f
		node.props.e = _x.e

	default:
		return typeError(node.identifier, "unknown identifier: %s",
			node.identifier)
	}

	return nil
}

// canCollapseVerify marks nodes whose rightmost script byte is OP_EQUAL,
// OP_CHECKSIG, OP_CHECKMULTISIG or OP_NUMEQUAL, so that an enclosing verify
// wrapper can use the combined VERIFY form of the opcode.
func canCollapseVerify(node *Miniscript) {
	switch node.identifier {
	case f_sha256, f_ripemd160, f_hash256, f_hash160, f_thresh, f_multi,
		f_multi_a, f_ver_eq, f_outputs_pref, f_wrap_c:

		node.props.canCollapseVerify = true

	case f_and_v:
		node.props.canCollapseVerify = node.args[1].props.canCollapseVerify

	case f_wrap_s:
		node.props.canCollapseVerify = node.args[0].props.canCollapseVerify
	}
}
