package miniscript

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// Script creates the script encoding of a miniscript tree.
func (m *Miniscript) Script() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if err := buildScript(m, b, false); err != nil {
		return nil, err
	}
	return b.Script()
}

// pkHash returns the key hash a pk_h fragment commits to.  Scripts only
// carry the hash, so decoded trees store it directly; parsed trees store the
// key and hash it here.
func (m *Miniscript) pkHash() ([]byte, error) {
	if m.key != nil {
		return m.key.Hash160(), nil
	}
	if m.value == nil {
		return nil, fmt.Errorf("no key and no key hash for %s",
			m.identifier)
	}
	return m.value, nil
}

// rawDataPush returns a canonical data push of the given bytes as raw script
// opcodes.  ScriptBuilder rewrites empty and single byte pushes into small
// integer opcodes where one exists; the covenant prefix slot needs an actual
// push whatever the value, so its opcodes are built directly.
func rawDataPush(data []byte) []byte {
	n := len(data)
	out := make([]byte, 0, n+5)
	switch {
	case n < txscript.OP_PUSHDATA1:
		out = append(out, byte(n))
	case n <= 0xff:
		out = append(out, txscript.OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(n))
		out = append(out, txscript.OP_PUSHDATA2)
		out = append(out, buf[:]...)
	default:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		out = append(out, txscript.OP_PUSHDATA4)
		out = append(out, buf[:]...)
	}
	return append(out, data...)
}

// buildScript builds the script from the tree. collapseVerify is true if the
// `v` wrapper (VERIFY wrapper) is an ancestor of the node. If so, the two
// opcodes `OP_CHECKSIG VERIFY` can be collapsed into one opcode
// `OP_CHECKSIGVERIFY` (same for OP_EQUAL, OP_NUMEQUAL and
// OP_CHECKMULTISIG).
func buildScript(node *Miniscript, b *txscript.ScriptBuilder,
	collapseVerify bool) error {

	collapse := node.props.canCollapseVerify && collapseVerify

	switch node.identifier {
	case f_0:
		b.AddOp(txscript.OP_FALSE)

	case f_1:
		b.AddOp(txscript.OP_TRUE)

	case f_pk_k:
		if node.key == nil {
			return fmt.Errorf("no key for %s", node.identifier)
		}
		b.AddData(node.key.Serialize())

	case f_pk_h:
		hash, err := node.pkHash()
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_HASH160)
		b.AddData(hash)
		b.AddOp(txscript.OP_EQUALVERIFY)

	case f_older:
		b.AddInt64(int64(node.num))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case f_after:
		b.AddInt64(int64(node.num))
		b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		hashOp := map[string]byte{
			f_sha256:    txscript.OP_SHA256,
			f_hash256:   txscript.OP_HASH256,
			f_ripemd160: txscript.OP_RIPEMD160,
			f_hash160:   txscript.OP_HASH160,
		}[node.identifier]

		if node.value == nil {
			return fmt.Errorf("hash value empty for %s",
				node.identifier)
		}
		b.AddOp(txscript.OP_SIZE)
		b.AddInt64(32)
		b.AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(hashOp)
		b.AddData(node.value)
		if collapse {
			b.AddOp(txscript.OP_EQUALVERIFY)
		} else {
			b.AddOp(txscript.OP_EQUAL)
		}

	case f_andor:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		err = buildScript(node.args[2], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_and_v:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}

	case f_and_b:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLAND)

	case f_or_b:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLOR)

	case f_or_c:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_or_d:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_IFDUP)
		b.AddOp(txscript.OP_NOTIF)
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_or_i:
		b.AddOp(txscript.OP_IF)
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		err = buildScript(node.args[1], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_thresh:
		for i, arg := range node.args {
			err := buildScript(arg, b, collapseVerify)
			if err != nil {
				return err
			}
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(node.num))
		if collapse {
			b.AddOp(txscript.OP_EQUALVERIFY)
		} else {
			b.AddOp(txscript.OP_EQUAL)
		}

	case f_multi:
		b.AddInt64(int64(node.num))
		for _, key := range node.keys {
			b.AddData(key.Serialize())
		}
		b.AddInt64(int64(len(node.keys)))
		if collapse {
			b.AddOp(txscript.OP_CHECKMULTISIGVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKMULTISIG)
		}

	case f_multi_a:
		for i, key := range node.keys {
			b.AddData(key.Serialize())
			if i == 0 {
				b.AddOp(txscript.OP_CHECKSIG)
			} else {
				b.AddOp(txscript.OP_CHECKSIGADD)
			}
		}
		b.AddInt64(int64(node.num))
		if collapse {
			b.AddOp(txscript.OP_NUMEQUALVERIFY)
		} else {
			b.AddOp(txscript.OP_NUMEQUAL)
		}

	case f_ver_eq:
		var ver [4]byte
		binary.LittleEndian.PutUint32(ver[:], uint32(node.num))
		b.AddOp(txscript.OP_DEPTH)
		b.AddInt64(12)
		b.AddOp(txscript.OP_SUB)
		b.AddOp(txscript.OP_PICK)
		b.AddFullData(ver[:])
		if collapse {
			b.AddOp(txscript.OP_EQUALVERIFY)
		} else {
			b.AddOp(txscript.OP_EQUAL)
		}

	case f_outputs_pref:
		if node.value == nil {
			return fmt.Errorf("prefix value empty for %s",
				node.identifier)
		}
		for i := 0; i < 6; i++ {
			b.AddOp(txscript.OP_CAT)
		}
		b.AddOps(rawDataPush(node.value))
		b.AddOp(txscript.OP_SWAP)
		b.AddOp(txscript.OP_CAT)
		b.AddOp(txscript.OP_HASH256)
		b.AddOp(txscript.OP_DEPTH)
		b.AddInt64(4)
		b.AddOp(txscript.OP_SUB)
		b.AddOp(txscript.OP_PICK)
		if collapse {
			b.AddOp(txscript.OP_EQUALVERIFY)
		} else {
			b.AddOp(txscript.OP_EQUAL)
		}

	case f_ext:
		if err := node.ext.PushScript(b); err != nil {
			return err
		}

	case f_wrap_a:
		b.AddOp(txscript.OP_TOALTSTACK)
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_FROMALTSTACK)

	case f_wrap_s:
		b.AddOp(txscript.OP_SWAP)
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}

	case f_wrap_c:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		if collapse {
			b.AddOp(txscript.OP_CHECKSIGVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKSIG)
		}

	case f_wrap_d:
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_IF)
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_wrap_v:
		if err := buildScript(node.args[0], b, true); err != nil {
			return err
		}
		if !node.args[0].props.canCollapseVerify {
			b.AddOp(txscript.OP_VERIFY)
		}

	case f_wrap_j:
		b.AddOp(txscript.OP_SIZE)
		b.AddOp(txscript.OP_0NOTEQUAL)
		b.AddOp(txscript.OP_IF)
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case f_wrap_n:
		err := buildScript(node.args[0], b, collapseVerify)
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_0NOTEQUAL)

	default:
		return fmt.Errorf("unknown identifier: %s", node.identifier)
	}

	return nil
}

// ScriptString returns a human-readable version of the script encoding for
// debugging purposes.
func (m *Miniscript) ScriptString() string {
	return scriptStr(m, false)
}

// scriptStr outputs a human-readable version of the script. collapseVerify
// is true if the `v` wrapper (VERIFY wrapper) is an ancestor of the node. If
// so, the two opcodes `OP_CHECKSIG VERIFY` can be collapsed into one opcode
// `OP_CHECKSIGVERIFY` (same for OP_EQUAL, OP_NUMEQUAL and
// OP_CHECKMULTISIG).
func scriptStr(node *Miniscript, collapseVerify bool) string {
	collapse := node.props.canCollapseVerify && collapseVerify

	switch node.identifier {
	case f_0, f_1:
		return node.identifier

	case f_pk_k:
		return fmt.Sprintf("<%x>", node.key.Serialize())

	case f_pk_h:
		hash, err := node.pkHash()
		if err != nil {
			return "<unknown>"
		}
		return fmt.Sprintf("DUP HASH160 <%x> EQUALVERIFY", hash)

	case f_older:
		return fmt.Sprintf("<%d> CHECKSEQUENCEVERIFY", node.num)

	case f_after:
		return fmt.Sprintf("<%d> CHECKLOCKTIMEVERIFY", node.num)

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		opVerify := "EQUAL"
		if collapse {
			opVerify = "EQUALVERIFY"
		}
		return fmt.Sprintf("SIZE <32> EQUALVERIFY %s <%x> %s",
			strings.ToUpper(node.identifier), node.value, opVerify)

	case f_andor:
		return fmt.Sprintf("%s NOTIF %s ELSE %s ENDIF",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[2], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_and_v:
		return fmt.Sprintf("%s %s",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_and_b:
		return fmt.Sprintf("%s %s BOOLAND",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_or_b:
		return fmt.Sprintf("%s %s BOOLOR",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_or_c:
		return fmt.Sprintf("%s NOTIF %s ENDIF",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_or_d:
		return fmt.Sprintf("%s IFDUP NOTIF %s ENDIF",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_or_i:
		return fmt.Sprintf("IF %s ELSE %s ENDIF",
			scriptStr(node.args[0], collapseVerify),
			scriptStr(node.args[1], collapseVerify))

	case f_thresh:
		var s []string
		for i, arg := range node.args {
			s = append(s, scriptStr(arg, collapseVerify))
			if i > 0 {
				s = append(s, "ADD")
			}
		}
		opVerify := "EQUAL"
		if collapse {
			opVerify = "EQUALVERIFY"
		}
		s = append(s, fmt.Sprint(node.num), opVerify)
		return strings.Join(s, " ")

	case f_multi:
		s := []string{fmt.Sprint(node.num)}
		for _, key := range node.keys {
			s = append(s, fmt.Sprintf("<%x>", key.Serialize()))
		}
		opVerify := "CHECKMULTISIG"
		if collapse {
			opVerify = "CHECKMULTISIGVERIFY"
		}
		s = append(s, fmt.Sprint(len(node.keys)), opVerify)
		return strings.Join(s, " ")

	case f_multi_a:
		var s []string
		for i, key := range node.keys {
			s = append(s, fmt.Sprintf("<%x>", key.Serialize()))
			if i == 0 {
				s = append(s, "CHECKSIG")
			} else {
				s = append(s, "CHECKSIGADD")
			}
		}
		opVerify := "NUMEQUAL"
		if collapse {
			opVerify = "NUMEQUALVERIFY"
		}
		s = append(s, fmt.Sprint(node.num), opVerify)
		return strings.Join(s, " ")

	case f_ver_eq:
		var ver [4]byte
		binary.LittleEndian.PutUint32(ver[:], uint32(node.num))
		opVerify := "EQUAL"
		if collapse {
			opVerify = "EQUALVERIFY"
		}
		return fmt.Sprintf("DEPTH <12> SUB PICK <%x> %s", ver,
			opVerify)

	case f_outputs_pref:
		opVerify := "EQUAL"
		if collapse {
			opVerify = "EQUALVERIFY"
		}
		return fmt.Sprintf("CAT CAT CAT CAT CAT CAT <%x> SWAP CAT "+
			"HASH256 DEPTH <4> SUB PICK %s", node.value, opVerify)

	case f_ext:
		return node.ext.String()

	case f_wrap_a:
		return fmt.Sprintf("TOALTSTACK %s FROMALTSTACK",
			scriptStr(node.args[0], collapseVerify))

	case f_wrap_s:
		return fmt.Sprintf("SWAP %s",
			scriptStr(node.args[0], collapseVerify))

	case f_wrap_c:
		opVerify := "CHECKSIG"
		if collapse {
			opVerify = "CHECKSIGVERIFY"
		}
		return fmt.Sprintf("%s %s",
			scriptStr(node.args[0], collapseVerify), opVerify)

	case f_wrap_d:
		return fmt.Sprintf("DUP IF %s ENDIF",
			scriptStr(node.args[0], collapseVerify))

	case f_wrap_v:
		s := scriptStr(node.args[0], true)
		if !node.args[0].props.canCollapseVerify {
			s += " VERIFY"
		}
		return s

	case f_wrap_j:
		return fmt.Sprintf("SIZE 0NOTEQUAL IF %s ENDIF",
			scriptStr(node.args[0], collapseVerify))

	case f_wrap_n:
		return fmt.Sprintf("%s 0NOTEQUAL",
			scriptStr(node.args[0], collapseVerify))

	default:
		return "<unknown>"
	}
}
