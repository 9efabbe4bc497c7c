package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type testSignFn func(pubKey []byte, hash []byte) (signature []byte,
	available bool)

// testRedeem creates a p2wsh UTXO paying to the script of the expression,
// then spends it with a witness produced by Satisfy and runs the spend
// through the script engine.
func testRedeem(t *testing.T, notation string, sequence uint32,
	sign testSignFn, preimage PreimageFunc) error {

	node, err := Parse(notation, ContextSegwitV0)
	if err != nil {
		return err
	}
	if err := node.IsSane(); err != nil {
		return err
	}

	witnessScript, err := node.Script()
	if err != nil {
		return err
	}
	t.Logf("script: %v", scriptStr(node, false))

	addr, err := btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(witnessScript), &chaincfg.TestNet3Params,
	)
	if err != nil {
		return err
	}
	utxoAmount := int64(999799)
	utxoPkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	// The test spend is a 1-input 1-output transaction paying to an
	// OP_RETURN burn output.
	burnPkScript, err := txscript.NullDataScript(nil)
	if err != nil {
		return err
	}
	txInput := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	txInput.Sequence = sequence

	transaction := wire.MsgTx{
		Version: 2,
		TxIn:    []*wire.TxIn{txInput},
		TxOut: []*wire.TxOut{{
			Value:    utxoAmount - 200,
			PkScript: burnPkScript,
		}},
		LockTime: 0,
	}

	// The previous output is signed as part of the input sighash, so the
	// fetcher has to return the UTXO being spent.
	inputIndex := 0
	previousOutputs := txscript.NewCannedPrevOutputFetcher(
		utxoPkScript, utxoAmount,
	)
	sigHashes := txscript.NewTxSigHashes(&transaction, previousOutputs)
	signatureHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, &transaction,
		inputIndex, utxoAmount,
	)
	if err != nil {
		return err
	}

	witness, err := node.Satisfy(&Satisfier{
		CheckOlder: func(lockTime uint32) (bool, error) {
			return CheckOlder(
				lockTime, uint32(transaction.Version),
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		CheckAfter: func(lockTime uint32) (bool, error) {
			return CheckAfter(
				lockTime, transaction.LockTime,
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			signature, available := sign(pubKey, signatureHash)
			if !available {
				return nil, false
			}
			signature = append(signature, byte(txscript.SigHashAll))
			return signature, true
		},
		Preimage: preimage,
	})
	if err != nil {
		return err
	}
	if err := ContextSegwitV0.CheckWitness(witness); err != nil {
		return err
	}
	// The script itself becomes the final witness element, so the produced
	// stack stays within the precomputed worst case bound.
	maxItems, err := node.MaxWitnessItems()
	if err != nil {
		return err
	}
	require.LessOrEqual(t, len(witness)+1, maxItems)

	transaction.TxIn[inputIndex].Witness = append(witness, witnessScript)
	engine, err := txscript.NewEngine(
		utxoPkScript, &transaction, inputIndex,
		txscript.StandardVerifyFlags, nil, sigHashes, utxoAmount,
		previousOutputs,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}

// TestRedeem spends p2wsh outputs generated from expressions, varying which
// keys and preimages the satisfier holds and the input sequence.
func TestRedeem(t *testing.T) {
	t.Parallel()

	privKeys, keys := testKeys(3)
	preimage := bytes.Repeat([]byte{0x11}, 32)
	sha256Hex := hex.EncodeToString(chainhash.HashB(preimage))
	hash160Hex := hex.EncodeToString(btcutil.Hash160(preimage))

	sign := func(signers []int) testSignFn {
		return func(pubKey []byte, hash []byte) ([]byte, bool) {
			for _, i := range signers {
				compressed := privKeys[i].PubKey().
					SerializeCompressed()
				if bytes.Equal(pubKey, compressed) {
					sig := ecdsa.Sign(privKeys[i], hash)
					return sig.Serialize(), true
				}
			}
			return nil, false
		}
	}

	havePreimage := func(has bool) PreimageFunc {
		return func(hashFunc string, hash []byte) ([]byte, bool) {
			if !has {
				return nil, false
			}
			switch hashFunc {
			case "sha256":
				h := chainhash.HashB(preimage)
				return preimage, bytes.Equal(hash, h)
			case "hash256":
				h := chainhash.DoubleHashB(preimage)
				return preimage, bytes.Equal(hash, h)
			case "hash160":
				h := btcutil.Hash160(preimage)
				return preimage, bytes.Equal(hash, h)
			}
			return nil, false
		}
	}

	multi23 := fmt.Sprintf("multi(2,%s,%s,%s)", keys[0], keys[1], keys[2])
	orD := fmt.Sprintf("or_d(pk(%s),pkh(%s))", keys[0], keys[1])
	orI := fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[1])
	recovery := fmt.Sprintf("andor(pk(%s),older(144),pk(%s))",
		keys[1], keys[0])
	sha256Lock := fmt.Sprintf("and_v(v:sha256(%s),pk(%s))",
		sha256Hex, keys[0])
	hash160Lock := fmt.Sprintf("and_v(v:hash160(%s),pk(%s))",
		hash160Hex, keys[1])
	thresh23 := fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))",
		keys[0], keys[1], keys[2])

	testCases := []struct {
		comment  string
		notation string
		valid    bool
		sequence uint32
		signers  []int
		preimage bool
	}{
		{
			comment:  "single key",
			notation: fmt.Sprintf("pk(%s)", keys[0]),
			valid:    true,
			signers:  []int{0},
		},
		{
			comment:  "single key, no signer",
			notation: fmt.Sprintf("pk(%s)", keys[0]),
			valid:    false,
		},
		{
			comment:  "key behind a hash",
			notation: fmt.Sprintf("pkh(%s)", keys[1]),
			valid:    true,
			signers:  []int{1},
		},
		{
			comment:  "2 of 3 multisig",
			notation: multi23,
			valid:    true,
			signers:  []int{0, 2},
		},
		{
			comment:  "2 of 3 multisig, one signer",
			notation: multi23,
			valid:    false,
			signers:  []int{1},
		},
		{
			comment:  "2 of 3 multisig, all signers available",
			notation: multi23,
			valid:    true,
			signers:  []int{0, 1, 2},
		},
		{
			comment: "both keys required",
			notation: fmt.Sprintf("and_v(v:pk(%s),pk(%s))",
				keys[0], keys[1]),
			valid:   true,
			signers: []int{0, 1},
		},
		{
			comment: "second key missing",
			notation: fmt.Sprintf("and_v(v:pk(%s),pk(%s))",
				keys[0], keys[1]),
			valid:   false,
			signers: []int{0},
		},
		{
			comment:  "or_d, primary key",
			notation: orD,
			valid:    true,
			signers:  []int{0},
		},
		{
			comment:  "or_d, fallback key",
			notation: orD,
			valid:    true,
			signers:  []int{1},
		},
		{
			comment:  "or_i, first branch",
			notation: orI,
			valid:    true,
			signers:  []int{0},
		},
		{
			comment:  "or_i, second branch",
			notation: orI,
			valid:    true,
			signers:  []int{1},
		},
		{
			comment:  "recovery key after the timeout",
			notation: recovery,
			valid:    true,
			sequence: 144,
			signers:  []int{1},
		},
		{
			comment:  "recovery key before the timeout",
			notation: recovery,
			valid:    false,
			sequence: 143,
			signers:  []int{1},
		},
		{
			comment:  "main key without waiting",
			notation: recovery,
			valid:    true,
			signers:  []int{0},
		},
		{
			comment:  "sha256 preimage plus key",
			notation: sha256Lock,
			valid:    true,
			signers:  []int{0},
			preimage: true,
		},
		{
			comment:  "sha256 preimage missing",
			notation: sha256Lock,
			valid:    false,
			signers:  []int{0},
		},
		{
			comment:  "hash160 preimage plus key",
			notation: hash160Lock,
			valid:    true,
			signers:  []int{1},
			preimage: true,
		},
		{
			comment:  "2 of 3 threshold of mixed checks",
			notation: thresh23,
			valid:    true,
			signers:  []int{0, 2},
		},
		{
			comment:  "threshold below k",
			notation: thresh23,
			valid:    false,
			signers:  []int{2},
		},
		{
			comment: "key reuse fails the sanity check",
			notation: fmt.Sprintf("or_b(pk(%s),s:pk(%s))",
				keys[0], keys[0]),
			valid:   false,
			signers: []int{0},
		},
	}

	for _, tc := range testCases {
		t.Logf("test case: %s", tc.comment)
		err := testRedeem(t, tc.notation, tc.sequence,
			sign(tc.signers), havePreimage(tc.preimage))
		if !tc.valid {
			require.Errorf(t, err, "comment: %s, notation: %s",
				tc.comment, tc.notation)
			continue
		}
		require.NoErrorf(t, err, "comment: %s, notation: %s",
			tc.comment, tc.notation)
	}
}

// TestSatisfyMultiA checks the witness layout of a CHECKSIGADD multisig: one
// item per key with the first key checking the last item.
func TestSatisfyMultiA(t *testing.T) {
	t.Parallel()

	privKeys, xOnly := testXOnlyKeys(3)

	notation := fmt.Sprintf("multi_a(2,%s,%s,%s)",
		xOnly[0], xOnly[1], xOnly[2])
	node, err := Parse(notation, ContextTap)
	require.NoError(t, err)

	sigHash := chainhash.HashB([]byte("multi_a signing vector"))
	sigs := make([][]byte, 3)
	for i, priv := range privKeys {
		sig, err := schnorr.Sign(priv, sigHash)
		require.NoError(t, err)
		sigs[i] = sig.Serialize()
	}

	witness, err := node.Satisfy(&Satisfier{
		Sign: func(pubKey []byte) ([]byte, bool) {
			for i, priv := range privKeys[:2] {
				serialized := schnorr.SerializePubKey(
					priv.PubKey())
				if bytes.Equal(pubKey, serialized) {
					return sigs[i], true
				}
			}
			return nil, false
		},
	})
	require.NoError(t, err)

	// One witness item per key in reverse key order, empty for the key
	// without a signature.
	require.Len(t, witness, 3)
	require.Empty(t, witness[0])
	require.Equal(t, sigs[1], witness[1])
	require.Equal(t, sigs[0], witness[2])
}

// TestSatisfyCovenants checks that the introspection fragments translate the
// covenant state into empty satisfactions or a failure.
func TestSatisfyCovenants(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(1)

	node, err := Parse("ver_eq(2)", ContextSegwitV0)
	require.NoError(t, err)

	witness, err := node.Satisfy(&Satisfier{
		CheckVerEq: func(version uint32) (bool, error) {
			require.Equal(t, uint32(2), version)
			return true, nil
		},
	})
	require.NoError(t, err)
	require.Empty(t, witness)

	_, err = node.Satisfy(&Satisfier{
		CheckVerEq: func(uint32) (bool, error) {
			return false, nil
		},
	})
	require.EqualError(t, err, "no satisfaction could be found")

	prefNode, err := Parse("outputs_pref(6a)", ContextSegwitV0)
	require.NoError(t, err)

	witness, err = prefNode.Satisfy(&Satisfier{
		CheckOutputsPref: func(prefix []byte) (bool, error) {
			require.Equal(t, []byte{txscript.OP_RETURN}, prefix)
			return true, nil
		},
	})
	require.NoError(t, err)
	require.Empty(t, witness)

	_, err = prefNode.Satisfy(&Satisfier{
		CheckOutputsPref: func([]byte) (bool, error) {
			return false, nil
		},
	})
	require.EqualError(t, err, "no satisfaction could be found")

	// Covenants combined with a key check leave only the signature in the
	// witness.
	combined := fmt.Sprintf(
		"and_v(v:ver_eq(2),and_v(v:outputs_pref(6a),pk(%s)))", keys[0])
	combinedNode, err := Parse(combined, ContextSegwitV0)
	require.NoError(t, err)

	witness, err = combinedNode.Satisfy(&Satisfier{
		CheckVerEq: func(uint32) (bool, error) { return true, nil },
		CheckOutputsPref: func([]byte) (bool, error) {
			return true, nil
		},
		Sign: func([]byte) ([]byte, bool) {
			return bytes.Repeat([]byte{0x01}, 71), true
		},
	})
	require.NoError(t, err)
	require.Len(t, witness, 1)
}

// TestSatisfyDecodedKeyHash checks that satisfying a key hash fragment from a
// decoded script fails while the key behind the hash is unknown.
func TestSatisfyDecodedKeyHash(t *testing.T) {
	t.Parallel()

	script, err := hex.DecodeString(
		"76a914" + strings.Repeat("22", 20) + "88ac")
	require.NoError(t, err)

	node, err := Decode(script, ContextLegacy)
	require.NoError(t, err)

	_, err = node.Satisfy(&Satisfier{
		Sign: func([]byte) ([]byte, bool) {
			return []byte{0x01}, true
		},
	})
	require.ErrorContains(t, err, "is not known")
}

// TestCheckOlder tests the BIP68 relative lock time predicate.
func TestCheckOlder(t *testing.T) {
	t.Parallel()

	// Block based locks against a block based sequence.
	require.True(t, CheckOlder(144, 2, 144))
	require.True(t, CheckOlder(144, 2, 200))
	require.False(t, CheckOlder(144, 2, 143))

	// OP_CHECKSEQUENCEVERIFY requires transaction version 2.
	require.False(t, CheckOlder(144, 1, 144))

	// A disabled sequence never satisfies.
	require.False(t, CheckOlder(144, 2, wire.SequenceLockTimeDisabled|144))

	// Time based locks only match time based sequences.
	timeLock := uint32(wire.SequenceLockTimeIsSeconds | 100)
	require.False(t, CheckOlder(timeLock, 2, 144))
	require.True(t, CheckOlder(
		timeLock, 2, wire.SequenceLockTimeIsSeconds|200))
}

// TestCheckAfter tests the BIP65 absolute lock time predicate.
func TestCheckAfter(t *testing.T) {
	t.Parallel()

	// Block height locks.
	require.True(t, CheckAfter(1000, 1000, 0))
	require.True(t, CheckAfter(1000, 1500, 0))
	require.False(t, CheckAfter(1000, 999, 0))

	// A final sequence disables OP_CHECKLOCKTIMEVERIFY.
	require.False(t, CheckAfter(1000, 1000, wire.MaxTxInSequenceNum))

	// Timestamp locks only match timestamp lock times.
	timeLock := uint32(txscript.LockTimeThreshold + 1)
	require.False(t, CheckAfter(timeLock, 1000, 0))
	require.True(t, CheckAfter(timeLock, timeLock+100, 0))
}
