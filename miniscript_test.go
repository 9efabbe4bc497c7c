package miniscript

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

// testKeys returns n deterministic private keys along with the hex notation
// of their compressed public keys.
func testKeys(n int) ([]*btcec.PrivateKey, []string) {
	privKeys := make([]*btcec.PrivateKey, n)
	pubKeys := make([]string, n)
	for i := 0; i < n; i++ {
		var seed [32]byte
		binary.BigEndian.PutUint16(seed[30:], uint16(i+1))
		privKey, pubKey := btcec.PrivKeyFromBytes(seed[:])
		privKeys[i] = privKey
		pubKeys[i] = hex.EncodeToString(pubKey.SerializeCompressed())
	}
	return privKeys, pubKeys
}

// testXOnlyKeys is testKeys for the x-only key format of tapscript.
func testXOnlyKeys(n int) ([]*btcec.PrivateKey, []string) {
	privKeys := make([]*btcec.PrivateKey, n)
	pubKeys := make([]string, n)
	for i := 0; i < n; i++ {
		var seed [32]byte
		binary.BigEndian.PutUint16(seed[30:], uint16(i+1))
		privKey, pubKey := btcec.PrivKeyFromBytes(seed[:])
		privKeys[i] = privKey
		pubKeys[i] = hex.EncodeToString(schnorr.SerializePubKey(pubKey))
	}
	return privKeys, pubKeys
}

func sortString(s string) string {
	r := []rune(s)
	sort.Slice(r, func(i, j int) bool {
		return r[i] < r[j]
	})
	return string(r)
}

// TestSplitString tests the splitString function.
func TestSplitString(t *testing.T) {
	separators := func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	}

	testCases := []struct {
		str      string
		expected []string
	}{
		{
			str:      "",
			expected: []string{},
		},
		{
			str:      "0",
			expected: []string{"0"},
		},
		{
			str:      "0)(1(",
			expected: []string{"0", ")", "(", "1", "("},
		},
		{
			str: "or_b(pk(key_1),s:pk(key_2))",
			expected: []string{
				"or_b", "(", "pk", "(", "key_1", ")", ",",
				"s:pk", "(", "key_2", ")", ")",
			},
		},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, splitString(tc.str, separators))
	}
}

// checkMiniscript parses the expression under the given context, makes sure
// it is valid at the top level, has the expected type and that the computed
// script length matches the actual script encoding.
func checkMiniscript(notation string, ctx Context, expectedType string) error {
	node, err := Parse(notation, ctx)
	if err != nil {
		return err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return err
	}
	if sortString(expectedType) != sortString(node.formattedType()) {
		return fmt.Errorf("expected type %s, got %s",
			sortString(expectedType),
			sortString(node.formattedType()))
	}

	script, err := node.Script()
	if err != nil {
		return err
	}
	if len(script) != node.scriptLen {
		return fmt.Errorf("expected script length %d but got %d for "+
			"script %s", node.scriptLen, len(script), node.DrawTree())
	}
	return nil
}

// TestTypes checks the inferred correctness and malleability type of every
// fragment against the expected letter string.
func TestTypes(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(3)
	_, xOnly := testXOnlyKeys(3)
	h20 := strings.Repeat("14", 20)
	h32 := strings.Repeat("15", 32)

	testCases := []struct {
		notation     string
		ctx          Context
		expectedType string
	}{
		// An unsatisfiable script is rejected by the standardness
		// rules of the spendable contexts, so 0 only types under
		// no-checks.
		{"0", ContextNoChecks, "Bzudmse"},
		{"1", ContextSegwitV0, "Bzumf"},
		{fmt.Sprintf("pk(%s)", keys[0]), ContextSegwitV0, "Bondumse"},
		{fmt.Sprintf("pkh(%s)", keys[0]), ContextSegwitV0, "Bndumse"},
		{"older(144)", ContextSegwitV0, "Bzmf"},
		{"after(500000)", ContextSegwitV0, "Bzmf"},
		{fmt.Sprintf("sha256(%s)", h32), ContextSegwitV0, "Bondum"},
		{fmt.Sprintf("hash256(%s)", h32), ContextSegwitV0, "Bondum"},
		{fmt.Sprintf("ripemd160(%s)", h20), ContextSegwitV0, "Bondum"},
		{fmt.Sprintf("hash160(%s)", h20), ContextSegwitV0, "Bondum"},
		{
			fmt.Sprintf("and_v(v:pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, "Bnumsf",
		},
		{
			fmt.Sprintf("and_b(pk(%s),a:pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, "Bndumse",
		},
		{
			fmt.Sprintf("and_n(pk(%s),older(144))", keys[0]),
			ContextSegwitV0, "Bodmse",
		},
		{
			fmt.Sprintf("andor(pk(%s),older(144),pk(%s))",
				keys[0], keys[1]),
			ContextSegwitV0, "Bdmse",
		},
		{
			fmt.Sprintf("or_b(pk(%s),s:pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, "Bdumse",
		},
		{
			fmt.Sprintf("or_d(pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, "Bdumse",
		},
		{
			fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, "Bdums",
		},
		{"or_i(older(4096),older(16))", ContextSegwitV0, "Bof"},
		{
			fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0, "Bdumse",
		},
		{
			fmt.Sprintf("multi(2,%s,%s,%s)", keys[0], keys[1], keys[2]),
			ContextSegwitV0, "Bndumse",
		},
		{"dv:older(144)", ContextSegwitV0, "Bondme"},
		{
			fmt.Sprintf("j:multi(2,%s,%s,%s)",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0, "Bndums",
		},
		{
			fmt.Sprintf("t:or_c(pk(%s),v:older(500))", keys[0]),
			ContextSegwitV0, "Boumf",
		},
		{fmt.Sprintf("u:hash256(%s)", h32), ContextSegwitV0, "Bdum"},
		{fmt.Sprintf("l:pk(%s)", keys[0]), ContextSegwitV0, "Bdums"},

		// Elements introspection fragments.
		{"ver_eq(2)", ContextSegwitV0, "Bzum"},
		{"outputs_pref(6a24aa21a9ed)", ContextSegwitV0, "Bdum"},
		{
			fmt.Sprintf("and_v(v:ver_eq(2),pk(%s))", keys[0]),
			ContextSegwitV0, "Bonums",
		},

		// Tapscript.
		{fmt.Sprintf("pk(%s)", xOnly[0]), ContextTap, "Bondumse"},
		{
			fmt.Sprintf("multi_a(2,%s,%s,%s)",
				xOnly[0], xOnly[1], xOnly[2]),
			ContextTap, "Bdumse",
		},
	}

	for _, tc := range testCases {
		require.NoErrorf(
			t, checkMiniscript(tc.notation, tc.ctx, tc.expectedType),
			"failure on %s under %v", tc.notation, tc.ctx,
		)
	}
}

// TestParseErrors checks that malformed or ill-typed expressions are
// rejected.
func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(3)
	h32 := strings.Repeat("15", 32)

	testCases := []string{
		"",
		"(",
		")",
		"pk()",
		"pk(xyz)",
		fmt.Sprintf("pk(%s))", keys[0]),
		fmt.Sprintf("or_b(pk(%s)", keys[0]),
		fmt.Sprintf("pk((%s))", keys[0]),
		"unknown(1)",
		fmt.Sprintf("pk(%s,%s)", keys[0], keys[1]),
		"older()",
		"older(0)",
		"older(2147483648)",
		"older(abc)",
		"older(-1)",
		fmt.Sprintf("older(%s)", keys[0]),
		"after(0)",
		fmt.Sprintf("thresh(0,pk(%s))", keys[0]),
		fmt.Sprintf("thresh(4,pk(%s),s:pk(%s),s:pk(%s))",
			keys[0], keys[1], keys[2]),
		fmt.Sprintf("thresh(2,older(1),s:pk(%s),s:pk(%s))",
			keys[0], keys[1]),
		fmt.Sprintf("and_v(v:pk(%s))", keys[0]),
		fmt.Sprintf("andor(pk(%s),older(1))", keys[0]),
		fmt.Sprintf("multi(2,%s)", keys[0]),
		fmt.Sprintf("multi(%s,%s)", keys[0], keys[1]),
		fmt.Sprintf("multi(1,%s)",
			strings.Repeat(keys[0]+",", 20)+keys[0]),
		"sha256(deadbeef)",
		fmt.Sprintf("hash160(%s)", h32),
		"ver_eq()",
		"ver_eq(4294967296)",
		"outputs_pref(zz)",
		"outputs_pref()",
		fmt.Sprintf("x:pk(%s)", keys[0]),
		"pk(d:older(1))",
		"older(older(1))",

		// Type errors.
		fmt.Sprintf("or_b(pk(%s),pk(%s))", keys[0], keys[1]),
		fmt.Sprintf("and_v(pk(%s),pk(%s))", keys[0], keys[1]),
		fmt.Sprintf("v:pk(%s)", keys[0]),
		fmt.Sprintf("s:pk(%s)", keys[0]),
		fmt.Sprintf("cc:pk_k(%s)", keys[0]),
		fmt.Sprintf("j:pk_h(%s)", keys[0]),
		fmt.Sprintf("s:pkh(%s)", keys[0]),
		fmt.Sprintf("d:v:pk(%s)", keys[0]),
	}

	for _, tc := range testCases {
		_, err := Parse(tc, ContextSegwitV0)
		require.Errorf(t, err, "expected a parse failure for %q", tc)
	}
}

// TestNotationRoundTrip parses canonical notations, checks that writing the
// tree reproduces them exactly and that a re-parse builds the same script.
func TestNotationRoundTrip(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(3)
	_, xOnly := testXOnlyKeys(3)
	h20 := strings.Repeat("14", 20)
	h32 := strings.Repeat("15", 32)

	testCases := []struct {
		notation string
		ctx      Context
	}{
		{fmt.Sprintf("pk(%s)", keys[0]), ContextSegwitV0},
		{fmt.Sprintf("pkh(%s)", keys[1]), ContextSegwitV0},
		{fmt.Sprintf("tv:pk(%s)", keys[0]), ContextSegwitV0},
		{fmt.Sprintf("l:pk(%s)", keys[0]), ContextSegwitV0},
		{fmt.Sprintf("u:hash256(%s)", h32), ContextSegwitV0},
		{"dv:older(144)", ContextSegwitV0},
		{fmt.Sprintf("sha256(%s)", h32), ContextSegwitV0},
		{fmt.Sprintf("ripemd160(%s)", h20), ContextSegwitV0},
		{
			fmt.Sprintf("and_v(v:pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("and_b(pk(%s),a:pk(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("and_n(pk(%s),older(144))", keys[0]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("andor(pk(%s),older(144),pk(%s))",
				keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("or_b(pk(%s),s:pk(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("or_d(pk(%s),pkh(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("t:or_c(pk(%s),v:older(500))", keys[0]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("thresh(2,pk(%s),s:pk(%s),s:pk(%s))",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("multi(2,%s,%s,%s)",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("j:multi(2,%s,%s,%s)",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("and_v(v:ver_eq(2),pk(%s))", keys[0]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("and_b(pk(%s),a:outputs_pref(6a))", keys[0]),
			ContextSegwitV0,
		},
		{fmt.Sprintf("pk(%s)", xOnly[0]), ContextTap},
		{
			fmt.Sprintf("multi_a(2,%s,%s,%s)",
				xOnly[0], xOnly[1], xOnly[2]),
			ContextTap,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.notation, tc.ctx)
		require.NoErrorf(t, err, "failed to parse %s", tc.notation)
		require.Equalf(t, tc.notation, node.String(),
			"notation of %s did not round trip", tc.notation)

		reparsed, err := Parse(node.String(), tc.ctx)
		require.NoErrorf(t, err, "failed to re-parse %s", node.String())

		script, err := node.Script()
		require.NoError(t, err)
		reparsedScript, err := reparsed.Script()
		require.NoError(t, err)
		require.Equalf(t, script, reparsedScript,
			"scripts diverged for %s", tc.notation)
	}
}

// TestComputeOpCount tests that MaxOpCount returns the correct number of
// operations.
func TestComputeOpCount(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(9)

	testCases := []struct {
		notation   string
		maxOpCount int
	}{
		{
			notation: fmt.Sprintf("or_i(multi(2,%s,%s,%s),"+
				"multi(3,%s,%s,%s,%s))",
				keys[0], keys[1], keys[2],
				keys[3], keys[4], keys[5], keys[6]),
			maxOpCount: 9,
		},
		{
			notation: fmt.Sprintf("thresh(2,or_i(multi(2,%s,%s,%s),"+
				"multi(3,%s,%s,%s,%s)),s:pk(%s),s:pk(%s))",
				keys[0], keys[1], keys[2],
				keys[3], keys[4], keys[5], keys[6],
				keys[7], keys[8]),
			maxOpCount: 16,
		},
		{
			notation: fmt.Sprintf("thresh(2,or_d(multi(2,%s,%s,%s),"+
				"multi(3,%s,%s,%s,%s)),s:pk(%s),s:pk(%s))",
				keys[0], keys[1], keys[2],
				keys[3], keys[4], keys[5], keys[6],
				keys[7], keys[8]),
			maxOpCount: 19,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.notation, ContextSegwitV0)
		require.NoError(t, err)
		require.Equalf(t, tc.maxOpCount, node.MaxOpCount(),
			"op count mismatch for %s", tc.notation)
	}
}

// TestSatisfactionCost checks the worst case satisfaction size and witness
// item bounds of common fragments.
func TestSatisfactionCost(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(3)
	_, xOnly := testXOnlyKeys(3)
	h32 := strings.Repeat("15", 32)

	testCases := []struct {
		notation     string
		ctx          Context
		maxSatSize   int
		witnessItems int
	}{
		// An ECDSA signature push costs at most 73 bytes, a key push
		// 34 and a preimage push 33.
		{fmt.Sprintf("pk(%s)", keys[0]), ContextSegwitV0, 73, 2},
		{fmt.Sprintf("pk(%s)", keys[0]), ContextLegacy, 73, 2},
		{fmt.Sprintf("pkh(%s)", keys[0]), ContextSegwitV0, 107, 3},
		{fmt.Sprintf("sha256(%s)", h32), ContextSegwitV0, 33, 2},
		{"older(144)", ContextSegwitV0, 0, 1},
		{
			fmt.Sprintf("and_v(v:pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, 146, 3,
		},
		{
			fmt.Sprintf("or_b(pk(%s),s:pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, 74, 3,
		},
		{
			fmt.Sprintf("or_d(pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0, 74, 3,
		},
		{
			fmt.Sprintf("multi(2,%s,%s,%s)",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0, 147, 4,
		},

		// Schnorr signature pushes cost at most 66 bytes.
		{fmt.Sprintf("pk(%s)", xOnly[0]), ContextTap, 66, 2},
		{
			fmt.Sprintf("multi_a(2,%s,%s,%s)",
				xOnly[0], xOnly[1], xOnly[2]),
			ContextTap, 133, 4,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.notation, tc.ctx)
		require.NoErrorf(t, err, "failed to parse %s", tc.notation)

		maxSatSize, err := node.MaxSatisfactionSize()
		require.NoError(t, err)
		require.Equalf(t, tc.maxSatSize, maxSatSize,
			"satisfaction size mismatch for %s under %v",
			tc.notation, tc.ctx)

		witnessItems, err := node.MaxWitnessItems()
		require.NoError(t, err)
		require.Equalf(t, tc.witnessItems, witnessItems,
			"witness item mismatch for %s under %v",
			tc.notation, tc.ctx)
	}
}

// TestIsSane checks the safety verdict of whole scripts, including the
// repeated key rule and the context specific malleability rules.
func TestIsSane(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(3)

	sane := []struct {
		notation string
		ctx      Context
	}{
		{fmt.Sprintf("pk(%s)", keys[0]), ContextSegwitV0},
		{fmt.Sprintf("pkh(%s)", keys[0]), ContextSegwitV0},
		{
			fmt.Sprintf("multi(2,%s,%s,%s)",
				keys[0], keys[1], keys[2]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("and_v(v:pk(%s),pk(%s))", keys[0], keys[1]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("andor(pk(%s),older(144),pk(%s))",
				keys[0], keys[1]),
			ContextSegwitV0,
		},
		{fmt.Sprintf("pk(%s)", keys[0]), ContextLegacy},
	}
	for _, tc := range sane {
		node, err := Parse(tc.notation, tc.ctx)
		require.NoError(t, err)
		require.NoErrorf(t, node.IsSane(),
			"%s under %v should be sane", tc.notation, tc.ctx)
	}

	insane := []struct {
		notation string
		ctx      Context
	}{
		// The same key twice makes both branches interchangeable.
		{
			fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[0]),
			ContextSegwitV0,
		},
		{
			fmt.Sprintf("or_b(pk(%s),a:pkh(%s))", keys[0], keys[0]),
			ContextSegwitV0,
		},

		// Anyone can satisfy a pure time lock.
		{"and_b(older(1),a:older(4096))", ContextSegwitV0},

		// No branch is guaranteed a non-malleable satisfaction.
		{"or_i(older(1),older(2))", ContextSegwitV0},

		// Legacy scriptSigs admit non-minimal pushes, so hash locked
		// keys and IF branches are mutation vectors there.
		{fmt.Sprintf("pkh(%s)", keys[0]), ContextLegacy},
		{
			fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[1]),
			ContextLegacy,
		},
		{"dv:older(144)", ContextLegacy},
	}
	for _, tc := range insane {
		node, err := Parse(tc.notation, tc.ctx)
		require.NoErrorf(t, err, "failed to parse %s", tc.notation)
		require.Errorf(t, node.IsSane(),
			"%s under %v should not be sane", tc.notation, tc.ctx)
	}

	// The legacy only rules carry their error codes.
	node, err := Parse(fmt.Sprintf("pkh(%s)", keys[0]), ContextLegacy)
	require.NoError(t, err)
	require.True(t, IsContextErrorCode(node.IsSane(), ErrMalleablePkH))

	node, err = Parse(
		fmt.Sprintf("or_i(pk(%s),pk(%s))", keys[0], keys[1]),
		ContextLegacy,
	)
	require.NoError(t, err)
	require.True(t, IsContextErrorCode(node.IsSane(), ErrMalleableOrI))
}

// TestNoChecksContext makes sure cost queries on no-checks trees fail loudly
// instead of returning numbers computed without a key format.
func TestNoChecksContext(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(1)

	node, err := Parse(fmt.Sprintf("pk(%s)", keys[0]), ContextNoChecks)
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = node.MaxSatisfactionSize()
	})
	require.Panics(t, func() {
		_, _ = node.MaxWitnessItems()
	})

	// Type inference still runs.
	require.Equal(t, "B", node.Type())
}

// TestDrawTree checks the debug rendering of a small tree.
func TestDrawTree(t *testing.T) {
	t.Parallel()

	_, keys := testKeys(2)

	node, err := Parse(
		fmt.Sprintf("or_b(pk(%s),s:pk(%s))", keys[0], keys[1]),
		ContextSegwitV0,
	)
	require.NoError(t, err)

	tree := node.DrawTree()
	require.Contains(t, tree, "or_b")
	require.Contains(t, tree, "pk_k")
	require.Contains(t, tree, keys[0])
	require.Contains(t, tree, keys[1])
}
