package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parse a miniscript expression for the given context.  The resulting tree
// went through the same annotation pipeline and context rule set as a
// decoded script: Decode(Script()) of a parsed expression reproduces it.
//
// The following transformations are applied to the tree in order:
//  1. bindArgs: Checks that the nodes have the correct number of arguments
//     and converts the key, hash and number arguments into their binary
//     form, e.g. the hex encoded key of pk_k(key) is parsed into a key.
//  2. expandWrappers: Unwraps the letters before the colon, for example:
//     dv:older(144) is d(v(older(144))).
//  3. deSugar: Miniscript defines six instances of syntactic sugar. We
//     replace these with fixed equations.
//  4. computeProperties, bottom-up per node: type check, malleability
//     check, script length, op count, stack size and satisfaction size
//     bounds, and the context rules of ctx.
func Parse(notation string, ctx Context) (*Miniscript, error) {
	return ParseWithFlags(notation, ctx, 0)
}

// ParseWithFlags is Parse with some validation tiers switched off.
// Consensus rules always apply; flags only control policy level checks.
func ParseWithFlags(notation string, ctx Context,
	flags ValidationFlags) (*Miniscript, error) {

	if !ctx.Valid() {
		return nil, AssertError(fmt.Sprintf("unknown miniscript "+
			"context %d", ctx))
	}
	node, err := createAST(notation)
	if err != nil {
		return nil, err
	}
	node, err = bindArgs(node)
	if err != nil {
		return nil, err
	}

	transformers := []func(*Miniscript) (*Miniscript, error){
		expandWrappers,
		deSugar,
	}
	for _, transform := range transformers {
		node, err = node.apply(transform)
		if err != nil {
			return nil, err
		}
	}

	_, err = node.apply(func(n *Miniscript) (*Miniscript, error) {
		if err := computeProperties(n, ctx, flags); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkTopLevel(node, ctx, flags); err != nil {
		return nil, err
	}
	log.Tracef("parsed %v expression %s", ctx, node)
	return node, nil
}

type stack struct {
	elements []*Miniscript
}

func (s *stack) push(element *Miniscript) {
	s.elements = append(s.elements, element)
}

func (s *stack) pop() *Miniscript {
	if len(s.elements) == 0 {
		return nil
	}
	top := s.elements[len(s.elements)-1]
	s.elements = s.elements[:len(s.elements)-1]
	return top
}

func (s *stack) top() *Miniscript {
	if len(s.elements) == 0 {
		return nil
	}
	return s.elements[len(s.elements)-1]
}

func (s *stack) size() int {
	return len(s.elements)
}

// splitString splits a string into substrings and keeps each separator as
// its own slice element, dropping empty elements.
func splitString(s string, isSeparator func(c rune) bool) []string {
	substrings := make([]string, 0)

	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			substrings = append(substrings, s[i:])
			return substrings
		}
		j += i

		if j > i {
			substrings = append(substrings, s[i:j])
		}

		// Append the separator as a separate element.
		substrings = append(substrings, s[j:j+1])
		i = j + 1
	}
	return substrings
}

func createAST(notation string) (*Miniscript, error) {
	tokens := splitString(notation, func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	})

	if len(tokens) > 0 {
		first, last := tokens[0], tokens[len(tokens)-1]
		if first == "(" || first == ")" || first == "," ||
			last == "(" || last == "," {

			return nil, errors.New("invalid first or last " +
				"character")
		}
	}

	// Build the abstract syntax tree.
	var stack stack
	for i, token := range tokens {
		switch token {
		case "(":
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "((", ")(", ",(".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ")" ||
				tokens[i-1] == ",") {

				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

		case ",", ")":
			// End of a function argument - take the argument and
			// add it to the parent's argument list. If there is no
			// parent, the expression is unbalanced, e.g. `f(X))`.
			//
			// Exclude invalid sequences, which cannot appear in
			// valid miniscripts: "(,", "()", ",,", ",)".
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, errors.New("unbalanced")
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, fmt.Errorf("the sequence %s%s is "+
					"invalid", tokens[i-1], token)
			}

			// Split wrappers from identifier if they exist, e.g.
			// in "dv:older", "dv" are wrappers and "older" is the
			// identifier.
			var (
				parts                = strings.Split(token, ":")
				wrappers, identifier string
			)
			if len(parts) == 1 {
				// No colon => Only an identifier.
				identifier = parts[0]
			} else if len(parts) == 2 {
				wrappers, identifier = parts[0], parts[1]

				if wrappers == "" {
					return nil, fmt.Errorf("no wrappers "+
						"found before colon before "+
						"identifier: %s", identifier)
				} else if identifier == "" {
					return nil, fmt.Errorf("no identifier "+
						"found after colon after "+
						"wrappers: %s", wrappers)
				}
			} else {
				return nil, fmt.Errorf("invalid number of "+
					"colons in token: %s", token)
			}

			stack.push(&Miniscript{
				wrappers:   wrappers,
				identifier: identifier,
			})
		}
	}

	if stack.size() != 1 {
		return nil, errors.New("unbalanced")
	}

	return stack.top(), nil
}

// leafText extracts the raw text of a payload argument, the key, hash and
// number positions that do not hold subexpressions.
func leafText(parent, arg *Miniscript) (string, error) {
	if len(arg.args) > 0 {
		return "", fmt.Errorf("argument of %s must not contain "+
			"subexpressions", parent.identifier)
	}
	if arg.wrappers != "" {
		return "", fmt.Errorf("argument of %s must not carry "+
			"wrappers", parent.identifier)
	}
	return arg.identifier, nil
}

func parseLeafUint(parent, arg *Miniscript, bits int) (uint64, error) {
	text, err := leafText(parent, arg)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(text, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%s(k) => k must be an unsigned "+
			"integer, but got: %s", parent.identifier, text)
	}
	return n, nil
}

func parseLeafKey(parent, arg *Miniscript) (*PublicKey, error) {
	text, err := leafText(parent, arg)
	if err != nil {
		return nil, err
	}
	key, err := ParsePublicKeyHex(text)
	if err != nil {
		return nil, fmt.Errorf("key argument of %s: %v",
			parent.identifier, err)
	}
	return key, nil
}

func parseLeafHex(parent, arg *Miniscript, wantLen int) ([]byte, error) {
	text, err := leafText(parent, arg)
	if err != nil {
		return nil, err
	}
	value, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("argument of %s must be hex: %v",
			parent.identifier, err)
	}
	if wantLen >= 0 && len(value) != wantLen {
		return nil, fmt.Errorf("%s len must be %d, got %d",
			parent.identifier, wantLen, len(value))
	}
	return value, nil
}

// bindArgs checks that each identifier is a known miniscript identifier
// with the correct number of arguments, e.g. `andor(X,Y,Z)` must have three
// arguments, and converts the key, hash and number arguments into the
// node's payload, so that afterwards args holds subexpressions only.
func bindArgs(node *Miniscript) (*Miniscript, error) {
	expectArgs := func(num int) error {
		if len(node.args) != num {
			return fmt.Errorf("%s expects %d arguments, got %d",
				node.identifier, num, len(node.args))
		}
		return nil
	}

	switch node.identifier {
	case f_0, f_1:
		if err := expectArgs(0); err != nil {
			return nil, err
		}

	case f_pk_k, f_pk:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		key, err := parseLeafKey(node, node.args[0])
		if err != nil {
			return nil, err
		}
		node.key = key
		node.args = nil

	case f_pk_h, f_pkh:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		// Both a key and a 20 byte key hash are accepted: decoded
		// scripts only reveal the hash.
		text, err := leafText(node, node.args[0])
		if err != nil {
			return nil, err
		}
		if len(text) == 2*20 {
			hash, err := parseLeafHex(node, node.args[0], 20)
			if err != nil {
				return nil, err
			}
			node.value = hash
		} else {
			key, err := parseLeafKey(node, node.args[0])
			if err != nil {
				return nil, err
			}
			node.key = key
		}
		node.args = nil

	case f_sha256, f_hash256:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		value, err := parseLeafHex(node, node.args[0], 32)
		if err != nil {
			return nil, err
		}
		node.value = value
		node.args = nil

	case f_ripemd160, f_hash160:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		value, err := parseLeafHex(node, node.args[0], 20)
		if err != nil {
			return nil, err
		}
		node.value = value
		node.args = nil

	case f_older, f_after:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		n, err := parseLeafUint(node, node.args[0], 64)
		if err != nil {
			return nil, err
		}
		if n < 1 || n >= (1<<31) {
			return nil, fmt.Errorf("%s(n) -> n must 1 ≤ n < "+
				"2^31, but got: %d", node.identifier, n)
		}
		node.num = n
		node.args = nil

	case f_ver_eq:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		n, err := parseLeafUint(node, node.args[0], 32)
		if err != nil {
			return nil, err
		}
		node.num = n
		node.args = nil

	case f_outputs_pref:
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		value, err := parseLeafHex(node, node.args[0], -1)
		if err != nil {
			return nil, err
		}
		if len(value) == 0 {
			return nil, fmt.Errorf("%s prefix must not be empty",
				node.identifier)
		}
		node.value = value
		node.args = nil

	case f_andor:
		if err := expectArgs(3); err != nil {
			return nil, err
		}

	case f_and_v, f_and_b, f_and_n, f_or_b, f_or_c, f_or_d, f_or_i:
		if err := expectArgs(2); err != nil {
			return nil, err
		}

	case f_thresh:
		if len(node.args) < 2 {
			return nil, fmt.Errorf("%s must have at least two "+
				"arguments", node.identifier)
		}
		k, err := parseLeafUint(node, node.args[0], 64)
		if err != nil {
			return nil, err
		}
		numSubs := len(node.args) - 1
		if k < 1 || k > uint64(numSubs) {
			return nil, fmt.Errorf("%s(k) -> k must 1 ≤ k ≤ n, "+
				"but got: %d", node.identifier, k)
		}
		node.num = k
		node.args = node.args[1:]

	case f_multi, f_multi_a:
		if len(node.args) < 2 {
			return nil, fmt.Errorf("%s must have at least two "+
				"arguments", node.identifier)
		}
		k, err := parseLeafUint(node, node.args[0], 64)
		if err != nil {
			return nil, err
		}
		numKeys := len(node.args) - 1
		if k < 1 || k > uint64(numKeys) {
			return nil, fmt.Errorf("%s(k) -> k must 1 ≤ k ≤ n, "+
				"but got: %d", node.identifier, k)
		}
		if node.identifier == f_multi && numKeys > multisigMaxKeys {
			return nil, fmt.Errorf("number of multisig keys "+
				"cannot exceed %d", multisigMaxKeys)
		}
		keys := make([]*PublicKey, 0, numKeys)
		for _, arg := range node.args[1:] {
			key, err := parseLeafKey(node, arg)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		node.num = k
		node.keys = keys
		node.args = nil

	default:
		return nil, fmt.Errorf("unrecognized identifier: %s",
			node.identifier)
	}

	for i, arg := range node.args {
		newArg, err := bindArgs(arg)
		if err != nil {
			return nil, err
		}
		node.args[i] = newArg
	}
	return node, nil
}

// expandWrappers applies wrappers (the characters before a colon), e.g.
// `ascd:X` => `a(s(c(d(X))))`.
func expandWrappers(node *Miniscript) (*Miniscript, error) {
	const allWrappers = "asctdvjnlu"

	wrappers := []rune(node.wrappers)
	node.wrappers = ""
	for i := len(wrappers) - 1; i >= 0; i-- {
		wrapper := wrappers[i]
		if !strings.ContainsRune(allWrappers, wrapper) {
			return nil, fmt.Errorf("unknown wrapper: %s",
				string(wrapper))
		}
		node = &Miniscript{
			identifier: string(wrapper),
			args:       []*Miniscript{node},
		}
	}
	return node, nil
}

// deSugar replaces syntactic sugar with the final form.
func deSugar(node *Miniscript) (*Miniscript, error) {
	switch node.identifier {
	case f_pk: // pk(key) = c:pk_k(key)
		return &Miniscript{
			identifier: f_wrap_c,
			args: []*Miniscript{
				{
					identifier: f_pk_k,
					key:        node.key,
				},
			},
		}, nil

	case f_pkh: // pkh(key) = c:pk_h(key)
		return &Miniscript{
			identifier: f_wrap_c,
			args: []*Miniscript{
				{
					identifier: f_pk_h,
					key:        node.key,
					value:      node.value,
				},
			},
		}, nil

	case f_and_n: // and_n(X,Y) = andor(X,Y,0)
		return &Miniscript{
			identifier: f_andor,
			args: []*Miniscript{
				node.args[0],
				node.args[1],
				{identifier: f_0},
			},
		}, nil

	case f_wrap_t: // t:X = and_v(X,1)
		return &Miniscript{
			identifier: f_and_v,
			args: []*Miniscript{
				node.args[0],
				{identifier: f_1},
			},
		}, nil

	case f_wrap_l: // l:X = or_i(0,X)
		return &Miniscript{
			identifier: f_or_i,
			args: []*Miniscript{
				{identifier: f_0},
				node.args[0],
			},
		}, nil

	case f_wrap_u: // u:X = or_i(X,0)
		return &Miniscript{
			identifier: f_or_i,
			args: []*Miniscript{
				node.args[0],
				{identifier: f_0},
			},
		}, nil
	}

	return node, nil
}

// String returns the canonical notation of the expression.  Syntactic sugar
// is restored where it applies: c:pk_k prints as pk, c:pk_h as pkh,
// andor(X,Y,0) as and_n(X,Y), and_v(X,1) as t:X, or_i(0,X) as l:X and
// or_i(X,0) as u:X.  Parsing the result reproduces the tree.
func (m *Miniscript) String() string {
	wrappers, core := notationParts(m)
	if wrappers != "" {
		return wrappers + ":" + core
	}
	return core
}

func isLeafZero(node *Miniscript) bool {
	return node.identifier == f_0 && len(node.args) == 0
}

func isLeafOne(node *Miniscript) bool {
	return node.identifier == f_1 && len(node.args) == 0
}

// notationParts renders a node as a run of wrapper letters and a core
// expression, so that nested wrappers join into a single prefix like
// "dv:older(144)".
func notationParts(node *Miniscript) (string, string) {
	switch node.identifier {
	case f_wrap_c:
		switch node.args[0].identifier {
		case f_pk_k:
			return "", fmt.Sprintf("%s(%s)", f_pk,
				node.args[0].payloadNotation())
		case f_pk_h:
			return "", fmt.Sprintf("%s(%s)", f_pkh,
				node.args[0].payloadNotation())
		}

	case f_and_v:
		if isLeafOne(node.args[1]) {
			wrappers, core := notationParts(node.args[0])
			return "t" + wrappers, core
		}

	case f_or_i:
		if isLeafZero(node.args[0]) {
			wrappers, core := notationParts(node.args[1])
			return "l" + wrappers, core
		}
		if isLeafZero(node.args[1]) {
			wrappers, core := notationParts(node.args[0])
			return "u" + wrappers, core
		}

	case f_andor:
		if isLeafZero(node.args[2]) {
			return "", fmt.Sprintf("%s(%s,%s)", f_and_n,
				node.args[0], node.args[1])
		}
	}

	switch node.identifier {
	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		wrappers, core := notationParts(node.args[0])
		return node.identifier + wrappers, core
	}

	return "", node.coreNotation()
}

// payloadNotation renders the key, hash or number payload of a leaf.
func (m *Miniscript) payloadNotation() string {
	switch {
	case m.key != nil:
		return hex.EncodeToString(m.key.Serialize())
	case m.value != nil:
		return hex.EncodeToString(m.value)
	default:
		return strconv.FormatUint(m.num, 10)
	}
}

func (m *Miniscript) coreNotation() string {
	switch m.identifier {
	case f_0, f_1:
		return m.identifier

	case f_pk_k, f_pk_h, f_sha256, f_hash256, f_ripemd160, f_hash160,
		f_older, f_after, f_ver_eq, f_outputs_pref:

		return fmt.Sprintf("%s(%s)", m.identifier,
			m.payloadNotation())

	case f_multi, f_multi_a:
		parts := make([]string, 0, len(m.keys)+1)
		parts = append(parts, strconv.FormatUint(m.num, 10))
		for _, key := range m.keys {
			parts = append(parts,
				hex.EncodeToString(key.Serialize()))
		}
		return fmt.Sprintf("%s(%s)", m.identifier,
			strings.Join(parts, ","))

	case f_thresh:
		parts := make([]string, 0, len(m.args)+1)
		parts = append(parts, strconv.FormatUint(m.num, 10))
		for _, arg := range m.args {
			parts = append(parts, arg.String())
		}
		return fmt.Sprintf("%s(%s)", m.identifier,
			strings.Join(parts, ","))

	case f_ext:
		return m.ext.String()

	default:
		parts := make([]string, 0, len(m.args))
		for _, arg := range m.args {
			parts = append(parts, arg.String())
		}
		return fmt.Sprintf("%s(%s)", m.identifier,
			strings.Join(parts, ","))
	}
}
