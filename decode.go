package miniscript

import (
	"fmt"
)

// nonTermKind enumerates the decoder's grammar expectations.  The script is
// consumed from the last token to the first, so every expectation describes
// what the tail of an already seen construct still owes the parser.
type nonTermKind byte

const (
	ntExpression nonTermKind = iota
	ntMaybeAndV
	ntMaybeSwap
	ntAlt
	ntCheck
	ntDupIf
	ntVerify
	ntNonZero
	ntZeroNotEqual
	ntAndV
	ntAndB
	ntTern
	ntOrB
	ntOrC
	ntOrD
	ntThreshW
	ntThreshE
	ntEndIf
	ntEndIfNotIf
	ntEndIfElse
)

// nonTerm is one entry of the expectation stack.  k and n carry the
// threshold and the number of summands seen so far while a thresh is being
// counted out.
type nonTerm struct {
	kind nonTermKind
	k, n int
}

// decoder turns a reversed token stream into a fragment tree.  It keeps two
// stacks: nonTerms holds grammar expectations still to be filled and terms
// holds completed subtrees.  Expectations push further expectations or pop
// finished terms; when the expectation stack drains, exactly one term is
// left, the root.
type decoder struct {
	tokens    *TokenIter
	ctx       Context
	flags     ValidationFlags
	extParser ExtensionParser

	nonTerms []nonTerm
	terms    []*Miniscript
}

func (d *decoder) push(kind nonTermKind) {
	d.nonTerms = append(d.nonTerms, nonTerm{kind: kind})
}

func (d *decoder) pushThresh(kind nonTermKind, k, n int) {
	d.nonTerms = append(d.nonTerms, nonTerm{kind: kind, k: k, n: n})
}

func (d *decoder) popNT() nonTerm {
	nt := d.nonTerms[len(d.nonTerms)-1]
	d.nonTerms = d.nonTerms[:len(d.nonTerms)-1]
	return nt
}

// popTerm removes the most recently completed subtree.  The grammar pushes
// an expression expectation before every state that consumes terms, so an
// empty stack here is a decoder bug, not bad input.
func (d *decoder) popTerm() *Miniscript {
	if len(d.terms) == 0 {
		panic(AssertError("term stack underflow in miniscript decoder"))
	}
	node := d.terms[len(d.terms)-1]
	d.terms = d.terms[:len(d.terms)-1]
	return node
}

// next pulls one token in reverse script order.  An exhausted stream means
// the walk fell off the front of the script; the error carries the offset of
// the last token consumed before running out.
func (d *decoder) next() (Token, error) {
	tok, ok := d.tokens.Next()
	if !ok {
		return Token{}, parseErrorAt(d.tokens.Offset(),
			ErrUnexpectedEnd, "unexpected start of script")
	}
	return tok, nil
}

func (d *decoder) expect(kind TokenKind) (Token, error) {
	tok, err := d.next()
	if err != nil {
		return Token{}, err
	}
	if tok.Kind != kind {
		return Token{}, parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"expected %s, got %s", tokenKindNames[kind], tok)
	}
	return tok, nil
}

func (d *decoder) expectNum(want uint32) error {
	tok, err := d.next()
	if err != nil {
		return err
	}
	if tok.Kind != TokNum || tok.Num != want {
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"expected NUM(%d), got %s", want, tok)
	}
	return nil
}

// reduce0 finishes a leaf, runs the annotation pipeline on it and pushes it
// as a completed term.
func (d *decoder) reduce0(node *Miniscript) error {
	if err := computeProperties(node, d.ctx, d.flags); err != nil {
		return err
	}
	d.terms = append(d.terms, node)
	return nil
}

// reduce1 wraps the newest term into a single argument fragment.
func (d *decoder) reduce1(identifier string) error {
	arg := d.popTerm()
	return d.reduce0(&Miniscript{
		identifier: identifier,
		args:       []*Miniscript{arg},
	})
}

// reduce2 joins the two newest terms.  The term completed last sits on top
// of the stack and is the left, script first, argument.
func (d *decoder) reduce2(identifier string) error {
	left := d.popTerm()
	right := d.popTerm()
	return d.reduce0(&Miniscript{
		identifier: identifier,
		args:       []*Miniscript{left, right},
	})
}

// isAndV reports whether the upcoming token can begin another expression.
// and_v has no opcode of its own, so two adjacent expressions are exactly an
// and_v join; the excluded tokens all belong to an enclosing construct.
func (d *decoder) isAndV() bool {
	tok, ok := d.tokens.Peek()
	if !ok {
		return false
	}
	switch tok.Kind {
	case TokIf, TokNotIf, TokElse, TokToAltStack:
		return false
	}
	return true
}

// tryExtension offers the upcoming tokens to the extension dialect.  The
// iterator is rewound if the extension parser errors, whatever it consumed.
func (d *decoder) tryExtension() (*Miniscript, bool) {
	pos := d.tokens.pos
	ext, err := d.extParser.FromTokenIter(d.tokens)
	if err != nil {
		d.tokens.pos = pos
		return nil, false
	}
	return &Miniscript{identifier: f_ext, ext: ext}, true
}

func parseKeyPush(tok Token) (*PublicKey, error) {
	key, err := ParsePublicKey(tok.Data)
	if err != nil {
		return nil, parseErrorAt(tok.Offset, ErrInvalidPubKey,
			"invalid public key %x: %v", tok.Data, err)
	}
	return key, nil
}

// expectHashLockTail consumes VERIFY EQUAL <32> SIZE, the reversed reading
// of the SIZE <32> EQUALVERIFY prologue every hash lock starts with.
func (d *decoder) expectHashLockTail() error {
	if _, err := d.expect(TokVerify); err != nil {
		return err
	}
	if _, err := d.expect(TokEqual); err != nil {
		return err
	}
	if err := d.expectNum(32); err != nil {
		return err
	}
	_, err := d.expect(TokSize)
	return err
}

// expectOutputsPrefTail consumes, after EQUAL and PICK were seen, the
// reversed remainder of the outputs commitment: SUB <4> DEPTH HASH256 CAT
// SWAP <prefix> and six CATs.  It returns the committed prefix bytes.
func (d *decoder) expectOutputsPrefTail() ([]byte, error) {
	if _, err := d.expect(TokSub); err != nil {
		return nil, err
	}
	if err := d.expectNum(4); err != nil {
		return nil, err
	}
	if _, err := d.expect(TokDepth); err != nil {
		return nil, err
	}
	if _, err := d.expect(TokHash256); err != nil {
		return nil, err
	}
	if _, err := d.expect(TokCat); err != nil {
		return nil, err
	}
	if _, err := d.expect(TokSwap); err != nil {
		return nil, err
	}
	prefTok, err := d.next()
	if err != nil {
		return nil, err
	}
	pref, err := pushValue(prefTok)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 6; i++ {
		if _, err := d.expect(TokCat); err != nil {
			return nil, err
		}
	}
	return pref, nil
}

// pushValue recovers the raw bytes of a data push whatever length class the
// lexer filed it under.  Only tokens lexed from an actual push with at least
// one byte qualify: OP_0 and the small integer opcodes carry no push bytes
// and are rejected.
func pushValue(tok Token) ([]byte, error) {
	switch tok.Kind {
	case TokPush, TokHash20, TokHash32, TokPubKey:
		return tok.Data, nil
	case TokNum:
		if len(tok.Data) > 0 {
			return tok.Data, nil
		}
	}
	return nil, parseErrorAt(tok.Offset, ErrUnexpectedToken,
		"expected data push, got %s", tok)
}

// expression consumes the reversed tokens of one complete expression, or as
// much of one as can be recognized before inner expressions are needed, in
// which case the matching expectations are pushed.
func (d *decoder) expression() error {
	tok, err := d.next()
	if err != nil {
		return err
	}
	switch tok.Kind {
	case TokPubKey:
		key, err := parseKeyPush(tok)
		if err != nil {
			return err
		}
		return d.reduce0(&Miniscript{identifier: f_pk_k, key: key})

	case TokHash32:
		// A bare 32 byte push in expression position is an x-only
		// key.  Hash lock digests never reach here, they are consumed
		// by the EQUAL and VERIFY arms below.
		key, err := parseKeyPush(tok)
		if err != nil {
			return err
		}
		return d.reduce0(&Miniscript{identifier: f_pk_k, key: key})

	case TokCheckSig:
		d.push(ntCheck)
		d.push(ntExpression)
		return nil

	case TokVerify:
		return d.verifyLed()

	case TokZeroNotEqual:
		d.push(ntZeroNotEqual)
		d.push(ntExpression)
		return nil

	case TokCheckSequenceVerify:
		numTok, err := d.expect(TokNum)
		if err != nil {
			return err
		}
		return d.reduce0(&Miniscript{
			identifier: f_older,
			num:        uint64(numTok.Num),
		})

	case TokCheckLockTimeVerify:
		numTok, err := d.expect(TokNum)
		if err != nil {
			return err
		}
		return d.reduce0(&Miniscript{
			identifier: f_after,
			num:        uint64(numTok.Num),
		})

	case TokEqual:
		return d.equalLed()

	case TokFromAltStack:
		d.push(ntAlt)
		d.push(ntMaybeAndV)
		d.push(ntMaybeSwap)
		d.push(ntExpression)
		return nil

	case TokNum:
		switch tok.Num {
		case 0:
			return d.reduce0(&Miniscript{identifier: f_0})
		case 1:
			return d.reduce0(&Miniscript{identifier: f_1})
		}
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"unexpected token %s", tok)

	case TokEndIf:
		d.push(ntEndIf)
		d.push(ntMaybeAndV)
		d.push(ntMaybeSwap)
		d.push(ntExpression)
		return nil

	case TokBoolAnd:
		d.push(ntAndB)
		d.push(ntExpression)
		d.push(ntMaybeSwap)
		d.push(ntExpression)
		return nil

	case TokBoolOr:
		d.push(ntOrB)
		d.push(ntExpression)
		d.push(ntMaybeSwap)
		d.push(ntExpression)
		return nil

	case TokCheckMultiSig:
		return d.multisig()

	case TokNumEqual:
		return d.multiA()
	}
	return parseErrorAt(tok.Offset, ErrUnexpectedToken,
		"unexpected token %s", tok)
}

// verifyLed continues an expression whose reversed tokens begin with VERIFY:
// pk_h and the verify forms of the hash locks, covenants and thresholds all
// end in an EQUALVERIFY compound, and anything else is a plain v: wrapper.
func (d *decoder) verifyLed() error {
	tok, err := d.next()
	if err != nil {
		return err
	}
	if tok.Kind != TokEqual {
		d.tokens.UnNext()
		d.push(ntVerify)
		d.push(ntExpression)
		return nil
	}

	tok, err = d.next()
	if err != nil {
		return err
	}
	switch tok.Kind {
	case TokHash20:
		hash := append([]byte(nil), tok.Data...)
		tok, err = d.next()
		if err != nil {
			return err
		}
		switch tok.Kind {
		case TokHash160:
			tok, err = d.next()
			if err != nil {
				return err
			}
			if tok.Kind == TokDup {
				return d.reduce0(&Miniscript{
					identifier: f_pk_h,
					value:      hash,
				})
			}
			d.tokens.UnNext()
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			d.push(ntVerify)
			return d.reduce0(&Miniscript{
				identifier: f_hash160,
				value:      hash,
			})

		case TokRipemd160:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			d.push(ntVerify)
			return d.reduce0(&Miniscript{
				identifier: f_ripemd160,
				value:      hash,
			})
		}
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"unexpected token %s", tok)

	case TokHash32:
		hash := append([]byte(nil), tok.Data...)
		tok, err = d.next()
		if err != nil {
			return err
		}
		switch tok.Kind {
		case TokSha256:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			d.push(ntVerify)
			return d.reduce0(&Miniscript{
				identifier: f_sha256,
				value:      hash,
			})

		case TokHash256:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			d.push(ntVerify)
			return d.reduce0(&Miniscript{
				identifier: f_hash256,
				value:      hash,
			})
		}
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"unexpected token %s", tok)

	case TokPickPush4:
		if _, err := d.expect(TokSub); err != nil {
			return err
		}
		if err := d.expectNum(12); err != nil {
			return err
		}
		if _, err := d.expect(TokDepth); err != nil {
			return err
		}
		d.push(ntVerify)
		return d.reduce0(&Miniscript{
			identifier: f_ver_eq,
			num:        uint64(tok.Num),
		})

	case TokPick:
		pref, err := d.expectOutputsPrefTail()
		if err != nil {
			return err
		}
		d.push(ntVerify)
		return d.reduce0(&Miniscript{
			identifier: f_outputs_pref,
			value:      append([]byte(nil), pref...),
		})

	case TokNum:
		d.push(ntVerify)
		d.pushThresh(ntThreshW, int(tok.Num), 0)
		return nil
	}
	return parseErrorAt(tok.Offset, ErrUnexpectedToken,
		"unexpected token %s", tok)
}

// equalLed continues an expression whose reversed tokens begin with EQUAL:
// the plain forms of the hash locks and covenants, and thresholds.
func (d *decoder) equalLed() error {
	tok, err := d.next()
	if err != nil {
		return err
	}
	switch tok.Kind {
	case TokHash32:
		hash := append([]byte(nil), tok.Data...)
		tok, err = d.next()
		if err != nil {
			return err
		}
		switch tok.Kind {
		case TokSha256:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			return d.reduce0(&Miniscript{
				identifier: f_sha256,
				value:      hash,
			})

		case TokHash256:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			return d.reduce0(&Miniscript{
				identifier: f_hash256,
				value:      hash,
			})
		}
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"unexpected token %s", tok)

	case TokHash20:
		hash := append([]byte(nil), tok.Data...)
		tok, err = d.next()
		if err != nil {
			return err
		}
		switch tok.Kind {
		case TokRipemd160:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			return d.reduce0(&Miniscript{
				identifier: f_ripemd160,
				value:      hash,
			})

		case TokHash160:
			if err := d.expectHashLockTail(); err != nil {
				return err
			}
			return d.reduce0(&Miniscript{
				identifier: f_hash160,
				value:      hash,
			})
		}
		return parseErrorAt(tok.Offset, ErrUnexpectedToken,
			"unexpected token %s", tok)

	case TokPickPush4:
		if _, err := d.expect(TokSub); err != nil {
			return err
		}
		if err := d.expectNum(12); err != nil {
			return err
		}
		if _, err := d.expect(TokDepth); err != nil {
			return err
		}
		return d.reduce0(&Miniscript{
			identifier: f_ver_eq,
			num:        uint64(tok.Num),
		})

	case TokPick:
		pref, err := d.expectOutputsPrefTail()
		if err != nil {
			return err
		}
		return d.reduce0(&Miniscript{
			identifier: f_outputs_pref,
			value:      append([]byte(nil), pref...),
		})

	case TokNum:
		// No expression expectation here; the ThreshW handler reads
		// ahead for OP_ADD itself to count the summands.
		d.pushThresh(ntThreshW, int(tok.Num), 0)
		return nil
	}
	return parseErrorAt(tok.Offset, ErrUnexpectedToken,
		"unexpected token %s", tok)
}

// multisig consumes a CHECKMULTISIG form back to front: the key count, the
// keys in reverse script order, then the threshold.
func (d *decoder) multisig() error {
	nTok, err := d.expect(TokNum)
	if err != nil {
		return err
	}
	n := int(nTok.Num)
	if n > multisigMaxKeys {
		return parseErrorAt(nTok.Offset, ErrMultisigTooManyKeys,
			"%d keys exceed the CHECKMULTISIG maximum of %d",
			n, multisigMaxKeys)
	}
	keys := make([]*PublicKey, 0, n)
	for i := 0; i < n; i++ {
		keyTok, err := d.expect(TokPubKey)
		if err != nil {
			return err
		}
		key, err := parseKeyPush(keyTok)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	kTok, err := d.expect(TokNum)
	if err != nil {
		return err
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return d.reduce0(&Miniscript{
		identifier: f_multi,
		num:        uint64(kTok.Num),
		keys:       keys,
	})
}

// multiA consumes a CHECKSIGADD form back to front: the threshold, then
// CHECKSIGADD and key pairs until the initial CHECKSIG and key terminate
// the run.
func (d *decoder) multiA() error {
	kTok, err := d.expect(TokNum)
	if err != nil {
		return err
	}
	var keys []*PublicKey
	for {
		opTok, err := d.next()
		if err != nil {
			return err
		}
		switch opTok.Kind {
		case TokCheckSigAdd, TokCheckSig:
		default:
			return parseErrorAt(opTok.Offset, ErrUnexpectedToken,
				"expected CHECKSIG or CHECKSIGADD, got %s",
				opTok)
		}
		keyTok, err := d.next()
		if err != nil {
			return err
		}
		if keyTok.Kind != TokHash32 && keyTok.Kind != TokPubKey {
			return parseErrorAt(keyTok.Offset, ErrUnexpectedToken,
				"expected public key, got %s", keyTok)
		}
		key, err := parseKeyPush(keyTok)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		if opTok.Kind == TokCheckSig {
			break
		}
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return d.reduce0(&Miniscript{
		identifier: f_multi_a,
		num:        uint64(kTok.Num),
		keys:       keys,
	})
}

// run drives the expectation stack until it drains and exactly one finished
// tree remains.
func (d *decoder) run() (*Miniscript, error) {
	d.push(ntMaybeAndV)
	d.push(ntMaybeSwap)
	d.push(ntExpression)

	for len(d.nonTerms) > 0 {
		// Extension dialects get first refusal at every expression
		// position.
		if d.extParser != nil &&
			d.nonTerms[len(d.nonTerms)-1].kind == ntExpression {

			if node, ok := d.tryExtension(); ok {
				d.popNT()
				if err := d.reduce0(node); err != nil {
					return nil, err
				}
				continue
			}
		}

		nt := d.popNT()
		switch nt.kind {
		case ntExpression:
			if err := d.expression(); err != nil {
				return nil, err
			}

		case ntMaybeAndV:
			if d.isAndV() {
				d.push(ntAndV)
				d.push(ntExpression)
			}

		case ntMaybeSwap:
			if tok, ok := d.tokens.Peek(); ok &&
				tok.Kind == TokSwap {

				d.tokens.Next()
				if err := d.reduce1(f_wrap_s); err != nil {
					return nil, err
				}
				d.push(ntMaybeSwap)
			}

		case ntAlt:
			if _, err := d.expect(TokToAltStack); err != nil {
				return nil, err
			}
			if err := d.reduce1(f_wrap_a); err != nil {
				return nil, err
			}

		case ntCheck:
			if err := d.reduce1(f_wrap_c); err != nil {
				return nil, err
			}

		case ntDupIf:
			if err := d.reduce1(f_wrap_d); err != nil {
				return nil, err
			}

		case ntVerify:
			if err := d.reduce1(f_wrap_v); err != nil {
				return nil, err
			}

		case ntNonZero:
			if err := d.reduce1(f_wrap_j); err != nil {
				return nil, err
			}

		case ntZeroNotEqual:
			if err := d.reduce1(f_wrap_n); err != nil {
				return nil, err
			}

		case ntAndV:
			if d.isAndV() {
				d.push(ntAndV)
				d.push(ntMaybeAndV)
			} else {
				if err := d.reduce2(f_and_v); err != nil {
					return nil, err
				}
			}

		case ntAndB:
			if err := d.reduce2(f_and_b); err != nil {
				return nil, err
			}

		case ntOrB:
			if err := d.reduce2(f_or_b); err != nil {
				return nil, err
			}

		case ntOrC:
			if err := d.reduce2(f_or_c); err != nil {
				return nil, err
			}

		case ntOrD:
			if err := d.reduce2(f_or_d); err != nil {
				return nil, err
			}

		case ntTern:
			a := d.popTerm()
			b := d.popTerm()
			c := d.popTerm()
			err := d.reduce0(&Miniscript{
				identifier: f_andor,
				args:       []*Miniscript{a, c, b},
			})
			if err != nil {
				return nil, err
			}

		case ntThreshW:
			tok, err := d.next()
			if err != nil {
				return nil, err
			}
			if tok.Kind == TokAdd {
				d.pushThresh(ntThreshW, nt.k, nt.n+1)
			} else {
				d.tokens.UnNext()
				d.pushThresh(ntThreshE, nt.k, nt.n+1)
			}
			d.push(ntMaybeSwap)
			d.push(ntExpression)

		case ntThreshE:
			subs := make([]*Miniscript, nt.n)
			for i := 0; i < nt.n; i++ {
				subs[i] = d.popTerm()
			}
			err := d.reduce0(&Miniscript{
				identifier: f_thresh,
				num:        uint64(nt.k),
				args:       subs,
			})
			if err != nil {
				return nil, err
			}

		case ntEndIf:
			tok, err := d.next()
			if err != nil {
				return nil, err
			}
			switch tok.Kind {
			case TokElse:
				d.push(ntEndIfElse)
				d.push(ntMaybeAndV)
				d.push(ntMaybeSwap)
				d.push(ntExpression)

			case TokIf:
				tok, err := d.next()
				if err != nil {
					return nil, err
				}
				switch tok.Kind {
				case TokDup:
					d.push(ntDupIf)
				case TokZeroNotEqual:
					_, err := d.expect(TokSize)
					if err != nil {
						return nil, err
					}
					d.push(ntNonZero)
				default:
					return nil, parseErrorAt(
						tok.Offset, ErrUnexpectedToken,
						"unexpected token %s", tok)
				}

			case TokNotIf:
				d.push(ntEndIfNotIf)

			default:
				return nil, parseErrorAt(tok.Offset,
					ErrUnexpectedToken,
					"unexpected token %s", tok)
			}

		case ntEndIfNotIf:
			tok, err := d.next()
			if err != nil {
				return nil, err
			}
			if tok.Kind == TokIfDup {
				d.push(ntOrD)
			} else {
				d.tokens.UnNext()
				d.push(ntOrC)
			}
			d.push(ntExpression)

		case ntEndIfElse:
			tok, err := d.next()
			if err != nil {
				return nil, err
			}
			switch tok.Kind {
			case TokIf:
				if err := d.reduce2(f_or_i); err != nil {
					return nil, err
				}
			case TokNotIf:
				d.push(ntTern)
				d.push(ntExpression)
			default:
				return nil, parseErrorAt(tok.Offset,
					ErrUnexpectedToken,
					"unexpected token %s", tok)
			}
		}
	}

	if len(d.terms) != 1 {
		return nil, AssertError(fmt.Sprintf("miniscript decoder "+
			"finished with %d terms", len(d.terms)))
	}
	return d.terms[0], nil
}

// Decode parses a script into its fragment tree, type checks it and runs
// the full consensus and policy rule set of the given context.  The
// returned tree is annotated with all its cost bounds.
func Decode(script []byte, ctx Context) (*Miniscript, error) {
	return DecodeWithExtension(script, ctx, 0, nil)
}

// DecodeWithFlags is Decode with some validation tiers switched off.
// Consensus rules always apply; flags only control policy level checks.
func DecodeWithFlags(script []byte, ctx Context,
	flags ValidationFlags) (*Miniscript, error) {

	return DecodeWithExtension(script, ctx, flags, nil)
}

// DecodeWithExtension is DecodeWithFlags speaking an extension dialect:
// wherever the grammar expects an expression, parser is offered the
// upcoming tokens first and may claim them as an extension leaf.
func DecodeWithExtension(script []byte, ctx Context, flags ValidationFlags,
	parser ExtensionParser) (*Miniscript, error) {

	if !ctx.Valid() {
		return nil, AssertError(fmt.Sprintf("unknown miniscript "+
			"context %d", ctx))
	}
	tokens, err := lexScript(script)
	if err != nil {
		return nil, err
	}
	d := &decoder{
		tokens:    newTokenIter(tokens),
		ctx:       ctx,
		flags:     flags,
		extParser: parser,
		nonTerms:  make([]nonTerm, 0, len(tokens)),
		terms:     make([]*Miniscript, 0, len(tokens)),
	}
	root, err := d.run()
	if err != nil {
		return nil, err
	}
	if d.tokens.Remaining() > 0 {
		tok, _ := d.tokens.Peek()
		return nil, parseErrorAt(tok.Offset, ErrTrailingTokens,
			"script continues in front of a complete fragment: %s",
			tok)
	}
	if err := checkTopLevel(root, ctx, flags); err != nil {
		return nil, err
	}
	log.Tracef("decoded %d byte %v script:\n%v", len(script), ctx,
		newLogClosure(root.DrawTree))
	return root, nil
}
