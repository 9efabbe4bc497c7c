package miniscript

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// TokenKind enumerates the token alphabet the decoder consumes.  It is a
// strict superset of the opcodes that can appear inside a Miniscript
// fragment; pushes are tagged by their length because the grammar
// distinguishes 20 byte hashes, 32 byte hashes, keys and raw pushes.
type TokenKind byte

const (
	TokBoolAnd TokenKind = iota
	TokBoolOr
	TokAdd
	TokEqual
	TokNumEqual
	TokCheckSig
	TokCheckSigAdd
	TokCheckMultiSig
	TokCheckSequenceVerify
	TokCheckLockTimeVerify
	TokFromAltStack
	TokToAltStack
	TokDrop
	TokDup
	TokIf
	TokIfDup
	TokNotIf
	TokElse
	TokEndIf
	TokZeroNotEqual
	TokSize
	TokSwap
	TokVerify
	TokRipemd160
	TokHash160
	TokSha256
	TokHash256
	TokCat
	TokPick
	TokSub
	TokDepth

	// TokNum is a small integer opcode or a minimal script number push.
	TokNum

	// TokHash20 is a 20 byte data push.
	TokHash20

	// TokHash32 is a 32 byte data push.
	TokHash32

	// TokPubKey is a 33 or 65 byte data push.  The bytes are parsed into a
	// key at reduction time, when the decoding context is known.
	TokPubKey

	// TokPush is any other data push.
	TokPush

	// TokPickPush4 is OP_PICK immediately followed by a 4 byte push,
	// merged during lexing.  The pair only occurs in the covenant version
	// fragment.
	TokPickPush4
)

var tokenKindNames = map[TokenKind]string{
	TokBoolAnd:             "BOOLAND",
	TokBoolOr:              "BOOLOR",
	TokAdd:                 "ADD",
	TokEqual:               "EQUAL",
	TokNumEqual:            "NUMEQUAL",
	TokCheckSig:            "CHECKSIG",
	TokCheckSigAdd:         "CHECKSIGADD",
	TokCheckMultiSig:       "CHECKMULTISIG",
	TokCheckSequenceVerify: "CHECKSEQUENCEVERIFY",
	TokCheckLockTimeVerify: "CHECKLOCKTIMEVERIFY",
	TokFromAltStack:        "FROMALTSTACK",
	TokToAltStack:          "TOALTSTACK",
	TokDrop:                "DROP",
	TokDup:                 "DUP",
	TokIf:                  "IF",
	TokIfDup:               "IFDUP",
	TokNotIf:               "NOTIF",
	TokElse:                "ELSE",
	TokEndIf:               "ENDIF",
	TokZeroNotEqual:        "0NOTEQUAL",
	TokSize:                "SIZE",
	TokSwap:                "SWAP",
	TokVerify:              "VERIFY",
	TokRipemd160:           "RIPEMD160",
	TokHash160:             "HASH160",
	TokSha256:              "SHA256",
	TokHash256:             "HASH256",
	TokCat:                 "CAT",
	TokPick:                "PICK",
	TokSub:                 "SUB",
	TokDepth:               "DEPTH",
	TokNum:                 "NUM",
	TokHash20:              "HASH20",
	TokHash32:              "HASH32",
	TokPubKey:              "PUBKEY",
	TokPush:                "PUSH",
	TokPickPush4:           "PICK_PUSH4",
}

// Token is one element of the decoder's input alphabet.  Num is set for
// TokNum and TokPickPush4, Data for the push kinds.  A number token that was
// lexed from an actual data push additionally keeps its raw bytes in Data,
// so that positions which need the push verbatim can recover them.  Offset
// is the position of the token's first byte in the script it was lexed from;
// both halves of a split VERIFY compound share the compound's offset.
type Token struct {
	Kind   TokenKind
	Num    uint32
	Data   []byte
	Offset int
}

// String returns a human-readable form of the token for error messages.
func (t Token) String() string {
	switch t.Kind {
	case TokNum:
		return fmt.Sprintf("NUM(%d)", t.Num)
	case TokPickPush4:
		return fmt.Sprintf("PICK_PUSH4(%d)", t.Num)
	case TokHash20:
		return fmt.Sprintf("HASH20(%x)", t.Data)
	case TokHash32:
		return fmt.Sprintf("HASH32(%x)", t.Data)
	case TokPubKey:
		return fmt.Sprintf("PUBKEY(%x)", t.Data)
	case TokPush:
		return fmt.Sprintf("PUSH(%x)", t.Data)
	default:
		return tokenKindNames[t.Kind]
	}
}

// opcodeTokens maps single opcodes to their token kind.  VERIFY compounds
// and pushes are handled separately in lexScript.
var opcodeTokens = map[byte]TokenKind{
	txscript.OP_BOOLAND:             TokBoolAnd,
	txscript.OP_BOOLOR:              TokBoolOr,
	txscript.OP_ADD:                 TokAdd,
	txscript.OP_EQUAL:               TokEqual,
	txscript.OP_NUMEQUAL:            TokNumEqual,
	txscript.OP_CHECKSIG:            TokCheckSig,
	txscript.OP_CHECKSIGADD:         TokCheckSigAdd,
	txscript.OP_CHECKMULTISIG:       TokCheckMultiSig,
	txscript.OP_CHECKSEQUENCEVERIFY: TokCheckSequenceVerify,
	txscript.OP_CHECKLOCKTIMEVERIFY: TokCheckLockTimeVerify,
	txscript.OP_FROMALTSTACK:        TokFromAltStack,
	txscript.OP_TOALTSTACK:          TokToAltStack,
	txscript.OP_DROP:                TokDrop,
	txscript.OP_DUP:                 TokDup,
	txscript.OP_IF:                  TokIf,
	txscript.OP_IFDUP:               TokIfDup,
	txscript.OP_NOTIF:               TokNotIf,
	txscript.OP_ELSE:                TokElse,
	txscript.OP_ENDIF:               TokEndIf,
	txscript.OP_0NOTEQUAL:           TokZeroNotEqual,
	txscript.OP_SIZE:                TokSize,
	txscript.OP_SWAP:                TokSwap,
	txscript.OP_VERIFY:              TokVerify,
	txscript.OP_RIPEMD160:           TokRipemd160,
	txscript.OP_HASH160:             TokHash160,
	txscript.OP_SHA256:              TokSha256,
	txscript.OP_HASH256:             TokHash256,
	txscript.OP_CAT:                 TokCat,
	txscript.OP_PICK:                TokPick,
	txscript.OP_SUB:                 TokSub,
	txscript.OP_DEPTH:               TokDepth,
}

// lexScript tokenizes a raw script into the decoder's token alphabet.  The
// returned slice is in script order; the decoder walks it back to front.
//
// Compound VERIFY opcodes split into two tokens so that the grammar only has
// to know the plain forms: OP_EQUALVERIFY lexes as [EQUAL, VERIFY] and
// likewise for OP_NUMEQUALVERIFY, OP_CHECKSIGVERIFY and
// OP_CHECKMULTISIGVERIFY.
func lexScript(script []byte) ([]Token, error) {
	tokens := make([]Token, 0, len(script))
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	start := 0
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()
		switch {
		case op == txscript.OP_0:
			tokens = append(tokens, Token{
				Kind:   TokNum,
				Num:    0,
				Offset: start,
			})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			tokens = append(tokens, Token{
				Kind:   TokNum,
				Num:    uint32(op-txscript.OP_1) + 1,
				Offset: start,
			})

		case op == txscript.OP_EQUALVERIFY:
			tokens = append(tokens,
				Token{Kind: TokEqual, Offset: start},
				Token{Kind: TokVerify, Offset: start})

		case op == txscript.OP_NUMEQUALVERIFY:
			tokens = append(tokens,
				Token{Kind: TokNumEqual, Offset: start},
				Token{Kind: TokVerify, Offset: start})

		case op == txscript.OP_CHECKSIGVERIFY:
			tokens = append(tokens,
				Token{Kind: TokCheckSig, Offset: start},
				Token{Kind: TokVerify, Offset: start})

		case op == txscript.OP_CHECKMULTISIGVERIFY:
			tokens = append(tokens,
				Token{Kind: TokCheckMultiSig, Offset: start},
				Token{Kind: TokVerify, Offset: start})

		case len(data) > 0 || op <= txscript.OP_PUSHDATA4:
			// A data push of four bytes directly after OP_PICK is
			// the covenant version idiom; merge the pair.  The
			// merged token keeps the offset of the OP_PICK.
			if len(data) == 4 && len(tokens) > 0 &&
				tokens[len(tokens)-1].Kind == TokPick {

				tokens[len(tokens)-1] = Token{
					Kind:   TokPickPush4,
					Num:    binary.LittleEndian.Uint32(data),
					Offset: tokens[len(tokens)-1].Offset,
				}
				start = int(tokenizer.ByteIndex())
				continue
			}
			tok := classifyPush(data)
			tok.Offset = start
			tokens = append(tokens, tok)

		default:
			kind, ok := opcodeTokens[op]
			if !ok {
				return nil, parseErrorAt(start, ErrInvalidOpcode,
					"opcode 0x%02x has no meaning in any "+
						"fragment", op)
			}
			tokens = append(tokens, Token{Kind: kind, Offset: start})
		}
		start = int(tokenizer.ByteIndex())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, parseErrorAt(start, ErrMalformedScript,
			"script tokenization failed: %v", err)
	}
	return tokens, nil
}

// classifyPush tags a data push by its length.  Pushes of up to four bytes
// that are minimal script numbers become number tokens; everything that is
// not a hash, key or number length stays a raw push.
func classifyPush(data []byte) Token {
	switch len(data) {
	case 20:
		return Token{Kind: TokHash20, Data: data}
	case 32:
		return Token{Kind: TokHash32, Data: data}
	case pubKeyLen, uncompressedPubKeyLen:
		return Token{Kind: TokPubKey, Data: data}
	}
	if len(data) <= 4 {
		n, err := txscript.MakeScriptNum(data, true, 4)
		if err == nil && n >= 0 {
			return Token{Kind: TokNum, Num: uint32(n), Data: data}
		}
	}
	return Token{Kind: TokPush, Data: data}
}

// TokenIter iterates a lexed script from the last token to the first, which
// is the order the shift-reduce decoder consumes them in.  It supports
// non-consuming peeks and restoring consumed tokens, so extension parsers
// can back out of a partial match by calling UnNext once per token taken.
type TokenIter struct {
	tokens []Token

	// pos is the number of tokens not yet consumed; Next returns
	// tokens[pos-1].
	pos int
}

func newTokenIter(tokens []Token) *TokenIter {
	return &TokenIter{tokens: tokens, pos: len(tokens)}
}

// Next consumes and returns the next token in reverse script order.
func (it *TokenIter) Next() (Token, bool) {
	if it.pos == 0 {
		return Token{}, false
	}
	it.pos--
	return it.tokens[it.pos], true
}

// Peek returns the token Next would return without consuming it.
func (it *TokenIter) Peek() (Token, bool) {
	if it.pos == 0 {
		return Token{}, false
	}
	return it.tokens[it.pos-1], true
}

// UnNext restores the most recently consumed token.  Calling it repeatedly
// walks back further, up to the start of the stream.
func (it *TokenIter) UnNext() {
	if it.pos < len(it.tokens) {
		it.pos++
	}
}

// Offset returns the script offset of the most recently consumed token, or
// zero when no token has been consumed.
func (it *TokenIter) Offset() int {
	if it.pos == len(it.tokens) {
		return 0
	}
	return it.tokens[it.pos].Offset
}

// Remaining returns the number of unconsumed tokens.
func (it *TokenIter) Remaining() int {
	return it.pos
}
