package miniscript

import (
	"github.com/btcsuite/btcd/txscript"
)

// Extension is a single leaf of an extension dialect, produced by an
// ExtensionParser during decoding.  The leaf carries its own type,
// malleability and cost annotations through Info and takes part in script
// building and context validation like any built-in fragment.
type Extension interface {
	// Info returns the annotations of the leaf.  It is called once,
	// right after the parser produced the leaf.
	Info() ExtensionInfo

	// CheckContext reports whether the leaf may appear in scripts of the
	// given context.  It runs at the consensus tier, so it cannot be
	// switched off by validation flags.
	CheckContext(ctx Context) error

	// PushScript appends the script encoding of the leaf.
	PushScript(builder *txscript.ScriptBuilder) error

	// String returns the text notation of the leaf.
	String() string
}

// ExtensionInfo carries the annotations an extension leaf computes for
// itself.  Counts that describe a satisfaction or dissatisfaction are -1
// when none exists.
type ExtensionInfo struct {
	// Type is the basic type of the leaf: "B", "V", "K" or "W".
	Type string

	// Properties is the subset of "zondumsfe" that holds for the leaf.
	Properties string

	// ScriptLen is the encoded script size in bytes.
	ScriptLen int

	// OpCount is the number of opcodes executed regardless of the
	// spending path.  SatOps and DsatOps are the extra opcodes of the
	// worst case satisfaction and dissatisfaction.
	OpCount int
	SatOps  int
	DsatOps int

	// SatStackItems and DsatStackItems bound the number of witness
	// elements of the worst case satisfaction and dissatisfaction.
	SatStackItems  int
	DsatStackItems int

	// MaxSatSize and MaxDsatSize bound the satisfaction byte size in the
	// witness encoding; the SS variants in the scriptSig encoding.
	MaxSatSize    int
	MaxSatSizeSS  int
	MaxDsatSize   int
	MaxDsatSizeSS int

	// ExecStackItems bounds the interpreter stack growth while the leaf
	// executes.
	ExecStackItems int
}

// ExtensionParser recognizes the leaves of an extension dialect.  Decoding
// offers the parser every position where the grammar expects an expression,
// before the built-in fragments are tried.
type ExtensionParser interface {
	// FromTokenIter parses one extension leaf from the reversed token
	// stream.  On failure the decoder rewinds the iterator, so the
	// parser may consume tokens freely before deciding.
	FromTokenIter(tokens *TokenIter) (Extension, error)
}

// applyExtensionInfo translates the annotations of an extension leaf onto
// its tree node, in place of the type check and cost passes that built-in
// fragments go through.
func applyExtensionInfo(node *Miniscript) error {
	info := node.ext.Info()

	switch info.Type {
	case "B":
		node.basicType = typeB
	case "V":
		node.basicType = typeV
	case "K":
		node.basicType = typeK
	case "W":
		node.basicType = typeW
	default:
		return typeError(f_ext,
			"extension %s has invalid basic type %q",
			node.ext, info.Type)
	}

	for _, r := range info.Properties {
		switch r {
		case 'z':
			node.props.z = true
		case 'o':
			node.props.o = true
		case 'n':
			node.props.n = true
		case 'd':
			node.props.d = true
		case 'u':
			node.props.u = true
		case 'm':
			node.props.m = true
		case 's':
			node.props.s = true
		case 'f':
			node.props.f = true
		case 'e':
			node.props.e = true
		default:
			return typeError(f_ext,
				"extension %s has invalid property %q",
				node.ext, string(r))
		}
	}

	node.scriptLen = info.ScriptLen
	node.opCount = ops{
		count: info.OpCount,
		sat:   extOptInt(info.SatOps),
		dsat:  extOptInt(info.DsatOps),
	}
	node.stackCount = stackCount{
		sat:  extOptInt(info.SatStackItems),
		dsat: extOptInt(info.DsatStackItems),
	}
	node.satSize = satSizes{
		sat:  extOptPair(info.MaxSatSize, info.MaxSatSizeSS),
		dsat: extOptPair(info.MaxDsatSize, info.MaxDsatSizeSS),
	}
	node.execStack = info.ExecStackItems
	return nil
}

func extOptInt(v int) maxInt {
	if v < 0 {
		return maxInt{}
	}
	return maxInt{valid: true, value: v}
}

func extOptPair(wit, ss int) maxPair {
	if wit < 0 || ss < 0 {
		return maxPair{}
	}
	return maxPair{valid: true, wit: wit, ss: ss}
}
