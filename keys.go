package miniscript

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
)

// PubKeyFormat describes what serialization a public key uses inside a
// script.
type PubKeyFormat int

const (
	// PKFCompressed indicates a 33 byte compressed public key.
	PKFCompressed PubKeyFormat = iota

	// PKFUncompressed indicates a 65 byte uncompressed public key.
	PKFUncompressed

	// PKFXOnly indicates a 32 byte x-only public key as used by
	// tapscript.
	PKFXOnly
)

// PublicKey pairs a parsed secp256k1 public key with the serialization it
// uses inside a script.  The format decides both the script encoding size
// and which execution contexts accept the key.
type PublicKey struct {
	format PubKeyFormat
	pubKey *btcec.PublicKey
}

// NewPublicKey returns a key wrapping an already parsed public key in the
// given serialization format.
func NewPublicKey(pubKey *btcec.PublicKey, format PubKeyFormat) *PublicKey {
	return &PublicKey{format: format, pubKey: pubKey}
}

// ParsePublicKey parses a script data push into a public key, classifying
// the serialization by its length: 33 bytes compressed, 65 bytes
// uncompressed, 32 bytes x-only.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	switch len(b) {
	case pubKeyLen, uncompressedPubKeyLen:
		pubKey, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, err
		}
		format := PKFCompressed
		if len(b) == uncompressedPubKeyLen {
			format = PKFUncompressed
		}
		return &PublicKey{format: format, pubKey: pubKey}, nil

	case xOnlyPubKeyLen:
		pubKey, err := schnorr.ParsePubKey(b)
		if err != nil {
			return nil, err
		}
		return &PublicKey{format: PKFXOnly, pubKey: pubKey}, nil

	default:
		return nil, parseError(ErrInvalidPubKey,
			"invalid public key length %d", len(b))
	}
}

// ParsePublicKeyHex parses a public key from its hex notation form.
func ParsePublicKeyHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, parseError(ErrInvalidPubKey,
			"invalid public key hex %q: %v", s, err)
	}
	return ParsePublicKey(b)
}

// Format returns the serialization format of the public key.
func (k *PublicKey) Format() PubKeyFormat {
	return k.format
}

// IsUncompressed returns whether the key serializes to the 65 byte
// uncompressed form.
func (k *PublicKey) IsUncompressed() bool {
	return k.format == PKFUncompressed
}

// IsXOnly returns whether the key serializes to the 32 byte x-only form.
func (k *PublicKey) IsXOnly() bool {
	return k.format == PKFXOnly
}

// PubKey returns the parsed secp256k1 public key.
func (k *PublicKey) PubKey() *btcec.PublicKey {
	return k.pubKey
}

// Serialize returns the script level serialization of the key.
func (k *PublicKey) Serialize() []byte {
	switch k.format {
	case PKFUncompressed:
		return k.pubKey.SerializeUncompressed()

	case PKFXOnly:
		return schnorr.SerializePubKey(k.pubKey)

	default:
		return k.pubKey.SerializeCompressed()
	}
}

// Hash160 returns RIPEMD160(SHA256(serialization)), the hash committed to by
// the pk_h fragment.
func (k *PublicKey) Hash160() []byte {
	return btcutil.Hash160(k.Serialize())
}

// String returns the key serialization in hex, which is also its notation
// form.
func (k *PublicKey) String() string {
	return hex.EncodeToString(k.Serialize())
}
