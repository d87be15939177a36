package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// PublicKeySize is the size of a BLS public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a BLS signature in bytes.
	SignatureSize = 96
)

// dst is the domain separation tag for receipt signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair holds a BLS private/public key pair for signing receipts.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// DeriveFromED25519 derives a deterministic BLS key pair from the
// node's ed25519 private key, bound via BLAKE3("tally-receipt-keygen" || seed).
func DeriveFromED25519(privKey ed25519.PrivateKey) (*KeyPair, error) {
	seed := privKey.Seed()
	h := blake3.New()
	h.Write([]byte("tally-receipt-keygen"))
	h.Write(seed)

	var derived [32]byte
	h.Sum(derived[:0])

	return GenerateFromSeed(derived[:])
}

// Generate creates a new BLS key pair from a random seed.
func Generate() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return GenerateFromSeed(ikm[:])
}

// GenerateFromSeed creates a BLS key pair from a deterministic seed.
// The seed must be at least 32 bytes.
func GenerateFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	public := new(blst.P1Affine).From(secret)

	return &KeyPair{
		secret: secret,
		public: public,
	}, nil
}

// PublicKeyBytes returns the compressed public key bytes.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// Digest computes the signed message for a vote acknowledgement:
// BLAKE3(proposal || voter || value).
func Digest(proposal, voter [32]byte, value bool) [32]byte {
	h := blake3.New()
	h.Write(proposal[:])
	h.Write(voter[:])

	if value {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	var digest [32]byte
	h.Sum(digest[:0])

	return digest
}

// Sign produces a receipt signature acknowledging an accepted vote.
func (k *KeyPair) Sign(proposal, voter [32]byte, value bool) []byte {
	digest := Digest(proposal, voter, value)
	sig := new(blst.P2Affine).Sign(k.secret, digest[:], dst)

	return sig.Compress()
}

// Verify checks a receipt signature against the vote it acknowledges.
func Verify(signature []byte, proposal, voter [32]byte, value bool, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	digest := Digest(proposal, voter, value)

	return sig.Verify(true, pk, true, digest[:], dst)
}

// Aggregate combines multiple receipt signatures into one.
// Useful for batch acknowledgement when several nodes co-sign the same
// receipt digest.
func Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))

	for i, sigBytes := range signatures {
		if len(sigBytes) != SignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		sig := new(blst.P2Affine).Uncompress(sigBytes)
		if sig == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated verifies an aggregated signature over one digest
// against the public keys of every co-signer.
func VerifyAggregated(signature []byte, proposal, voter [32]byte, value bool, publicKeys [][]byte) bool {
	if len(signature) != SignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))

	for i, pkBytes := range publicKeys {
		if len(pkBytes) != PublicKeySize {
			return false
		}

		pk := new(blst.P1Affine).Uncompress(pkBytes)
		if pk == nil {
			return false
		}

		pks[i] = pk
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return false
	}

	digest := Digest(proposal, voter, value)

	return sig.Verify(true, aggPk.ToAffine(), true, digest[:], dst)
}
