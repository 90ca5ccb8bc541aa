// Package ecies implements the sealed-bid cipher: an ECIES-style scheme over
// secp256k1 where the symmetric key is the Keccak-256 hash of the ECDH shared
// secret and a bid-specific salt. The sealed value (the bid's minimum amount
// out) is masked with a fixed 128-bit seed before XOR encryption, so a
// decryption under the wrong key pairing is detectable without aborting the
// batch: the recovered seed simply fails the consistency check.
package ecies

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"
)

// CiphertextSize is the fixed length of a sealed bid value: a 128-bit seed
// followed by the 128-bit masked amount.
const CiphertextSize = 32

// bidSeed is the fixed 128-bit seed prefixed to every plaintext. Decryption
// is valid iff this exact value is recovered in the high-order half.
var bidSeed = [16]byte{
	0x6b, 0x1d, 0x85, 0xf2, 0x4e, 0xa0, 0x3c, 0x97,
	0xd4, 0x58, 0x2b, 0xe6, 0x91, 0x0f, 0xc7, 0x3a,
}

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Result is the tagged outcome of decrypting a sealed bid. An invalid result
// carries a zero amount; it is a business outcome, not an error, so a single
// malformed bid can never block batch decryption.
type Result struct {
	Amount *big.Int
	Valid  bool
}

// invalid is the canonical failed-decrypt result.
func invalid() Result {
	return Result{Amount: new(big.Int), Valid: false}
}

// Salt binds a ciphertext to a specific bid. It hashes the lot identifier,
// the bidder, and the declared amount in, so the same sealed value submitted
// under different bid parameters decrypts to garbage.
func Salt(lotID uint64, bidder string, amountIn *big.Int) [32]byte {
	var lotBytes [8]byte
	binary.BigEndian.PutUint64(lotBytes[:], lotID)

	var amountBytes [32]byte
	amountIn.FillBytes(amountBytes[:])

	h := sha3.NewLegacyKeccak256()
	h.Write(lotBytes[:])
	h.Write([]byte(bidder))
	h.Write(amountBytes[:])

	var salt [32]byte
	h.Sum(salt[:0])
	return salt
}

// symmetricKey derives the XOR pad from the ECDH shared secret (x coordinate)
// and the bid salt.
func symmetricKey(sharedX []byte, salt [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(sharedX)
	h.Write(salt[:])

	var key [32]byte
	h.Sum(key[:0])
	return key
}

// Encrypt seals amountOut under the auctioneer's public key using an
// ephemeral session private key held by the bidder. The session public key
// must accompany the ciphertext so the auctioneer can reconstruct the shared
// secret after revealing the auction private key.
func Encrypt(amountOut *big.Int, auctionPub *secp256k1.PublicKey, sessionPriv *secp256k1.PrivateKey, salt [32]byte) ([CiphertextSize]byte, error) {
	var ct [CiphertextSize]byte
	if amountOut == nil || amountOut.Sign() < 0 || amountOut.Cmp(maxUint128) > 0 {
		return ct, errors.New("amount out of 128-bit range")
	}

	seed := new(big.Int).SetBytes(bidSeed[:])
	masked := new(big.Int).Sub(seed, amountOut)
	if masked.Sign() < 0 {
		// Wrapping subtraction modulo 2^128.
		masked.Add(masked, new(big.Int).Lsh(big.NewInt(1), 128))
	}

	var plaintext [CiphertextSize]byte
	copy(plaintext[:16], bidSeed[:])
	masked.FillBytes(plaintext[16:])

	sharedX := secp256k1.GenerateSharedSecret(sessionPriv, auctionPub)
	key := symmetricKey(sharedX, salt)
	for i := range plaintext {
		ct[i] = plaintext[i] ^ key[i]
	}
	return ct, nil
}

// Decrypt is the exact inverse of Encrypt. The returned Result is valid only
// when the recovered seed matches the fixed constant; any other outcome
// (wrong key pairing, corrupted ciphertext) yields an invalid result with a
// zero amount.
func Decrypt(ciphertext [CiphertextSize]byte, auctionPriv *secp256k1.PrivateKey, sessionPub *secp256k1.PublicKey, salt [32]byte) Result {
	sharedX := secp256k1.GenerateSharedSecret(auctionPriv, sessionPub)
	key := symmetricKey(sharedX, salt)

	var plaintext [CiphertextSize]byte
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ key[i]
	}

	for i := range bidSeed {
		if plaintext[i] != bidSeed[i] {
			return invalid()
		}
	}

	seed := new(big.Int).SetBytes(bidSeed[:])
	masked := new(big.Int).SetBytes(plaintext[16:])
	amount := new(big.Int).Sub(seed, masked)
	if amount.Sign() < 0 {
		amount.Add(amount, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return Result{Amount: amount, Valid: true}
}

// Payload is the wire form of a sealed bid: the XOR ciphertext and the
// bidder's compressed session public key, CBOR-encoded.
type Payload struct {
	Ciphertext    []byte `cbor:"1,keyasint"`
	SessionPubKey []byte `cbor:"2,keyasint"`
}

// EncodePayload packs a ciphertext and session public key for submission.
func EncodePayload(ciphertext [CiphertextSize]byte, sessionPub *secp256k1.PublicKey) ([]byte, error) {
	return cbor.Marshal(Payload{
		Ciphertext:    ciphertext[:],
		SessionPubKey: sessionPub.SerializeCompressed(),
	})
}

// DecodePayload unpacks and validates a submitted sealed bid. The session
// public key must parse to a point on the curve; the point at infinity is
// rejected by the parser.
func DecodePayload(data []byte) ([CiphertextSize]byte, *secp256k1.PublicKey, error) {
	var ct [CiphertextSize]byte

	var p Payload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return ct, nil, fmt.Errorf("decode sealed bid payload: %w", err)
	}
	if len(p.Ciphertext) != CiphertextSize {
		return ct, nil, fmt.Errorf("sealed bid ciphertext must be %d bytes, got %d", CiphertextSize, len(p.Ciphertext))
	}
	pub, err := secp256k1.ParsePubKey(p.SessionPubKey)
	if err != nil {
		return ct, nil, fmt.Errorf("parse session public key: %w", err)
	}
	copy(ct[:], p.Ciphertext)
	return ct, pub, nil
}
