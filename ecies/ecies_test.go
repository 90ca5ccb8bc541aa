package ecies

import (
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/check"
)

func mustKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	auctionKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(1, "bidder_a", big.NewInt(1000))

	for _, amount := range []int64{0, 1, 42, 1 << 40} {
		ct, err := Encrypt(big.NewInt(amount), auctionKey.PubKey(), sessionKey, salt)
		check.Nil(t, err)

		res := Decrypt(ct, auctionKey, sessionKey.PubKey(), salt)
		check.True(t, res.Valid)
		check.Equal(t, amount, res.Amount.Int64())
	}
}

func TestEncryptDecrypt_LargeAmount(t *testing.T) {
	auctionKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(7, "bidder_b", big.NewInt(5))

	// Near the top of the 96-bit amount range used by the auction module.
	amount := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
	ct, err := Encrypt(amount, auctionKey.PubKey(), sessionKey, salt)
	check.Nil(t, err)

	res := Decrypt(ct, auctionKey, sessionKey.PubKey(), salt)
	check.True(t, res.Valid)
	check.Equal(t, 0, res.Amount.Cmp(amount))
}

func TestEncrypt_RejectsOversizedAmount(t *testing.T) {
	auctionKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(1, "bidder_a", big.NewInt(1))

	tooBig := new(big.Int).Lsh(big.NewInt(1), 128)
	_, err := Encrypt(tooBig, auctionKey.PubKey(), sessionKey, salt)
	check.NotNil(t, err)
}

func TestDecrypt_WrongKeyIsInvalidNotFatal(t *testing.T) {
	auctionKey := mustKey(t)
	wrongKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(3, "bidder_c", big.NewInt(250))

	ct, err := Encrypt(big.NewInt(123), auctionKey.PubKey(), sessionKey, salt)
	check.Nil(t, err)

	res := Decrypt(ct, wrongKey, sessionKey.PubKey(), salt)
	check.False(t, res.Valid)
	check.Equal(t, int64(0), res.Amount.Int64())
}

func TestDecrypt_WrongSaltIsInvalid(t *testing.T) {
	auctionKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(3, "bidder_c", big.NewInt(250))

	ct, err := Encrypt(big.NewInt(123), auctionKey.PubKey(), sessionKey, salt)
	check.Nil(t, err)

	// Same bidder, different declared amount in: the salt changes, so the
	// ciphertext no longer decrypts.
	otherSalt := Salt(3, "bidder_c", big.NewInt(251))
	res := Decrypt(ct, auctionKey, sessionKey.PubKey(), otherSalt)
	check.False(t, res.Valid)
}

func TestSalt_BindsAllInputs(t *testing.T) {
	base := Salt(1, "bidder_a", big.NewInt(100))
	check.NotEqual(t, base, Salt(2, "bidder_a", big.NewInt(100)))
	check.NotEqual(t, base, Salt(1, "bidder_b", big.NewInt(100)))
	check.NotEqual(t, base, Salt(1, "bidder_a", big.NewInt(101)))
	check.Equal(t, base, Salt(1, "bidder_a", big.NewInt(100)))
}

func TestPayload_RoundTrip(t *testing.T) {
	auctionKey := mustKey(t)
	sessionKey := mustKey(t)
	salt := Salt(9, "bidder_d", big.NewInt(77))

	ct, err := Encrypt(big.NewInt(9000), auctionKey.PubKey(), sessionKey, salt)
	check.Nil(t, err)

	data, err := EncodePayload(ct, sessionKey.PubKey())
	check.Nil(t, err)

	gotCT, gotPub, err := DecodePayload(data)
	check.Nil(t, err)
	check.Equal(t, ct, gotCT)
	check.True(t, gotPub.IsEqual(sessionKey.PubKey()))
}

func TestDecodePayload_Malformed(t *testing.T) {
	_, _, err := DecodePayload([]byte{0xff, 0x00, 0x13})
	check.NotNil(t, err)

	// Valid CBOR but an unparseable public key (bad format prefix).
	badKey := make([]byte, 33)
	badKey[0] = 0x05
	data, err := cbor.Marshal(Payload{Ciphertext: make([]byte, CiphertextSize), SessionPubKey: badKey})
	check.Nil(t, err)
	_, _, err = DecodePayload(data)
	check.NotNil(t, err)

	// Short ciphertext.
	data, err = cbor.Marshal(Payload{Ciphertext: make([]byte, 8), SessionPubKey: mustKey(t).PubKey().SerializeCompressed()})
	check.Nil(t, err)
	_, _, err = DecodePayload(data)
	check.NotNil(t, err)
}
