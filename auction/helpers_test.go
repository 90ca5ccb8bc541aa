package auction

import (
	"math/big"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/cloudx-io/empauction/ecies"
)

const testLotID uint64 = 1

// newTestEngine returns an engine on a mock clock positioned at a fixed
// instant, so lifecycle windows are driven explicitly by each test.
func newTestEngine(t *testing.T) (*Engine, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(DefaultConfig(), mock), mock
}

func testKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// testLotParams builds a plain lot: capacity in whole base units (zero
// decimals), reserve price 1, no minimum fill, minimum bid size 1.
func testLotParams(start time.Time, capacity int64, auctionKey *secp256k1.PrivateKey) LotParams {
	return LotParams{
		Start:      start,
		Duration:   2 * time.Hour,
		Capacity:   big.NewInt(capacity),
		MinPrice:   big.NewInt(1),
		MinBidSize: big.NewInt(1),
		PublicKey:  auctionKey.PubKey(),
	}
}

// sealAmount produces the sealed payload for a bid, encrypting under the
// given auction public key with a fresh session key.
func sealAmount(t *testing.T, lotID uint64, bidder string, amountIn, amountOut *big.Int, auctionPub *secp256k1.PublicKey) []byte {
	t.Helper()
	sessionKey := testKey(t)
	salt := ecies.Salt(lotID, bidder, amountIn)
	ct, err := ecies.Encrypt(amountOut, auctionPub, sessionKey, salt)
	if err != nil {
		t.Fatalf("encrypt bid: %v", err)
	}
	payload, err := ecies.EncodePayload(ct, sessionKey.PubKey())
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return payload
}

// submitTestBid seals and submits one bid, returning its id.
func submitTestBid(t *testing.T, e *Engine, lotID uint64, bidder string, amountIn, amountOut int64, auctionKey *secp256k1.PrivateKey) uint64 {
	t.Helper()
	in := big.NewInt(amountIn)
	payload := sealAmount(t, lotID, bidder, in, big.NewInt(amountOut), auctionKey.PubKey())
	bidID, err := e.SubmitBid(lotID, bidder, "", in, payload)
	if err != nil {
		t.Fatalf("submit bid for %s: %v", bidder, err)
	}
	return bidID
}

// startHints returns n sentinel-start hints, forcing linear-scan insertion.
func startHints(n int) []uint64 {
	return make([]uint64, n)
}

// decryptAll reveals the key (already past conclusion) and decrypts every
// bid with sentinel hints.
func decryptAll(t *testing.T, e *Engine, lotID uint64, auctionKey *secp256k1.PrivateKey) {
	t.Helper()
	if err := e.SubmitPrivateKey(lotID, auctionKey, 0, nil); err != nil {
		t.Fatalf("submit private key: %v", err)
	}
	_, undecrypted, err := e.NumBids(lotID)
	if err != nil {
		t.Fatalf("num bids: %v", err)
	}
	if undecrypted == 0 {
		// Key reveal already moved the lot to Decrypted.
		return
	}
	if _, err := e.DecryptAndSortBids(lotID, undecrypted, startHints(undecrypted)); err != nil {
		t.Fatalf("decrypt and sort: %v", err)
	}
}

// settleFully drives settlement to completion with a generous batch size.
func settleFully(t *testing.T, e *Engine, lotID uint64) *Settlement {
	t.Helper()
	s, err := e.Settle(lotID, 1<<30)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !s.Finished {
		t.Fatalf("settlement did not finish in one pass")
	}
	return s
}
