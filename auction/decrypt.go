package auction

import (
	"fmt"
	"log"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/cloudx-io/empauction/ecies"
	"github.com/cloudx-io/empauction/fixedmath"
	"github.com/cloudx-io/empauction/lotqueue"
)

// baseScale returns 10^baseDecimals, the scaling factor for implied unit
// prices: price = amountIn * baseScale / amountOut.
func (ls *lotState) baseScale() *big.Int {
	return fixedmath.Exp10(ls.lot.BaseDecimals)
}

// bidPrice computes a bid's implied unit price, rounded up so the bidder's
// minimum expectation is never overstated. amountOut must be positive.
func (ls *lotState) bidPrice(amountIn, amountOut *big.Int) *big.Int {
	return fixedmath.MulDivUp(amountIn, ls.baseScale(), amountOut)
}

// SubmitPrivateKey reveals the auctioneer's private key after the lot
// concludes. The key must pair with the stored public key under the same
// curve used for encryption. Optionally decrypts an initial batch of bids
// in the same call.
func (e *Engine) SubmitPrivateKey(lotID uint64, priv *secp256k1.PrivateKey, decryptCount int, hints []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status != StatusCreated {
		return fmt.Errorf("lot %d is %s: %w", lotID, ls.data.Status, ErrWrongState)
	}
	if e.clk.Now().Before(ls.lot.Conclusion) {
		return fmt.Errorf("lot %d has not concluded: %w", lotID, ErrWrongState)
	}
	if ls.data.PrivateKey != nil {
		return fmt.Errorf("lot %d key already submitted: %w", lotID, ErrWrongState)
	}
	if priv == nil || !priv.PubKey().IsEqual(ls.data.PublicKey) {
		return fmt.Errorf("lot %d private key does not match auction public key: %w", lotID, ErrInvalidKey)
	}
	// Validate the inline batch before storing the key, so a rejected call
	// leaves no trace and can simply be retried.
	if decryptCount > 0 {
		n := decryptCount
		if remaining := len(ls.bidIDs); n > remaining {
			n = remaining
		}
		if len(hints) != n {
			return fmt.Errorf("expected %d hints, got %d: %w", n, len(hints), ErrInvalidParams)
		}
	}

	ls.data.PrivateKey = priv
	log.Printf("INFO: Lot %d: private key revealed (%d bids pending decryption)", lotID, len(ls.bidIDs))

	if decryptCount > 0 || len(ls.bidIDs) == 0 {
		if _, err := e.decryptAndSort(ls, decryptCount, hints); err != nil {
			return err
		}
	}
	return nil
}

// DecryptAndSortBids decrypts up to count not-yet-decrypted bids starting at
// the persisted cursor and inserts each eligible bid into the sorted queue
// using the parallel hint. Returns the number of bids processed. Safe to
// call repeatedly with small batches; a call with zero bids to process is a
// no-op that leaves cursor and status untouched, except that a lot with no
// bids remaining transitions to Decrypted.
func (e *Engine) DecryptAndSortBids(lotID uint64, count int, hints []uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return 0, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status != StatusCreated {
		return 0, fmt.Errorf("lot %d is %s: %w", lotID, ls.data.Status, ErrWrongState)
	}
	if e.clk.Now().Before(ls.lot.Conclusion) {
		return 0, fmt.Errorf("lot %d has not concluded: %w", lotID, ErrWrongState)
	}
	if ls.data.PrivateKey == nil {
		return 0, fmt.Errorf("lot %d private key not submitted: %w", lotID, ErrWrongState)
	}
	return e.decryptAndSort(ls, count, hints)
}

func (e *Engine) decryptAndSort(ls *lotState, count int, hints []uint64) (int, error) {
	remaining := len(ls.bidIDs) - ls.data.NextDecryptIndex
	if remaining == 0 {
		// Nothing left: the lot is fully decrypted regardless of count.
		ls.data.Status = StatusDecrypted
		log.Printf("INFO: Lot %d: decryption complete (%d queued)", ls.lot.ID, ls.queue.Len())
		return 0, nil
	}
	if count < 0 {
		return 0, fmt.Errorf("negative count: %w", ErrInvalidParams)
	}
	n := count
	if n > remaining {
		n = remaining
	}
	if len(hints) != n {
		return 0, fmt.Errorf("expected %d hints, got %d: %w", n, len(hints), ErrInvalidParams)
	}
	if n == 0 {
		return 0, nil
	}

	for i := 0; i < n; i++ {
		bidID := ls.bidIDs[ls.data.NextDecryptIndex+i]
		e.decryptBid(ls, bidID, hints[i])
	}
	ls.data.NextDecryptIndex += n

	if ls.data.NextDecryptIndex == len(ls.bidIDs) {
		ls.data.Status = StatusDecrypted
		log.Printf("INFO: Lot %d: decryption complete (%d queued)", ls.lot.ID, ls.queue.Len())
	}
	return n, nil
}

// decryptBid decrypts one bid and queues it if eligible. Ineligible bids
// (failed decryption, zero or undersized amount out, price out of range) are
// marked Decrypted with a zero amount out and never queued; they settle as
// full refunds. A malformed bid must never fail the batch.
func (e *Engine) decryptBid(ls *lotState, bidID uint64, hint uint64) {
	bid := ls.bids[bidID]
	sealed := ls.sealed[bidID]
	bid.Status = BidDecrypted

	salt := ecies.Salt(ls.lot.ID, bid.Bidder, bid.AmountIn)
	res := ecies.Decrypt(sealed.Ciphertext, ls.data.PrivateKey, sealed.SessionPubKey, salt)
	if !res.Valid {
		log.Printf("INFO: Lot %d: bid %d failed decryption, excluded", ls.lot.ID, bidID)
		return
	}
	amountOut := res.Amount
	if amountOut.Sign() == 0 || !fixedmath.FitsAmount(amountOut) {
		log.Printf("INFO: Lot %d: bid %d amount out of range, excluded", ls.lot.ID, bidID)
		return
	}
	if amountOut.Cmp(ls.data.MinBidSize) < 0 {
		log.Printf("INFO: Lot %d: bid %d below minimum bid size, excluded", ls.lot.ID, bidID)
		return
	}
	price := ls.bidPrice(bid.AmountIn, amountOut)
	if !fixedmath.ValidPrice(price) {
		log.Printf("INFO: Lot %d: bid %d implied price out of range, excluded", ls.lot.ID, bidID)
		return
	}

	bid.AmountOut = amountOut
	err := ls.queue.Insert(lotqueue.Entry{
		BidID:     bidID,
		AmountIn:  bid.AmountIn,
		AmountOut: amountOut,
	}, hint)
	if err != nil {
		// Only reachable on a duplicate id, which the decrypt cursor rules
		// out. Neutralize rather than abort the batch.
		log.Printf("ERROR: Lot %d: bid %d could not be queued: %v", ls.lot.ID, bidID, err)
		bid.AmountOut = new(big.Int)
	}
}
