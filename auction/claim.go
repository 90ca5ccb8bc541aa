package auction

import (
	"fmt"
	"log"
	"math/big"

	"github.com/cloudx-io/empauction/fixedmath"
	"github.com/cloudx-io/empauction/lotqueue"
)

// ClaimBids computes and returns the payout and refund for each listed bid
// of a settled lot, marking every one Claimed. The call validates all bids
// before mutating anything, so a bad id never leaves a half-claimed batch.
func (e *Engine) ClaimBids(lotID uint64, bidIDs []uint64) ([]Claim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status != StatusSettled {
		return nil, fmt.Errorf("lot %d is %s: %w", lotID, ls.data.Status, ErrWrongState)
	}

	for _, bidID := range bidIDs {
		bid, ok := ls.bids[bidID]
		if !ok {
			return nil, fmt.Errorf("lot %d bid %d: %w", lotID, bidID, ErrInvalidBidID)
		}
		if bid.Status == BidClaimed {
			return nil, fmt.Errorf("bid %d already claimed: %w", bidID, ErrWrongState)
		}
	}

	claims := make([]Claim, 0, len(bidIDs))
	for _, bidID := range bidIDs {
		bid := ls.bids[bidID]
		payout, refund := ls.claimOutcome(bid)
		bid.Status = BidClaimed
		claims = append(claims, Claim{
			BidID:    bidID,
			Bidder:   bid.Bidder,
			Referrer: bid.Referrer,
			Payout:   payout,
			Refund:   refund,
		})
		log.Printf("INFO: Lot %d: bid %d claimed by %s (payout=%s refund=%s)", lotID, bidID, bid.Bidder, payout, refund)
	}
	return claims, nil
}

// claimOutcome derives one bid's payout and refund from the settled marginal
// price. Payouts round down and refunds are exact, so the sum of payouts
// can never exceed the lot capacity.
func (ls *lotState) claimOutcome(bid *Bid) (payout, refund *big.Int) {
	fullRefund := func() (*big.Int, *big.Int) {
		return new(big.Int), new(big.Int).Set(bid.AmountIn)
	}

	marginal := ls.data.MarginalPrice
	if fixedmath.IsSentinel(marginal) || marginal.Sign() == 0 {
		// Failed, aborted, or cancelled lot.
		return fullRefund()
	}
	if bid.AmountOut.Sign() == 0 {
		// Never decrypted to an eligible value.
		return fullRefund()
	}
	if ls.partial != nil && bid.ID == ls.partial.BidID {
		return new(big.Int).Set(ls.partial.Payout), new(big.Int).Set(ls.partial.Refund)
	}

	price := ls.bidPrice(bid.AmountIn, bid.AmountOut)
	switch c := price.Cmp(marginal); {
	case c < 0:
		return fullRefund()
	case c == 0 && !ls.winsAtMarginal(bid):
		return fullRefund()
	}

	payout = fixedmath.MulDiv(bid.AmountIn, ls.baseScale(), marginal)
	return payout, new(big.Int)
}

// winsAtMarginal resolves ties exactly at the marginal price: the bid wins
// iff it outranks the recorded marginal bid in queue order. With no marginal
// bid recorded, every bid at the marginal price cleared.
func (ls *lotState) winsAtMarginal(bid *Bid) bool {
	if ls.data.MarginalBidID == 0 {
		return true
	}
	if bid.ID == ls.data.MarginalBidID {
		return false
	}
	marginalBid, ok := ls.bids[ls.data.MarginalBidID]
	if !ok {
		return false
	}
	return lotqueue.Outranks(
		lotqueue.Entry{BidID: bid.ID, AmountIn: bid.AmountIn, AmountOut: bid.AmountOut},
		lotqueue.Entry{BidID: marginalBid.ID, AmountIn: marginalBid.AmountIn, AmountOut: marginalBid.AmountOut},
	)
}
