package auction

import (
	"fmt"
	"log"
	"math/big"

	"github.com/cloudx-io/empauction/fixedmath"
	"github.com/cloudx-io/empauction/lotqueue"
)

// Settlement reports the progress or outcome of a settlement call. TotalIn
// and TotalOut are the running walk totals: the quote collected and the base
// demanded as if every visited bid cleared at its own price. Once Finished,
// MarginalPrice is final and Partial describes the boundary bid, if any.
type Settlement struct {
	TotalIn       *big.Int
	TotalOut      *big.Int
	Capacity      *big.Int
	Finished      bool
	MarginalPrice *big.Int
	Partial       *PartialFill
}

// Settle advances settlement by at most maxBids queue entries. The walk
// state persists in the lot, so a sequence of small calls reproduces the
// exact outcome of one unbounded pass. Settlement finishes only when the
// walk terminates on capacity or queue exhaustion, never on the batch limit.
// A non-positive maxBids is a valid no-op that reports progress.
func (e *Engine) Settle(lotID uint64, maxBids int) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status != StatusDecrypted {
		return nil, fmt.Errorf("lot %d is %s: %w", lotID, ls.data.Status, ErrWrongState)
	}

	cur := &ls.cursor
	if !cur.started {
		cur.started = true
		cur.nextID = ls.queue.First()
		cur.totalIn = new(big.Int)
		cur.totalOut = new(big.Int)
	}

	scale := ls.baseScale()
	capacity := ls.lot.Capacity
	finished := false

	for visited := 0; maxBids > 0 && visited < maxBids; {
		id := cur.nextID
		if id == lotqueue.SentinelEnd {
			e.finalizeExhausted(ls)
			finished = true
			break
		}
		entry, _ := ls.queue.Entry(id)
		price := ls.bidPrice(entry.AmountIn, entry.AmountOut)

		// The queue is price-ordered, so the first bid under the minimum
		// price ends the walk; it and everything after it settle as refunds.
		if price.Cmp(ls.data.MinPrice) < 0 {
			e.finalizeExhausted(ls)
			finished = true
			break
		}

		// Capacity may already be filled at this bid's (lower) price by the
		// bids counted so far: the clearing price then falls between the
		// previous bid's price and this one, and this bid is the first loser.
		if cur.totalIn.Sign() > 0 {
			expended := fixedmath.MulDiv(cur.totalIn, scale, price)
			if expended.Cmp(capacity) >= 0 {
				marginal := fixedmath.MulDivUp(cur.totalIn, scale, capacity)
				e.finalizeCleared(ls, marginal, id, nil)
				finished = true
				break
			}
		}

		cur.totalIn.Add(cur.totalIn, entry.AmountIn)
		cur.totalOut.Add(cur.totalOut, entry.AmountOut)
		cur.lastPrice = price
		cur.lastBidID = id
		visited++

		expended := fixedmath.MulDiv(cur.totalIn, scale, price)
		if expended.Cmp(capacity) >= 0 {
			var partial *PartialFill
			marginalBid := uint64(0)
			if expended.Cmp(capacity) > 0 {
				// This bid straddles the capacity limit: it is the boundary
				// bid and receives exactly the remaining capacity.
				prevIn := new(big.Int).Sub(cur.totalIn, entry.AmountIn)
				prevExpended := fixedmath.MulDiv(prevIn, scale, price)
				filled := new(big.Int).Sub(capacity, prevExpended)
				consumed := fixedmath.MulDivUp(filled, price, scale)
				if consumed.Cmp(entry.AmountIn) > 0 {
					consumed = new(big.Int).Set(entry.AmountIn)
				}
				partial = &PartialFill{
					BidID:  id,
					Payout: filled,
					Refund: new(big.Int).Sub(entry.AmountIn, consumed),
				}
				marginalBid = id
			} else if next := ls.queue.Next(id); next != lotqueue.SentinelEnd {
				// Exact fill: the next queued bid is the first loser, which
				// disambiguates ties at the marginal price during claims.
				marginalBid = next
			}
			e.finalizeCleared(ls, price, marginalBid, partial)
			finished = true
			break
		}
		cur.nextID = ls.queue.Next(id)
	}

	s := &Settlement{
		TotalIn:       new(big.Int).Set(cur.totalIn),
		TotalOut:      new(big.Int).Set(cur.totalOut),
		Capacity:      new(big.Int).Set(capacity),
		Finished:      finished,
		MarginalPrice: new(big.Int).Set(ls.data.MarginalPrice),
	}
	if ls.partial != nil {
		s.Partial = &PartialFill{
			BidID:  ls.partial.BidID,
			Payout: new(big.Int).Set(ls.partial.Payout),
			Refund: new(big.Int).Set(ls.partial.Refund),
		}
	}
	return s, nil
}

// finalizeExhausted derives the marginal price when the walk ran out of
// eligible bids before filling capacity.
func (e *Engine) finalizeExhausted(ls *lotState) {
	cur := &ls.cursor
	scale := ls.baseScale()
	capacity := ls.lot.Capacity

	if cur.totalIn.Sign() == 0 {
		e.finalizeFailed(ls)
		return
	}

	// Price that would exhaust capacity exactly with the collected quote.
	exact := fixedmath.MulDivUp(cur.totalIn, scale, capacity)
	candidate := exact
	if candidate.Cmp(cur.lastPrice) < 0 {
		// Never price below the last qualifying bid's own limit.
		candidate = cur.lastPrice
	}
	sold := fixedmath.MulDiv(cur.totalIn, scale, candidate)

	switch {
	case sold.Cmp(ls.data.MinFilled) >= 0:
		e.finalizeCleared(ls, candidate, 0, nil)
	case fixedmath.MulDiv(cur.totalIn, scale, ls.data.MinPrice).Cmp(capacity) >= 0:
		// Demand at the reserve price covers capacity even though the last
		// bid's own price leaves the minimum fill short.
		e.finalizeCleared(ls, exact, 0, nil)
	default:
		e.finalizeFailed(ls)
	}
}

// finalizeCleared commits a successful settlement at the given marginal
// price. Write-once: status moves to Settled and the lot aggregates are set.
func (e *Engine) finalizeCleared(ls *lotState, marginal *big.Int, marginalBid uint64, partial *PartialFill) {
	cur := &ls.cursor
	scale := ls.baseScale()

	ls.data.MarginalPrice = new(big.Int).Set(marginal)
	ls.data.MarginalBidID = marginalBid
	ls.partial = partial

	purchased := new(big.Int).Set(cur.totalIn)
	sold := fixedmath.Min(fixedmath.MulDiv(cur.totalIn, scale, marginal), ls.lot.Capacity)
	if partial != nil {
		purchased.Sub(purchased, partial.Refund)
		sold = new(big.Int).Set(ls.lot.Capacity)
	}
	ls.lot.Purchased = purchased
	ls.lot.Sold = sold
	ls.data.Status = StatusSettled

	log.Printf("INFO: Lot %d settled: marginalPrice=%s marginalBid=%d sold=%s purchased=%s partial=%v",
		ls.lot.ID, marginal, marginalBid, sold, purchased, partial != nil)
}

// finalizeFailed commits a failed settlement: the sentinel price makes every
// bid fully refundable.
func (e *Engine) finalizeFailed(ls *lotState) {
	ls.data.MarginalPrice = new(big.Int).Set(fixedmath.MaxPrice)
	ls.data.MarginalBidID = 0
	ls.partial = nil
	ls.lot.Sold = new(big.Int)
	ls.lot.Purchased = new(big.Int)
	ls.data.Status = StatusSettled

	log.Printf("INFO: Lot %d settled without clearing: all bids refundable", ls.lot.ID)
}
