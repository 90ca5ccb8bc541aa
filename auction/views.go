package auction

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/empauction/fixedmath"
)

// Lot returns a copy of the lot record.
func (e *Engine) Lot(lotID uint64) (*Lot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	return copyLot(ls.lot), nil
}

// Status returns the lot's lifecycle stage.
func (e *Engine) Status(lotID uint64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return 0, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	return ls.data.Status, nil
}

// Bid returns a copy of one bid.
func (e *Engine) Bid(lotID, bidID uint64) (*Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	bid, ok := ls.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("lot %d bid %d: %w", lotID, bidID, ErrInvalidBidID)
	}
	return copyBid(bid), nil
}

// NumBids returns the total number of bids ever submitted and the number
// still awaiting decryption.
func (e *Engine) NumBids(lotID uint64) (total int, undecrypted int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return 0, 0, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	return len(ls.bids), len(ls.bidIDs) - ls.data.NextDecryptIndex, nil
}

// QueueIDs returns the decrypted, eligible bid ids in settlement order.
func (e *Engine) QueueIDs(lotID uint64) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	return ls.queue.IDs(), nil
}

// MarginalPrice returns the settled marginal price and whether it is the
// failure sentinel. Zero before settlement.
func (e *Engine) MarginalPrice(lotID uint64) (*big.Int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, false, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	p := new(big.Int).Set(ls.data.MarginalPrice)
	return p, fixedmath.IsSentinel(p), nil
}

// LotSummary is a human-scale snapshot of a lot for operator tooling. All
// values are decimal-adjusted by the token decimal counts; settlement math
// never touches this representation.
type LotSummary struct {
	ID            uint64
	Reference     string
	Status        string
	Capacity      decimal.Decimal
	Sold          decimal.Decimal
	Purchased     decimal.Decimal
	MinPrice      decimal.Decimal
	MarginalPrice decimal.Decimal
	Cleared       bool
	Bids          int
}

// Summary renders the lot at display precision. A failed lot reports a zero
// marginal price with Cleared=false.
func (e *Engine) Summary(lotID uint64) (*LotSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}

	base := -int32(ls.lot.BaseDecimals)
	quote := -int32(ls.lot.QuoteDecimals)
	s := &LotSummary{
		ID:        ls.lot.ID,
		Reference: ls.lot.Reference.String(),
		Status:    ls.data.Status.String(),
		Capacity:  decimal.NewFromBigInt(ls.lot.Capacity, base),
		Sold:      decimal.NewFromBigInt(ls.lot.Sold, base),
		Purchased: decimal.NewFromBigInt(ls.lot.Purchased, quote),
		MinPrice:  decimal.NewFromBigInt(ls.data.MinPrice, quote),
		Bids:      len(ls.bids),
	}
	if ls.data.Status == StatusSettled && fixedmath.ValidPrice(ls.data.MarginalPrice) {
		s.MarginalPrice = decimal.NewFromBigInt(ls.data.MarginalPrice, quote)
		s.Cleared = true
	}
	return s, nil
}
