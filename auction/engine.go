package auction

import (
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cloudx-io/empauction/ecies"
	"github.com/cloudx-io/empauction/fixedmath"
	"github.com/cloudx-io/empauction/lotqueue"
)

// Config holds the module-level lifecycle constants.
type Config struct {
	// MinDuration is the shortest allowed bidding window.
	MinDuration time.Duration

	// SettleGrace is the dedicated post-conclusion settlement period. Once
	// it elapses without a successful settlement, anyone may abort the lot.
	SettleGrace time.Duration

	// MaxDecimals bounds the quote/base token decimal counts.
	MaxDecimals uint8
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinDuration: 1 * time.Hour,
		SettleGrace: 24 * time.Hour,
		MaxDecimals: 18,
	}
}

// Engine owns all lot state and exposes the operation surface consumed by
// the auction-house dispatcher. The dispatcher serializes calls per its
// run-to-completion model; the engine additionally holds a mutex so
// colocated readers cannot observe a half-applied mutation.
type Engine struct {
	mu   sync.Mutex
	cfg  Config
	clk  clock.Clock
	lots map[uint64]*lotState
}

// New creates an engine. A nil clk uses the wall clock; tests inject a mock
// clock to drive the lifecycle deterministically.
func New(cfg Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultConfig().MinDuration
	}
	if cfg.SettleGrace <= 0 {
		cfg.SettleGrace = DefaultConfig().SettleGrace
	}
	if cfg.MaxDecimals == 0 {
		cfg.MaxDecimals = DefaultConfig().MaxDecimals
	}
	return &Engine{
		cfg:  cfg,
		clk:  clk,
		lots: make(map[uint64]*lotState),
	}
}

// CreateLot initializes a lot and its auction data. The lot id is assigned
// by the owning dispatcher and must be unused.
func (e *Engine) CreateLot(id uint64, p LotParams, quoteDecimals, baseDecimals uint8) (*Lot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.lots[id]; exists {
		return nil, fmt.Errorf("lot %d already exists: %w", id, ErrInvalidLotID)
	}

	now := e.clk.Now()
	start := p.Start
	if start.IsZero() {
		start = now
	}
	if start.Before(now) {
		return nil, fmt.Errorf("start %s is in the past: %w", start, ErrInvalidStart)
	}
	if p.Duration < e.cfg.MinDuration {
		return nil, fmt.Errorf("duration %s below minimum %s: %w", p.Duration, e.cfg.MinDuration, ErrInvalidDuration)
	}
	if quoteDecimals > e.cfg.MaxDecimals || baseDecimals > e.cfg.MaxDecimals {
		return nil, fmt.Errorf("token decimals above %d: %w", e.cfg.MaxDecimals, ErrInvalidParams)
	}
	if p.Capacity == nil || p.Capacity.Sign() <= 0 || !fixedmath.FitsAmount(p.Capacity) {
		return nil, fmt.Errorf("capacity: %w", ErrInvalidParams)
	}
	if p.CapacityInQuote {
		// Marginal price settlement allocates base-token capacity.
		return nil, fmt.Errorf("quote-denominated capacity unsupported: %w", ErrInvalidParams)
	}
	if !fixedmath.ValidPrice(p.MinPrice) {
		return nil, fmt.Errorf("min price: %w", ErrInvalidParams)
	}
	if p.MinFillPercent > MaxFillPercent {
		return nil, fmt.Errorf("min fill percent %d above %d: %w", p.MinFillPercent, MaxFillPercent, ErrInvalidParams)
	}
	if p.MinBidSize == nil || p.MinBidSize.Sign() <= 0 || !fixedmath.FitsAmount(p.MinBidSize) {
		return nil, fmt.Errorf("min bid size: %w", ErrInvalidParams)
	}
	if p.PublicKey == nil {
		return nil, fmt.Errorf("auction public key: %w", ErrInvalidParams)
	}

	lot := &Lot{
		ID:              id,
		Reference:       uuid.New(),
		Start:           start,
		Conclusion:      start.Add(p.Duration),
		Capacity:        new(big.Int).Set(p.Capacity),
		Sold:            new(big.Int),
		Purchased:       new(big.Int),
		QuoteDecimals:   quoteDecimals,
		BaseDecimals:    baseDecimals,
		CapacityInQuote: false,
	}
	data := &AuctionData{
		NextBidID:     1,
		Status:        StatusCreated,
		MarginalPrice: new(big.Int),
		MinPrice:      new(big.Int).Set(p.MinPrice),
		MinFilled:     fixedmath.MulDivUp(p.Capacity, new(big.Int).SetUint64(p.MinFillPercent), new(big.Int).SetUint64(MaxFillPercent)),
		MinBidSize:    new(big.Int).Set(p.MinBidSize),
		PublicKey:     p.PublicKey,
	}
	e.lots[id] = &lotState{
		lot:    lot,
		data:   data,
		bids:   make(map[uint64]*Bid),
		sealed: make(map[uint64]*EncryptedBid),
		queue:  lotqueue.New(),
	}

	log.Printf("INFO: Created lot %d (ref %s): capacity=%s start=%s conclusion=%s minPrice=%s minFilled=%s",
		id, lot.Reference, lot.Capacity, lot.Start.Format(time.RFC3339), lot.Conclusion.Format(time.RFC3339),
		data.MinPrice, data.MinFilled)
	return copyLot(lot), nil
}

// biddingActive reports whether the lot currently accepts bids and refunds.
func (e *Engine) biddingActive(ls *lotState, now time.Time) bool {
	return ls.data.Status == StatusCreated &&
		!now.Before(ls.lot.Start) &&
		now.Before(ls.lot.Conclusion)
}

// SubmitBid stores a sealed bid and assigns its sequential id. The sealed
// payload is the CBOR encoding produced by ecies.EncodePayload; a payload
// that fails to decode is rejected here so the stored table only ever holds
// well-formed ciphertexts.
func (e *Engine) SubmitBid(lotID uint64, bidder, referrer string, amountIn *big.Int, sealedPayload []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return 0, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if !e.biddingActive(ls, e.clk.Now()) {
		return 0, fmt.Errorf("lot %d: %w", lotID, ErrMarketNotActive)
	}
	if bidder == "" {
		return 0, fmt.Errorf("bidder: %w", ErrInvalidParams)
	}
	if amountIn == nil || amountIn.Sign() <= 0 || !fixedmath.FitsAmount(amountIn) {
		return 0, fmt.Errorf("amount in: %w", ErrInvalidParams)
	}
	ciphertext, sessionPub, err := ecies.DecodePayload(sealedPayload)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrInvalidParams)
	}

	bidID := ls.data.NextBidID
	ls.data.NextBidID++
	ls.bids[bidID] = &Bid{
		ID:        bidID,
		Bidder:    bidder,
		Referrer:  referrer,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int),
		Status:    BidSubmitted,
	}
	ls.sealed[bidID] = &EncryptedBid{
		Ciphertext:    ciphertext,
		SessionPubKey: sessionPub,
	}
	ls.bidIDs = append(ls.bidIDs, bidID)

	log.Printf("INFO: Lot %d: bid %d submitted by %s (amountIn=%s)", lotID, bidID, bidder, amountIn)
	return bidID, nil
}

// RefundBid withdraws a bid before the lot concludes and returns the amount
// to refund. expectedIndex is the bid's position in the unsettled bid set;
// it must match, which lets the removal be O(1) without trusting the caller.
func (e *Engine) RefundBid(lotID, bidID uint64, expectedIndex int, bidder string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if !e.biddingActive(ls, e.clk.Now()) {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrMarketNotActive)
	}
	bid, ok := ls.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("lot %d bid %d: %w", lotID, bidID, ErrInvalidBidID)
	}
	if bid.Bidder != bidder {
		return nil, fmt.Errorf("bid %d belongs to another bidder: %w", bidID, ErrNotPermitted)
	}
	if bid.Status != BidSubmitted {
		return nil, fmt.Errorf("bid %d already %s: %w", bidID, bid.Status, ErrWrongState)
	}
	if expectedIndex < 0 || expectedIndex >= len(ls.bidIDs) || ls.bidIDs[expectedIndex] != bidID {
		return nil, fmt.Errorf("bid %d not at index %d: %w", bidID, expectedIndex, ErrInvalidParams)
	}

	// Swap-remove from the unsettled set so decryption never visits it.
	last := len(ls.bidIDs) - 1
	ls.bidIDs[expectedIndex] = ls.bidIDs[last]
	ls.bidIDs = ls.bidIDs[:last]
	bid.Status = BidClaimed

	log.Printf("INFO: Lot %d: bid %d refunded to %s (amountIn=%s)", lotID, bidID, bidder, bid.AmountIn)
	return new(big.Int).Set(bid.AmountIn), nil
}

// CancelLot cancels a lot strictly before its bidding window opens: capacity
// drops to zero and the lot settles as a no-op.
func (e *Engine) CancelLot(lotID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status != StatusCreated || !e.clk.Now().Before(ls.lot.Start) {
		return fmt.Errorf("lot %d already started or finalized: %w", lotID, ErrMarketNotActive)
	}

	ls.lot.Capacity = new(big.Int)
	ls.data.Status = StatusSettled
	log.Printf("INFO: Lot %d cancelled before start", lotID)
	return nil
}

// Abort force-settles a lot that failed to settle within the grace period
// after conclusion. The marginal price becomes the failure sentinel, so
// every bid is fully refundable through ClaimBids.
func (e *Engine) Abort(lotID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}
	if ls.data.Status == StatusSettled {
		return fmt.Errorf("lot %d already settled: %w", lotID, ErrWrongState)
	}
	deadline := ls.lot.Conclusion.Add(e.cfg.SettleGrace)
	if e.clk.Now().Before(deadline) {
		return fmt.Errorf("lot %d settlement grace period runs until %s: %w", lotID, deadline.Format(time.RFC3339), ErrWrongState)
	}

	ls.data.MarginalPrice = new(big.Int).Set(fixedmath.MaxPrice)
	ls.data.Status = StatusSettled
	log.Printf("WARNING: Lot %d aborted after settlement grace period; all bids refundable", lotID)
	return nil
}

func copyLot(l *Lot) *Lot {
	c := *l
	c.Capacity = new(big.Int).Set(l.Capacity)
	c.Sold = new(big.Int).Set(l.Sold)
	c.Purchased = new(big.Int).Set(l.Purchased)
	return &c
}

func copyBid(b *Bid) *Bid {
	c := *b
	c.AmountIn = new(big.Int).Set(b.AmountIn)
	c.AmountOut = new(big.Int).Set(b.AmountOut)
	return &c
}
