// Package auction implements the encrypted marginal price batch auction
// core: lot lifecycle, sealed bid intake, chunked decrypt-and-sort into a
// price-ordered queue, resumable settlement deriving a single uniform
// clearing price, and per-bid claims.
//
// The hosting dispatcher drives one call at a time to completion; every
// batch operation is bounded by an explicit count parameter and resumable
// via persisted cursors, so no call ever loops over an unbounded number of
// bids.
package auction

import (
	"errors"
	"math/big"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/cloudx-io/empauction/lotqueue"
)

// Status is the per-lot lifecycle stage. Bidding is implicitly active while
// a lot is Created and inside its bidding window.
type Status uint8

const (
	StatusCreated Status = iota
	StatusDecrypted
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDecrypted:
		return "decrypted"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// BidStatus tracks a single bid through its life. Claimed is terminal and
// reached exactly once, via refund before conclusion or claim after
// settlement.
type BidStatus uint8

const (
	BidSubmitted BidStatus = iota
	BidDecrypted
	BidClaimed
)

func (s BidStatus) String() string {
	switch s {
	case BidSubmitted:
		return "submitted"
	case BidDecrypted:
		return "decrypted"
	case BidClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Sentinel errors for the operation surface. Callers match with errors.Is;
// wrapped messages carry the offending parameter.
var (
	ErrInvalidLotID    = errors.New("invalid lot id")
	ErrInvalidBidID    = errors.New("invalid bid id")
	ErrInvalidStart    = errors.New("invalid lot start")
	ErrInvalidDuration = errors.New("invalid lot duration")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrInvalidKey      = errors.New("invalid key")
	ErrMarketNotActive = errors.New("market not active")
	ErrNotPermitted    = errors.New("not permitted")
	ErrWrongState      = errors.New("wrong state")
)

// MaxFillPercent expresses minimum-fill percentages in thousandths of a
// percent: 100_000 == 100%.
const MaxFillPercent uint64 = 100_000

// LotParams carries the auctioneer-supplied parameters for a new lot.
type LotParams struct {
	Start           time.Time
	Duration        time.Duration
	Capacity        *big.Int
	CapacityInQuote bool
	MinPrice        *big.Int
	MinFillPercent  uint64
	MinBidSize      *big.Int
	PublicKey       *secp256k1.PublicKey
}

// Lot is one auction instance. Capacity only ever decreases (forced to zero
// on cancellation) and the whole record is immutable once settled, except
// for the Sold/Purchased aggregates written by settlement itself.
type Lot struct {
	ID              uint64
	Reference       uuid.UUID
	Start           time.Time
	Conclusion      time.Time
	Capacity        *big.Int
	Sold            *big.Int
	Purchased       *big.Int
	QuoteDecimals   uint8
	BaseDecimals    uint8
	CapacityInQuote bool
}

// AuctionData is the per-lot settlement state. MarginalPrice and
// MarginalBidID are write-once, set only when settlement finalizes.
// MarginalPrice equal to fixedmath.MaxPrice means the auction failed to
// clear and every bid is fully refundable.
type AuctionData struct {
	NextBidID        uint64
	NextDecryptIndex int
	Status           Status
	MarginalBidID    uint64
	MarginalPrice    *big.Int
	MinPrice         *big.Int
	MinFilled        *big.Int
	MinBidSize       *big.Int
	PublicKey        *secp256k1.PublicKey
	PrivateKey       *secp256k1.PrivateKey
}

// Bid is a single sealed bid. AmountIn never changes after submission;
// AmountOut stays zero until a valid decryption reveals it.
type Bid struct {
	ID        uint64
	Bidder    string
	Referrer  string
	AmountIn  *big.Int
	AmountOut *big.Int
	Status    BidStatus
}

// EncryptedBid is the immutable sealed payload accompanying a bid.
type EncryptedBid struct {
	Ciphertext    [32]byte
	SessionPubKey *secp256k1.PublicKey
}

// PartialFill records the one boundary bid that straddles the capacity
// limit: its exact base-token payout and quote-token refund. At most one
// exists per lot.
type PartialFill struct {
	BidID  uint64
	Payout *big.Int
	Refund *big.Int
}

// Claim is the payout/refund outcome for one bid, produced by ClaimBids.
type Claim struct {
	BidID    uint64
	Bidder   string
	Referrer string
	Payout   *big.Int
	Refund   *big.Int
}

// settleCursor is the persisted progress of a chunked settlement walk.
// Resuming from it reproduces the exact outcome of a single-pass walk.
type settleCursor struct {
	started   bool
	nextID    uint64
	totalIn   *big.Int
	totalOut  *big.Int
	lastPrice *big.Int
	lastBidID uint64
}

// lotState aggregates everything the engine tracks for one lot.
type lotState struct {
	lot     *Lot
	data    *AuctionData
	bids    map[uint64]*Bid
	sealed  map[uint64]*EncryptedBid
	bidIDs  []uint64
	queue   *lotqueue.Queue
	partial *PartialFill
	cursor  settleCursor
}
