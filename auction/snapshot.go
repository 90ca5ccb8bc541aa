package auction

import (
	"fmt"
	"math/big"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/cloudx-io/empauction/lotqueue"
)

// Snapshots let the hosting dispatcher persist a lot across process
// restarts, including a settlement in progress. The queue is stored in rank
// order so restoring rebuilds it with perfect hints.

type bidSnapshot struct {
	ID            uint64 `cbor:"1,keyasint"`
	Bidder        string `cbor:"2,keyasint"`
	Referrer      string `cbor:"3,keyasint,omitempty"`
	AmountIn      []byte `cbor:"4,keyasint"`
	AmountOut     []byte `cbor:"5,keyasint"`
	Status        uint8  `cbor:"6,keyasint"`
	Ciphertext    []byte `cbor:"7,keyasint"`
	SessionPubKey []byte `cbor:"8,keyasint"`
}

type partialSnapshot struct {
	BidID  uint64 `cbor:"1,keyasint"`
	Payout []byte `cbor:"2,keyasint"`
	Refund []byte `cbor:"3,keyasint"`
}

type cursorSnapshot struct {
	Started   bool   `cbor:"1,keyasint"`
	NextID    uint64 `cbor:"2,keyasint"`
	TotalIn   []byte `cbor:"3,keyasint"`
	TotalOut  []byte `cbor:"4,keyasint"`
	LastPrice []byte `cbor:"5,keyasint"`
	LastBidID uint64 `cbor:"6,keyasint"`
}

type lotSnapshot struct {
	ID               uint64           `cbor:"1,keyasint"`
	Reference        []byte           `cbor:"2,keyasint"`
	StartUnixNano    int64            `cbor:"3,keyasint"`
	EndUnixNano      int64            `cbor:"4,keyasint"`
	Capacity         []byte           `cbor:"5,keyasint"`
	Sold             []byte           `cbor:"6,keyasint"`
	Purchased        []byte           `cbor:"7,keyasint"`
	QuoteDecimals    uint8            `cbor:"8,keyasint"`
	BaseDecimals     uint8            `cbor:"9,keyasint"`
	NextBidID        uint64           `cbor:"10,keyasint"`
	NextDecryptIndex int              `cbor:"11,keyasint"`
	Status           uint8            `cbor:"12,keyasint"`
	MarginalBidID    uint64           `cbor:"13,keyasint"`
	MarginalPrice    []byte           `cbor:"14,keyasint"`
	MinPrice         []byte           `cbor:"15,keyasint"`
	MinFilled        []byte           `cbor:"16,keyasint"`
	MinBidSize       []byte           `cbor:"17,keyasint"`
	PublicKey        []byte           `cbor:"18,keyasint"`
	PrivateKey       []byte           `cbor:"19,keyasint,omitempty"`
	Bids             []bidSnapshot    `cbor:"20,keyasint"`
	BidIDs           []uint64         `cbor:"21,keyasint"`
	Queue            []uint64         `cbor:"22,keyasint"`
	Partial          *partialSnapshot `cbor:"23,keyasint,omitempty"`
	Cursor           cursorSnapshot   `cbor:"24,keyasint"`
}

// SnapshotLot serializes one lot's complete state as CBOR.
func (e *Engine) SnapshotLot(lotID uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", lotID, ErrInvalidLotID)
	}

	snap := lotSnapshot{
		ID:               ls.lot.ID,
		Reference:        ls.lot.Reference[:],
		StartUnixNano:    ls.lot.Start.UnixNano(),
		EndUnixNano:      ls.lot.Conclusion.UnixNano(),
		Capacity:         ls.lot.Capacity.Bytes(),
		Sold:             ls.lot.Sold.Bytes(),
		Purchased:        ls.lot.Purchased.Bytes(),
		QuoteDecimals:    ls.lot.QuoteDecimals,
		BaseDecimals:     ls.lot.BaseDecimals,
		NextBidID:        ls.data.NextBidID,
		NextDecryptIndex: ls.data.NextDecryptIndex,
		Status:           uint8(ls.data.Status),
		MarginalBidID:    ls.data.MarginalBidID,
		MarginalPrice:    ls.data.MarginalPrice.Bytes(),
		MinPrice:         ls.data.MinPrice.Bytes(),
		MinFilled:        ls.data.MinFilled.Bytes(),
		MinBidSize:       ls.data.MinBidSize.Bytes(),
		PublicKey:        ls.data.PublicKey.SerializeCompressed(),
		BidIDs:           append([]uint64(nil), ls.bidIDs...),
		Queue:            ls.queue.IDs(),
	}
	if ls.data.PrivateKey != nil {
		snap.PrivateKey = ls.data.PrivateKey.Serialize()
	}
	for id := uint64(1); id < ls.data.NextBidID; id++ {
		bid, ok := ls.bids[id]
		if !ok {
			continue
		}
		sealed := ls.sealed[id]
		snap.Bids = append(snap.Bids, bidSnapshot{
			ID:            bid.ID,
			Bidder:        bid.Bidder,
			Referrer:      bid.Referrer,
			AmountIn:      bid.AmountIn.Bytes(),
			AmountOut:     bid.AmountOut.Bytes(),
			Status:        uint8(bid.Status),
			Ciphertext:    sealed.Ciphertext[:],
			SessionPubKey: sealed.SessionPubKey.SerializeCompressed(),
		})
	}
	if ls.partial != nil {
		snap.Partial = &partialSnapshot{
			BidID:  ls.partial.BidID,
			Payout: ls.partial.Payout.Bytes(),
			Refund: ls.partial.Refund.Bytes(),
		}
	}
	if ls.cursor.started {
		snap.Cursor = cursorSnapshot{
			Started:   true,
			NextID:    ls.cursor.nextID,
			TotalIn:   ls.cursor.totalIn.Bytes(),
			TotalOut:  ls.cursor.totalOut.Bytes(),
			LastBidID: ls.cursor.lastBidID,
		}
		if ls.cursor.lastPrice != nil {
			snap.Cursor.LastPrice = ls.cursor.lastPrice.Bytes()
		}
	}
	return cbor.Marshal(snap)
}

// RestoreLot reconstructs a lot from a snapshot. The lot id must not already
// be loaded.
func (e *Engine) RestoreLot(data []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var snap lotSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode lot snapshot: %w", err)
	}
	if _, exists := e.lots[snap.ID]; exists {
		return 0, fmt.Errorf("lot %d already loaded: %w", snap.ID, ErrInvalidLotID)
	}

	pub, err := secp256k1.ParsePubKey(snap.PublicKey)
	if err != nil {
		return 0, fmt.Errorf("snapshot public key: %w", err)
	}
	var ref uuid.UUID
	copy(ref[:], snap.Reference)

	lot := &Lot{
		ID:            snap.ID,
		Reference:     ref,
		Start:         time.Unix(0, snap.StartUnixNano),
		Conclusion:    time.Unix(0, snap.EndUnixNano),
		Capacity:      new(big.Int).SetBytes(snap.Capacity),
		Sold:          new(big.Int).SetBytes(snap.Sold),
		Purchased:     new(big.Int).SetBytes(snap.Purchased),
		QuoteDecimals: snap.QuoteDecimals,
		BaseDecimals:  snap.BaseDecimals,
	}
	auctionData := &AuctionData{
		NextBidID:        snap.NextBidID,
		NextDecryptIndex: snap.NextDecryptIndex,
		Status:           Status(snap.Status),
		MarginalBidID:    snap.MarginalBidID,
		MarginalPrice:    new(big.Int).SetBytes(snap.MarginalPrice),
		MinPrice:         new(big.Int).SetBytes(snap.MinPrice),
		MinFilled:        new(big.Int).SetBytes(snap.MinFilled),
		MinBidSize:       new(big.Int).SetBytes(snap.MinBidSize),
		PublicKey:        pub,
	}
	if len(snap.PrivateKey) > 0 {
		auctionData.PrivateKey = secp256k1.PrivKeyFromBytes(snap.PrivateKey)
	}

	ls := &lotState{
		lot:    lot,
		data:   auctionData,
		bids:   make(map[uint64]*Bid, len(snap.Bids)),
		sealed: make(map[uint64]*EncryptedBid, len(snap.Bids)),
		bidIDs: append([]uint64(nil), snap.BidIDs...),
		queue:  lotqueue.New(),
	}
	for _, bs := range snap.Bids {
		sessionPub, err := secp256k1.ParsePubKey(bs.SessionPubKey)
		if err != nil {
			return 0, fmt.Errorf("snapshot bid %d session key: %w", bs.ID, err)
		}
		var ct [32]byte
		copy(ct[:], bs.Ciphertext)
		ls.bids[bs.ID] = &Bid{
			ID:        bs.ID,
			Bidder:    bs.Bidder,
			Referrer:  bs.Referrer,
			AmountIn:  new(big.Int).SetBytes(bs.AmountIn),
			AmountOut: new(big.Int).SetBytes(bs.AmountOut),
			Status:    BidStatus(bs.Status),
		}
		ls.sealed[bs.ID] = &EncryptedBid{Ciphertext: ct, SessionPubKey: sessionPub}
	}

	// Rebuild the queue in stored rank order; each previous node is a
	// perfect hint for the next.
	hint := lotqueue.SentinelStart
	for _, id := range snap.Queue {
		bid, ok := ls.bids[id]
		if !ok {
			return 0, fmt.Errorf("snapshot queue references unknown bid %d", id)
		}
		err := ls.queue.Insert(lotqueue.Entry{
			BidID:     id,
			AmountIn:  bid.AmountIn,
			AmountOut: bid.AmountOut,
		}, hint)
		if err != nil {
			return 0, fmt.Errorf("snapshot queue bid %d: %w", id, err)
		}
		hint = id
	}

	if snap.Partial != nil {
		ls.partial = &PartialFill{
			BidID:  snap.Partial.BidID,
			Payout: new(big.Int).SetBytes(snap.Partial.Payout),
			Refund: new(big.Int).SetBytes(snap.Partial.Refund),
		}
	}
	if snap.Cursor.Started {
		// The walk position must point into the rebuilt queue; otherwise the
		// snapshot is corrupt and resuming would dereference a missing entry.
		if snap.Cursor.NextID != lotqueue.SentinelEnd && !ls.queue.Contains(snap.Cursor.NextID) {
			return 0, fmt.Errorf("snapshot cursor references unknown bid %d", snap.Cursor.NextID)
		}
		if snap.Cursor.LastBidID != 0 && !ls.queue.Contains(snap.Cursor.LastBidID) {
			return 0, fmt.Errorf("snapshot cursor last bid %d not queued", snap.Cursor.LastBidID)
		}
		ls.cursor = settleCursor{
			started:   true,
			nextID:    snap.Cursor.NextID,
			totalIn:   new(big.Int).SetBytes(snap.Cursor.TotalIn),
			totalOut:  new(big.Int).SetBytes(snap.Cursor.TotalOut),
			lastBidID: snap.Cursor.LastBidID,
		}
		if len(snap.Cursor.LastPrice) > 0 {
			ls.cursor.lastPrice = new(big.Int).SetBytes(snap.Cursor.LastPrice)
		}
	}

	e.lots[snap.ID] = ls
	return snap.ID, nil
}
