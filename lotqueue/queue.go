// Package lotqueue provides the price-ordered bid queue used during
// decryption and settlement. Nodes live in an arena keyed by bid id with
// explicit next/prev link tables, bounded by sentinel start and end markers,
// so insertion and removal are O(1) relinks once the position is known.
//
// Insertion takes a caller-supplied hint naming the node the new entry should
// follow. Hints are an optimization only: a stale or wrong hint triggers a
// linear scan from the head, so the final order never depends on hint
// quality.
package lotqueue

import (
	"errors"
	"math"
	"math/big"
)

// Sentinel ids bounding the chain. Bid ids are assigned starting at 1, so
// neither sentinel collides with a real node.
const (
	SentinelStart uint64 = 0
	SentinelEnd   uint64 = math.MaxUint64
)

var (
	ErrDuplicate    = errors.New("lotqueue: bid already queued")
	ErrInvalidEntry = errors.New("lotqueue: invalid queue entry")
)

// Entry is the ordering key for one decrypted, eligible bid. The implied
// unit price is AmountIn/AmountOut; token decimal scaling cancels out of
// every comparison, so entries store raw amounts.
type Entry struct {
	BidID     uint64
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Outranks reports whether a precedes b in queue order: higher implied price
// first, then larger amount in, then smaller bid id. The price comparison
// cross-multiplies to stay exact. The tie chain makes the order total for
// distinct bid ids, so settlement is deterministic regardless of submission
// or insertion order.
func Outranks(a, b Entry) bool {
	pa := new(big.Int).Mul(a.AmountIn, b.AmountOut)
	pb := new(big.Int).Mul(b.AmountIn, a.AmountOut)
	if c := pa.Cmp(pb); c != 0 {
		return c > 0
	}
	if c := a.AmountIn.Cmp(b.AmountIn); c != 0 {
		return c > 0
	}
	return a.BidID < b.BidID
}

// Queue is a doubly-linked, totally ordered chain of bid entries.
type Queue struct {
	entries map[uint64]Entry
	next    map[uint64]uint64
	prev    map[uint64]uint64
}

// New returns an empty queue.
func New() *Queue {
	q := &Queue{
		entries: make(map[uint64]Entry),
		next:    make(map[uint64]uint64),
		prev:    make(map[uint64]uint64),
	}
	q.next[SentinelStart] = SentinelEnd
	q.prev[SentinelEnd] = SentinelStart
	return q
}

// Len returns the number of queued bids.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Contains reports whether the bid is currently queued.
func (q *Queue) Contains(bidID uint64) bool {
	_, ok := q.entries[bidID]
	return ok
}

// Entry returns the stored entry for a queued bid.
func (q *Queue) Entry(bidID uint64) (Entry, bool) {
	e, ok := q.entries[bidID]
	return e, ok
}

// First returns the id of the highest-ranked bid, or SentinelEnd if the
// queue is empty.
func (q *Queue) First() uint64 {
	return q.next[SentinelStart]
}

// Next returns the id following bidID in queue order. Passing SentinelStart
// is equivalent to First. Returns SentinelEnd past the final node or for an
// unknown id.
func (q *Queue) Next(bidID uint64) uint64 {
	n, ok := q.next[bidID]
	if !ok {
		return SentinelEnd
	}
	return n
}

// Insert places e into the queue. The hint names the node e should directly
// follow; SentinelStart means "I believe e belongs at the head". If the hint
// is missing, stale, or would break the order, Insert falls back to a linear
// scan from the head.
func (q *Queue) Insert(e Entry, hint uint64) error {
	if e.BidID == SentinelStart || e.BidID == SentinelEnd ||
		e.AmountIn == nil || e.AmountIn.Sign() <= 0 ||
		e.AmountOut == nil || e.AmountOut.Sign() <= 0 {
		return ErrInvalidEntry
	}
	if q.Contains(e.BidID) {
		return ErrDuplicate
	}

	if pred, ok := q.checkHint(e, hint); ok {
		q.linkAfter(pred, e)
		return nil
	}

	// Hint unusable: scan forward from the head for the first node the new
	// entry outranks.
	pred := SentinelStart
	for {
		succ := q.next[pred]
		if succ == SentinelEnd || Outranks(e, q.entries[succ]) {
			break
		}
		pred = succ
	}
	q.linkAfter(pred, e)
	return nil
}

// checkHint verifies the two local order conditions around the hint: the
// hint still outranks the new entry, and the hint's successor does not.
func (q *Queue) checkHint(e Entry, hint uint64) (uint64, bool) {
	if hint != SentinelStart {
		he, ok := q.entries[hint]
		if !ok || !Outranks(he, e) {
			return 0, false
		}
	}
	succ := q.next[hint]
	if succ != SentinelEnd && !Outranks(e, q.entries[succ]) {
		return 0, false
	}
	return hint, true
}

func (q *Queue) linkAfter(pred uint64, e Entry) {
	succ := q.next[pred]
	q.entries[e.BidID] = e
	q.next[pred] = e.BidID
	q.next[e.BidID] = succ
	q.prev[succ] = e.BidID
	q.prev[e.BidID] = pred
}

// Remove unlinks a bid from the chain. Reports whether the bid was present.
func (q *Queue) Remove(bidID uint64) bool {
	if !q.Contains(bidID) {
		return false
	}
	pred := q.prev[bidID]
	succ := q.next[bidID]
	q.next[pred] = succ
	q.prev[succ] = pred
	delete(q.entries, bidID)
	delete(q.next, bidID)
	delete(q.prev, bidID)
	return true
}

// IDs returns the queued bid ids in rank order. View helper for tests and
// operator tooling.
func (q *Queue) IDs() []uint64 {
	ids := make([]uint64, 0, len(q.entries))
	for id := q.First(); id != SentinelEnd; id = q.Next(id) {
		ids = append(ids, id)
	}
	return ids
}
