package auction

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestClaimBids_RequiresSettledLot(t *testing.T) {
	e, mock := newTestEngine(t)
	key := testKey(t)

	_, err := e.CreateLot(testLotID, testLotParams(mock.Now(), 100, key), 0, 0)
	check.Nil(t, err)
	bidID := submitTestBid(t, e, testLotID, "bidder_a", 10, 5, key)

	_, err = e.ClaimBids(testLotID, []uint64{bidID})
	check.True(t, errors.Is(err, ErrWrongState))

	_, err = e.ClaimBids(99, []uint64{bidID})
	check.True(t, errors.Is(err, ErrInvalidLotID))
}

func TestClaimBids_Batch(t *testing.T) {
	e, ids := setupDecryptedLot(t, 10, 0, 1, [][2]int64{{9, 1}, {4, 2}})
	settleFully(t, e, testLotID)

	claims, err := e.ClaimBids(testLotID, ids)
	check.Nil(t, err)
	check.Equal(t, 2, len(claims))
	check.Equal(t, ids[0], claims[0].BidID)
	check.Equal(t, "bidder_a", claims[0].Bidder)
	check.Equal(t, int64(4), claims[0].Payout.Int64())
	check.Equal(t, int64(2), claims[1].Payout.Int64())

	for _, id := range ids {
		bid, err := e.Bid(testLotID, id)
		check.Nil(t, err)
		check.Equal(t, BidClaimed, bid.Status)
	}
}

func TestClaimBids_DoubleClaim(t *testing.T) {
	e, ids := setupDecryptedLot(t, 10, 0, 1, [][2]int64{{9, 1}, {4, 2}})
	settleFully(t, e, testLotID)

	_, err := e.ClaimBids(testLotID, []uint64{ids[0]})
	check.Nil(t, err)
	_, err = e.ClaimBids(testLotID, []uint64{ids[0]})
	check.True(t, errors.Is(err, ErrWrongState))
}

func TestClaimBids_ValidatesWholeBatchFirst(t *testing.T) {
	e, ids := setupDecryptedLot(t, 10, 0, 1, [][2]int64{{9, 1}, {4, 2}})
	settleFully(t, e, testLotID)

	// A bad id anywhere in the batch leaves every bid unclaimed.
	_, err := e.ClaimBids(testLotID, []uint64{ids[0], 99})
	check.True(t, errors.Is(err, ErrInvalidBidID))

	bid, err := e.Bid(testLotID, ids[0])
	check.Nil(t, err)
	check.Equal(t, BidDecrypted, bid.Status)

	// The same applies to an already-claimed bid in the batch.
	_, err = e.ClaimBids(testLotID, []uint64{ids[1]})
	check.Nil(t, err)
	_, err = e.ClaimBids(testLotID, []uint64{ids[0], ids[1]})
	check.True(t, errors.Is(err, ErrWrongState))

	claims, err := e.ClaimBids(testLotID, []uint64{ids[0]})
	check.Nil(t, err)
	check.Equal(t, int64(4), claims[0].Payout.Int64())
}

func TestClaimBids_TieAtMarginalPrice(t *testing.T) {
	// Three identical bids (in=20 out=4, price 5) against capacity 8: the
	// first two fill it exactly and the third, ranked below by bid id, is
	// the recorded first loser at the same price.
	e, ids := setupDecryptedLot(t, 8, 0, 1, [][2]int64{{20, 4}, {20, 4}, {20, 4}})
	s := settleFully(t, e, testLotID)

	check.Equal(t, int64(5), s.MarginalPrice.Int64())
	check.Nil(t, s.Partial)

	payout, refund := claimOne(t, e, ids[0])
	check.Equal(t, int64(4), payout)
	check.Equal(t, int64(0), refund)
	payout, refund = claimOne(t, e, ids[1])
	check.Equal(t, int64(4), payout)
	check.Equal(t, int64(0), refund)
	payout, refund = claimOne(t, e, ids[2])
	check.Equal(t, int64(0), payout)
	check.Equal(t, int64(20), refund)
}

func TestClaimBids_CancelledLotRefundsAll(t *testing.T) {
	e, mock := newTestEngine(t)
	key := testKey(t)

	start := mock.Now().Add(time.Hour)
	_, err := e.CreateLot(testLotID, testLotParams(start, 100, key), 0, 0)
	check.Nil(t, err)
	check.Nil(t, e.CancelLot(testLotID))

	// No bids were ever submitted; claiming an unknown id still fails
	// cleanly on the settled lot.
	_, err = e.ClaimBids(testLotID, []uint64{1})
	check.True(t, errors.Is(err, ErrInvalidBidID))
}
