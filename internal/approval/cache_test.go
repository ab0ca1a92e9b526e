package approval

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/arbiter/internal/domain"
)

var (
	holder  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestCache(at time.Time) (*Cache, *time.Time) {
	c := NewCache()
	now := at
	c.now = func() time.Time { return now }
	return c, &now
}

func approvalWithDeadline(deadline time.Time) domain.CachedApproval {
	return domain.CachedApproval{
		Token:    token,
		Spender:  spender,
		V:        27,
		Deadline: big.NewInt(deadline.Unix()),
		Nonce:    big.NewInt(0),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, _ := newTestCache(base)

	c.Put(holder, approvalWithDeadline(base.Add(30*time.Minute)))

	got, ok := c.Get(holder, token, spender)
	require.True(t, ok)
	assert.Equal(t, uint8(27), got.V)
}

func TestGetExpiredDeadlineReturnsNothingAndEvicts(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, now := newTestCache(base)

	c.Put(holder, approvalWithDeadline(base.Add(10*time.Minute)))
	require.Equal(t, 1, c.Size())

	*now = base.Add(11 * time.Minute)

	_, ok := c.Get(holder, token, spender)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry evicted on read")

	// Repeated get on the same key stays empty.
	_, ok = c.Get(holder, token, spender)
	assert.False(t, ok)
}

func TestPutRefusesAlreadyExpiredApproval(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, _ := newTestCache(base)

	c.Put(holder, approvalWithDeadline(base.Add(-time.Second)))
	assert.Equal(t, 0, c.Size())
}

func TestTTLCeilingBeatsDistantDeadline(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, now := newTestCache(base)

	// Deadline 24h out, but the cache holds entries at most one hour.
	c.Put(holder, approvalWithDeadline(base.Add(24*time.Hour)))

	*now = base.Add(59 * time.Minute)
	_, ok := c.Get(holder, token, spender)
	assert.True(t, ok)

	*now = base.Add(61 * time.Minute)
	_, ok = c.Get(holder, token, spender)
	assert.False(t, ok)
}

func TestDeleteInvalidatesOneEntry(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, _ := newTestCache(base)
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")

	c.Put(holder, approvalWithDeadline(base.Add(30*time.Minute)))
	c.Put(other, approvalWithDeadline(base.Add(30*time.Minute)))

	c.Delete(holder, token, spender)

	_, ok := c.Get(holder, token, spender)
	assert.False(t, ok)
	_, ok = c.Get(other, token, spender)
	assert.True(t, ok)

	// Absent key is a no-op.
	c.Delete(holder, token, spender)
	assert.Equal(t, 1, c.Size())
}

func TestClearRemovesOnlyHolderEntries(t *testing.T) {
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	c, _ := newTestCache(base)
	other := common.HexToAddress("0x4444444444444444444444444444444444444444")

	c.Put(holder, approvalWithDeadline(base.Add(30*time.Minute)))
	c.Put(other, approvalWithDeadline(base.Add(30*time.Minute)))
	require.Equal(t, 2, c.Size())

	c.Clear(holder)

	_, ok := c.Get(holder, token, spender)
	assert.False(t, ok)
	_, ok = c.Get(other, token, spender)
	assert.True(t, ok)
}
