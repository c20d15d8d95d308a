package entity

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_StoreUnitsChunksByBatchSize(t *testing.T) {
	o := Order{ResourceType: "OAK_LOG"}
	o.StoreUnits(130, 64)

	require.Len(t, o.StoredUnits, 3)
	assert.Equal(t, []Batch{
		{ResourceType: "OAK_LOG", Count: 64},
		{ResourceType: "OAK_LOG", Count: 64},
		{ResourceType: "OAK_LOG", Count: 2},
	}, o.StoredUnits)
	assert.Equal(t, int64(130), o.StoredCount())
}

func TestOrder_TakeUnits(t *testing.T) {
	newOrder := func() Order {
		o := Order{ResourceType: "IRON"}
		for i := int64(1); i <= 4; i++ {
			o.StoredUnits = append(o.StoredUnits, Batch{ResourceType: "IRON", Count: i})
		}
		return o
	}

	t.Run("middle range", func(t *testing.T) {
		o := newOrder()
		taken := o.TakeUnits(1, 2)
		assert.Equal(t, []Batch{{"IRON", 2}, {"IRON", 3}}, taken)
		assert.Equal(t, []Batch{{"IRON", 1}, {"IRON", 4}}, o.StoredUnits)
	})

	t.Run("limit zero takes rest", func(t *testing.T) {
		o := newOrder()
		taken := o.TakeUnits(2, 0)
		assert.Len(t, taken, 2)
		assert.Len(t, o.StoredUnits, 2)
	})

	t.Run("offset past end", func(t *testing.T) {
		o := newOrder()
		assert.Nil(t, o.TakeUnits(9, 1))
		assert.Len(t, o.StoredUnits, 4)
	})

	t.Run("huge limit takes rest", func(t *testing.T) {
		o := newOrder()
		assert.NotPanics(t, func() {
			assert.Len(t, o.TakeUnits(1, math.MaxInt), 3)
		})
		assert.Equal(t, []Batch{{"IRON", 1}}, o.StoredUnits)
	})

	t.Run("limit clamps", func(t *testing.T) {
		o := newOrder()
		assert.Len(t, o.TakeUnits(3, 10), 1)
		assert.Equal(t, int64(6), o.StoredCount())
	})
}

func TestOrder_CloneIsDeep(t *testing.T) {
	collector := uuid.New()
	o := Order{ResourceType: "SAND", StoredUnits: []Batch{{"SAND", 5}}, TrustedCollectors: []uuid.UUID{collector}}

	c := o.Clone()
	c.StoredUnits[0].Count = 1
	c.TrustedCollectors[0] = uuid.Nil

	assert.Equal(t, int64(5), o.StoredUnits[0].Count)
	assert.Equal(t, collector, o.TrustedCollectors[0])
}

func TestOrder_Trust(t *testing.T) {
	var o Order
	id := uuid.New()
	assert.True(t, o.Trust(id))
	assert.False(t, o.Trust(id))
	assert.True(t, o.IsTrusted(id))
	assert.Len(t, o.TrustedCollectors, 1)
}

func TestOrder_IsExpired(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	o := Order{Status: StatusCompleted, ExpiresAt: at}

	assert.False(t, o.IsExpired(at.Add(-time.Millisecond)))
	assert.True(t, o.IsExpired(at))

	o.Status = StatusActive
	assert.False(t, o.IsExpired(at.Add(time.Hour)))

	o = Order{Status: StatusCompleted}
	assert.False(t, o.IsExpired(at))
}

func TestOrder_Validate(t *testing.T) {
	valid := Order{ID: 1, TotalQuantity: 10, RemainingQuantity: 4, Status: StatusActive}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.RemainingQuantity = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.RemainingQuantity = 11
	assert.Error(t, bad.Validate())

	bad = valid
	bad.TotalQuantity = 0
	assert.Error(t, bad.Validate())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	_, err = ParseStatus("PAUSED")
	assert.Error(t, err)
}

func TestTimestamp(t *testing.T) {
	local := time.FixedZone("east", 3*3600)
	at := time.Date(2026, 3, 1, 12, 0, 0, 671_420_224, local)

	got := Timestamp(at)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 671_000_000, got.Nanosecond())
	assert.Equal(t, at.UnixMilli(), got.UnixMilli())
	assert.True(t, Timestamp(time.Time{}).IsZero())
}
