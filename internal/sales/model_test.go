package sales

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusReady.CanTransitionTo(StatusPartiallyDelivered))
	assert.True(t, StatusPartiallyDelivered.CanTransitionTo(StatusDelivered))
	assert.False(t, StatusDraft.CanTransitionTo(StatusDelivered))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusDraft))
	assert.False(t, StatusDelivered.CanTransitionTo(StatusCancelled))
}

func TestStatusCanEditItems(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusConfirmed, StatusProcessing, StatusReady} {
		assert.True(t, s.CanEditItems(), s)
	}
	for _, s := range []Status{StatusDelivered, StatusPartiallyDelivered, StatusCancelled} {
		assert.False(t, s.CanEditItems(), s)
	}
	assert.False(t, Status("shipped").IsValid())
}

func TestItemByProduct(t *testing.T) {
	items := []OrderItem{
		{ID: 1, ProductID: 10, Quantity: decimal.NewFromInt(2)},
		{ID: 2, ProductID: 11, Quantity: decimal.NewFromInt(3)},
	}
	idx := ItemByProduct(items)
	assert.Len(t, idx, 2)
	assert.Equal(t, int64(2), idx[11].ID)
}
