package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOrder(t *testing.T) {
	t.Run("should walk the full fulfillment path", func(t *testing.T) {
		path := []string{
			OrderDraft, OrderQuoted, OrderApproved, OrderPaid,
			OrderProcessing, OrderShipped, OrderFulfilled,
		}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, CanTransitionOrder(path[i], path[i+1]),
				"%s -> %s should be legal", path[i], path[i+1])
		}
	})

	t.Run("should allow digital orders to fulfill straight from paid", func(t *testing.T) {
		assert.True(t, CanTransitionOrder(OrderPaid, OrderFulfilled))
	})

	t.Run("should allow cancellation from every non-terminal status", func(t *testing.T) {
		for _, from := range []string{OrderDraft, OrderQuoted, OrderApproved, OrderPaid, OrderProcessing, OrderShipped} {
			assert.True(t, CanTransitionOrder(from, OrderCancelled),
				"%s -> cancelled should be legal", from)
		}
	})

	t.Run("should treat fulfilled and cancelled as terminal", func(t *testing.T) {
		assert.Empty(t, orderTransitions[OrderFulfilled])
		assert.Empty(t, orderTransitions[OrderCancelled])
		assert.False(t, CanTransitionOrder(OrderCancelled, OrderDraft))
	})

	t.Run("should not skip payment", func(t *testing.T) {
		assert.False(t, CanTransitionOrder(OrderApproved, OrderProcessing))
		assert.False(t, CanTransitionOrder(OrderQuoted, OrderPaid))
	})
}

func TestCRMStage(t *testing.T) {
	t.Run("should map every status to a pipeline stage", func(t *testing.T) {
		cases := map[string]string{
			OrderDraft:      "Lead",
			OrderQuoted:     "Quoted",
			OrderApproved:   "Qualified",
			OrderPaid:       "Closed Won",
			OrderProcessing: "Closed Won",
			OrderShipped:    "Closed Won",
			OrderFulfilled:  "Fulfilled",
			OrderCancelled:  "Closed Lost",
		}
		for status, stage := range cases {
			assert.Equal(t, stage, CRMStage(status))
		}
	})

	t.Run("should default unknown statuses to Lead", func(t *testing.T) {
		assert.Equal(t, "Lead", CRMStage("refunded"))
	})
}
