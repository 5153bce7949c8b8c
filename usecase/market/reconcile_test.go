package market

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrow-market-onchain/model"
)

const purchasedAt = uint64(1_700_000_000)

func at(offset int64) time.Time {
	return time.Unix(int64(purchasedAt)+offset, 0)
}

func pendingOrder(productID uint64) model.Order {
	return model.Order{
		ID:          0,
		ProductID:   productID,
		Buyer:       buyerAddr.Hex(),
		Amount:      oneEther,
		Quantity:    1,
		PurchasedAt: purchasedAt,
		Status:      model.StatusPending,
	}
}

func TestReconcile_EmptyState(t *testing.T) {
	view := Reconcile(ReconcileInput{Now: at(0)})
	assert.Empty(t, view.Products)
	assert.Empty(t, view.Orders)
	assert.Equal(t, model.EmptyProductsMessage, view.ProductsEmpty)
	assert.Equal(t, model.EmptyOrdersMessage, view.OrdersEmpty)
}

func TestReconcile_ProductPurchasability(t *testing.T) {
	view := Reconcile(ReconcileInput{
		Products: []model.Product{
			{ID: 0, Name: "Widget", Price: oneEther, Quantity: 5},
			{ID: 1, Name: "Gone", Price: oneEther, Quantity: 0},
		},
		Now: at(0),
	})
	require.Len(t, view.Products, 2)
	assert.Empty(t, view.ProductsEmpty)

	assert.True(t, view.Products[0].Purchasable)
	assert.Equal(t, uint64(1), view.Products[0].MinQuantity)
	assert.Equal(t, uint64(5), view.Products[0].MaxQuantity)

	assert.False(t, view.Products[1].Purchasable)
	assert.Zero(t, view.Products[1].MaxQuantity)
}

func TestReconcile_OrderActions(t *testing.T) {
	products := []model.Product{{ID: 0, Name: "Widget", Price: oneEther, Quantity: 1}}

	tests := []struct {
		name    string
		order   model.Order
		isOwner bool
		now     time.Time
		action  model.OrderAction
		notice  string
		badge   string
	}{
		{
			name:    "owner confirms pending",
			order:   pendingOrder(0),
			isOwner: true,
			now:     at(0),
			action:  model.ActionConfirm,
			badge:   "Pending",
		},
		{
			name:   "buyer after window may refund",
			order:  pendingOrder(0),
			now:    at(3601),
			action: model.ActionRefund,
			badge:  "Pending",
		},
		{
			name:   "buyer inside window waits",
			order:  pendingOrder(0),
			now:    at(3599),
			notice: model.RefundWaitMessage,
			badge:  "Pending",
		},
		{
			name:   "exact deadline is not past",
			order:  pendingOrder(0),
			now:    at(3600),
			notice: model.RefundWaitMessage,
			badge:  "Pending",
		},
		{
			name: "completed has no action",
			order: func() model.Order {
				o := pendingOrder(0)
				o.Status = model.StatusCompleted
				return o
			}(),
			isOwner: true,
			now:     at(9999),
			badge:   "Completed",
		},
		{
			name: "refunded has no action",
			order: func() model.Order {
				o := pendingOrder(0)
				o.Status = model.StatusRefunded
				return o
			}(),
			now:   at(9999),
			badge: "Refunded",
		},
		{
			name: "unknown status",
			order: func() model.Order {
				o := pendingOrder(0)
				o.Status = model.OrderStatus(7)
				return o
			}(),
			now:   at(9999),
			badge: "Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := Reconcile(ReconcileInput{
				Caller:   model.Caller{IsOwner: tt.isOwner},
				Products: products,
				Orders:   []model.Order{tt.order},
				Window:   3600,
				Now:      tt.now,
			})
			require.Len(t, view.Orders, 1)
			o := view.Orders[0]
			assert.Equal(t, tt.action, o.Action)
			assert.Equal(t, tt.notice, o.Notice)
			assert.Equal(t, tt.badge, o.Badge)
			assert.Equal(t, "Widget", o.ProductName)
		})
	}
}

func TestReconcile_UnknownProductPlaceholder(t *testing.T) {
	view := Reconcile(ReconcileInput{
		Products: []model.Product{{ID: 0, Name: "Widget", Price: oneEther, Quantity: 1}},
		Orders:   []model.Order{pendingOrder(99)},
		Now:      at(0),
	})
	require.Len(t, view.Orders, 1)
	assert.Equal(t, "Unknown Product (ID: 99)", view.Orders[0].ProductName)
}

func TestReconcile_IsDeterministic(t *testing.T) {
	in := ReconcileInput{
		Products: []model.Product{{ID: 0, Name: "Widget", Price: big.NewInt(5), Quantity: 3}},
		Orders:   []model.Order{pendingOrder(0)},
		Window:   60,
		Now:      at(61),
	}
	assert.Equal(t, Reconcile(in), Reconcile(in))
}

func TestRefundEligible_SaturatesOnOverflow(t *testing.T) {
	assert.False(t, RefundEligible(math.MaxUint64-10, 3600, time.Unix(1<<40, 0)))
	assert.False(t, RefundEligible(0, 0, time.Unix(-5, 0)))
	assert.True(t, RefundEligible(0, 0, time.Unix(1, 0)))
}
