package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/ledger"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/reconcile"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/memory"
)

var now = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func validOrder(id string) domain.Order {
	return domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Shipment:      domain.Shipment{Cost: decimal.NewFromInt(7), Method: "standard"},
		Items: []domain.OrderItem{
			{ID: id + "-1", ProductID: "own", SellerID: "seller-1", Quantity: 1, SellerRevenue: decimal.NewFromInt(25)},
			{ID: id + "-2", ProductID: "drop", SellerID: "seller-2", Quantity: 2, SellerRevenue: decimal.NewFromInt(15)},
		},
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
}

func newEngine(t *testing.T, orders ...domain.Order) (*memory.Store, *reconcile.Engine) {
	t.Helper()
	store := memory.NewStore()
	store.AddUser("buyer-1")
	store.AddProduct("own", false)
	store.AddProduct("drop", true)
	store.AddSeller(domain.Seller{ID: "seller-1", Balance: decimal.NewFromInt(500)})
	store.AddSeller(domain.Seller{ID: "seller-2"})
	for _, o := range orders {
		require.NoError(t, store.CreateOrder(o))
	}

	clock := func() time.Time { return now }
	engine := reconcile.NewEngine(store, ledger.NewService(store, ledger.WithClock(clock)),
		reconcile.WithClock(clock),
		reconcile.WithPageSize(2),
	)
	return store, engine
}

func getOrder(t *testing.T, store *memory.Store, id string) domain.Order {
	t.Helper()
	order, err := store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return order
}

func sellerBalance(t *testing.T, store *memory.Store, id string) decimal.Decimal {
	t.Helper()
	seller, err := store.Sellers().Get(context.Background(), id)
	require.NoError(t, err)
	return seller.Balance
}

func TestRun_StuckApprovedOrderMovesToProcessingAndCredits(t *testing.T) {
	order := validOrder("order-a")
	order.PaymentStatus = domain.PaymentStatusApproved
	order.FraudStatus = domain.FraudStatusApproved
	store, engine := newEngine(t, order)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Mutations)
	require.Equal(t, domain.CheckStuckOrder, report.Results[0].Issue)
	require.True(t, report.Results[0].Fixed)

	require.Equal(t, domain.OrderStatusProcessing, getOrder(t, store, "order-a").Status)
	require.True(t, sellerBalance(t, store, "seller-1").Equal(decimal.NewFromInt(525)))
	require.True(t, sellerBalance(t, store, "seller-2").Equal(decimal.NewFromInt(15)))

	pending, err := store.Outbox().PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, domain.EventOrderReconciled, pending[0].EventType)
	require.Equal(t, domain.EventSellerCredited, pending[1].EventType)
}

func TestRun_AbandonedOrderIsCancelled(t *testing.T) {
	order := validOrder("order-b")
	order.FraudStatus = domain.FraudStatusApproved
	order.CreatedAt = now.Add(-50 * time.Hour)
	fresh := validOrder("order-fresh")
	fresh.FraudStatus = domain.FraudStatusApproved
	fresh.CreatedAt = now.Add(-47 * time.Hour)
	store, engine := newEngine(t, order, fresh)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	cancelled := getOrder(t, store, "order-b")
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, domain.CancelReasonPaymentTimeout, cancelled.CancelReason)
	require.Equal(t, domain.OrderStatusPending, getOrder(t, store, "order-fresh").Status)
}

func TestRun_EmptyOrderIsCancelled(t *testing.T) {
	order := validOrder("order-e")
	order.Items = nil
	store, engine := newEngine(t, order)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Mutations)

	cancelled := getOrder(t, store, "order-e")
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, domain.CancelReasonNoProducts, cancelled.CancelReason)
}

func TestRun_CorrectiveActions(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(o *domain.Order)
		wantIssue  domain.CheckName
		wantStatus domain.OrderStatus
		wantReason string
		check      func(t *testing.T, o domain.Order)
	}{
		{
			name:       "unknown status reset",
			mutate:     func(o *domain.Order) { o.Status = "ON_HOLD" },
			wantIssue:  domain.CheckUnknownStatus,
			wantStatus: domain.OrderStatusPending,
		},
		{
			name: "missing fraud status backfilled",
			mutate: func(o *domain.Order) {
				o.FraudScore = 30
			},
			wantIssue:  domain.CheckMissingFraudStatus,
			wantStatus: domain.OrderStatusPending,
			check: func(t *testing.T, o domain.Order) {
				require.Equal(t, domain.FraudStatusPending, o.FraudStatus)
			},
		},
		{
			name: "processing without payment demoted",
			mutate: func(o *domain.Order) {
				o.Status = domain.OrderStatusProcessing
				o.PaymentStatus = domain.PaymentStatusFailed
			},
			wantIssue:  domain.CheckProcessingWithoutPayment,
			wantStatus: domain.OrderStatusPending,
		},
		{
			name: "orphaned buyer cancelled",
			mutate: func(o *domain.Order) {
				o.BuyerID = "ghost"
			},
			wantIssue:  domain.CheckOrphanedBuyer,
			wantStatus: domain.OrderStatusCancelled,
			wantReason: domain.CancelReasonBuyerNotFound,
		},
		{
			name: "missing shipping demoted",
			mutate: func(o *domain.Order) {
				o.Status = domain.OrderStatusShipped
				o.PaymentStatus = domain.PaymentStatusApproved
				o.Shipment.Method = ""
			},
			wantIssue:  domain.CheckMissingShipping,
			wantStatus: domain.OrderStatusPending,
		},
		{
			name: "dropship without seller cancelled",
			mutate: func(o *domain.Order) {
				o.Items[1].SellerID = ""
			},
			wantIssue:  domain.CheckDropshipWithoutSeller,
			wantStatus: domain.OrderStatusCancelled,
			wantReason: domain.CancelReasonDropshipNoSeller,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder("order-1")
			tt.mutate(&order)
			store, engine := newEngine(t, order)

			report, err := engine.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, report.Mutations)
			require.Equal(t, tt.wantIssue, report.Results[0].Issue)

			got := getOrder(t, store, "order-1")
			require.Equal(t, tt.wantStatus, got.Status)
			require.Equal(t, tt.wantReason, got.CancelReason)
			if tt.check != nil {
				tt.check(t, got)
			}

			events, err := store.Timeline().List(context.Background(), "order-1")
			require.NoError(t, err)
			require.Len(t, events, 1)
		})
	}
}

func TestRun_ApprovedOrderWithoutShippingIsReportedNotPromoted(t *testing.T) {
	order := validOrder("order-1")
	order.PaymentStatus = domain.PaymentStatusApproved
	order.FraudStatus = domain.FraudStatusApproved
	order.Shipment = domain.Shipment{}
	store, engine := newEngine(t, order)

	for i := 0; i < 2; i++ {
		report, err := engine.Run(context.Background())
		require.NoError(t, err)
		require.Zero(t, report.Mutations)
		require.Equal(t, 1, report.Errors)
		require.False(t, report.Results[0].Fixed)
	}
	require.Equal(t, domain.OrderStatusPending, getOrder(t, store, "order-1").Status)
	require.True(t, sellerBalance(t, store, "seller-2").IsZero())
}

func TestRun_TerminalOrdersAreNotSelected(t *testing.T) {
	// DELIVERED нельзя отменить, поэтому проверки с отменой такие заказы не выбирают.
	order := validOrder("order-1")
	order.Status = domain.OrderStatusDelivered
	order.PaymentStatus = domain.PaymentStatusApproved
	order.BuyerID = ""
	order.Items = nil
	other := validOrder("order-2")
	other.Items = nil
	store, engine := newEngine(t, order, other)

	drift, err := engine.Inspect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, drift[domain.CheckEmptyOrder])
	require.Zero(t, drift[domain.CheckOrphanedBuyer])

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	require.Zero(t, report.Errors)
	require.Equal(t, 1, report.Mutations)
	require.Equal(t, "order-2", report.Results[0].OrderID)
	require.Equal(t, domain.OrderStatusDelivered, getOrder(t, store, "order-1").Status)
	require.Equal(t, domain.OrderStatusCancelled, getOrder(t, store, "order-2").Status)
}

func TestRun_OrphanPaymentAuditDoesNotMutate(t *testing.T) {
	store, engine := newEngine(t, validOrder("order-1"))
	store.AddPayment(domain.Payment{ID: "pay-1", OrderID: "order-1"})
	store.AddPayment(domain.Payment{ID: "pay-2", OrderID: "deleted-order", Provider: "stripe"})

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Mutations)
	require.Len(t, report.Results, 1)
	require.Equal(t, domain.CheckOrphanPayment, report.Results[0].Issue)
	require.Equal(t, "deleted-order", report.Results[0].OrderID)
	require.False(t, report.Results[0].Fixed)
}

// mixedOrders покрывает каждую проверку, включая их пересечения.
func mixedOrders() []domain.Order {
	var orders []domain.Order
	add := func(id string, mutate func(o *domain.Order)) {
		o := validOrder(id)
		mutate(&o)
		orders = append(orders, o)
	}

	add("unknown-approved", func(o *domain.Order) {
		o.Status = "LEGACY"
		o.PaymentStatus = domain.PaymentStatusApproved
		o.FraudStatus = domain.FraudStatusApproved
	})
	add("stuck", func(o *domain.Order) {
		o.PaymentStatus = domain.PaymentStatusApproved
		o.FraudStatus = domain.FraudStatusApproved
	})
	add("abandoned-processing", func(o *domain.Order) {
		o.Status = domain.OrderStatusProcessing
		o.FraudStatus = domain.FraudStatusApproved
		o.CreatedAt = now.Add(-72 * time.Hour)
	})
	add("risky", func(o *domain.Order) { o.FraudScore = 80 })
	add("unpaid-processing", func(o *domain.Order) { o.Status = domain.OrderStatusProcessing })
	add("shipped-no-shipping", func(o *domain.Order) {
		o.Status = domain.OrderStatusShipped
		o.PaymentStatus = domain.PaymentStatusApproved
		o.Shipment.Cost = decimal.Zero
	})
	add("orphan", func(o *domain.Order) { o.BuyerID = "" })
	add("dropship", func(o *domain.Order) { o.Items[1].SellerID = "" })
	add("empty", func(o *domain.Order) { o.Items = nil })
	add("healthy", func(o *domain.Order) {})
	return orders
}

func TestRun_InvariantsHoldAndSecondRunIsNoop(t *testing.T) {
	ctx := context.Background()
	store, engine := newEngine(t, mixedOrders()...)

	first, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, first.Errors)
	require.Equal(t, 10, first.Mutations)

	all, err := store.Orders().Find(ctx, domain.OrderQuery{})
	require.NoError(t, err)
	for _, o := range all {
		require.True(t, o.Status.Valid(), "order %s has status %s", o.ID, o.Status)
		if o.Status == domain.OrderStatusProcessing {
			require.Equal(t, domain.PaymentStatusApproved, o.PaymentStatus, "order %s", o.ID)
		}
		if o.FraudScore >= domain.FraudReviewThreshold {
			require.NotEqual(t, domain.FraudStatusNone, o.FraudStatus, "order %s", o.ID)
		}
		if o.PaymentStatus == domain.PaymentStatusApproved && o.FraudStatus == domain.FraudStatusApproved {
			require.NotEqual(t, domain.OrderStatusPending, o.Status, "order %s", o.ID)
		}
	}
	balanceAfterFirst := sellerBalance(t, store, "seller-1")

	second, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Mutations)
	require.Zero(t, second.Total)
	require.True(t, sellerBalance(t, store, "seller-1").Equal(balanceAfterFirst))

	// unknown-approved и stuck начислены по одному разу: 500 + 2*25.
	require.True(t, balanceAfterFirst.Equal(decimal.NewFromInt(550)))
}

func TestInspect_CountsSameViolationsWithoutMutating(t *testing.T) {
	ctx := context.Background()
	store, engine := newEngine(t, mixedOrders()...)
	store.AddPayment(domain.Payment{ID: "pay-x", OrderID: "missing"})

	drift, err := engine.Inspect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, drift[domain.CheckUnknownStatus])
	require.Equal(t, 1, drift[domain.CheckStuckOrder])
	require.Equal(t, 1, drift[domain.CheckAbandonedOrder])
	require.Equal(t, 1, drift[domain.CheckMissingFraudStatus])
	require.Equal(t, 2, drift[domain.CheckProcessingWithoutPayment])
	require.Equal(t, 1, drift[domain.CheckOrphanedBuyer])
	require.Equal(t, 1, drift[domain.CheckDropshipWithoutSeller])
	require.Equal(t, 1, drift[domain.CheckEmptyOrder])
	require.Equal(t, 1, drift[domain.CheckMissingShipping])
	require.Equal(t, 1, drift[domain.CheckOrphanPayment])
	require.Equal(t, domain.OrderStatusPending, getOrder(t, store, "stuck").Status)

	_, err = engine.Run(ctx)
	require.NoError(t, err)

	after, err := engine.Inspect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, after.Total(), "only the orphan payment remains")
}
