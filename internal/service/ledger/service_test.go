package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/ledger"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/memory"
)

func seedStore(t *testing.T, order domain.Order) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.AddUser("buyer-1")
	store.AddSeller(domain.Seller{ID: "seller-a", Balance: decimal.NewFromInt(1000), TotalEarned: decimal.NewFromInt(1000)})
	store.AddSeller(domain.Seller{ID: "seller-b"})
	require.NoError(t, store.CreateOrder(order))
	return store
}

func qualifyingOrder() domain.Order {
	return domain.Order{
		ID:            "order-1",
		BuyerID:       "buyer-1",
		Status:        domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusApproved,
		FraudStatus:   domain.FraudStatusApproved,
		Items: []domain.OrderItem{
			{ID: "i1", SellerID: "seller-a", SellerRevenue: decimal.RequireFromString("40.50")},
			{ID: "i2", SellerID: "seller-a", SellerRevenue: decimal.RequireFromString("9.50")},
			{ID: "i3", SellerID: "seller-b", SellerRevenue: decimal.NewFromInt(20)},
		},
		CreatedAt: time.Now().Add(-time.Hour),
	}
}

func balance(t *testing.T, store *memory.Store, sellerID string) decimal.Decimal {
	t.Helper()
	seller, err := store.Sellers().Get(context.Background(), sellerID)
	require.NoError(t, err)
	return seller.Balance
}

func TestCreditSellerRevenue_CreditsEachSellerOnce(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, qualifyingOrder())
	svc := ledger.NewService(store)

	result, err := svc.CreditSellerRevenue(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, result.Credits, 2)
	require.True(t, result.AppliedTotal().Equal(decimal.NewFromInt(70)))

	require.True(t, balance(t, store, "seller-a").Equal(decimal.NewFromInt(1050)))
	require.True(t, balance(t, store, "seller-b").Equal(decimal.NewFromInt(20)))

	second, err := svc.CreditSellerRevenue(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, second.AppliedTotal().IsZero())
	for _, c := range second.Credits {
		require.False(t, c.Applied)
	}
	require.True(t, balance(t, store, "seller-a").Equal(decimal.NewFromInt(1050)))

	entries, err := store.Ledger().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	events, err := store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineSellerCredited, events[0].Type)
}

// Продавец с крупным прошлым балансом не считается "уже получившим" начисление.
func TestCreditSellerRevenue_PriorBalanceDoesNotBlockCredit(t *testing.T) {
	store := seedStore(t, qualifyingOrder())
	svc := ledger.NewService(store)

	_, err := svc.CreditSellerRevenue(context.Background(), "order-1")
	require.NoError(t, err)
	require.True(t, balance(t, store, "seller-a").Equal(decimal.NewFromInt(1050)))
}

func TestCreditSellerRevenue_SkipsBrokenLines(t *testing.T) {
	order := qualifyingOrder()
	order.Items = append(order.Items,
		domain.OrderItem{ID: "i4", SellerRevenue: decimal.NewFromInt(5)},
		domain.OrderItem{ID: "i5", SellerID: "ghost", SellerRevenue: decimal.NewFromInt(7)},
	)
	store := seedStore(t, order)

	result, err := ledger.NewService(store).CreditSellerRevenue(context.Background(), "order-1")
	require.NoError(t, err)
	require.True(t, result.AppliedTotal().Equal(decimal.NewFromInt(70)))
	require.ElementsMatch(t, []domain.SkippedLine{
		{ItemID: "i4", Reason: ledger.SkipReasonNoSeller},
		{ItemID: "i5", Reason: ledger.SkipReasonUnknownSeller},
	}, result.Skipped)
}

func TestCreditSellerRevenue_NotQualifying(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *domain.Order)
	}{
		{name: "cancelled", mutate: func(o *domain.Order) { o.Status = domain.OrderStatusCancelled }},
		{name: "payment pending", mutate: func(o *domain.Order) { o.PaymentStatus = domain.PaymentStatusPending }},
		{name: "fraud under review", mutate: func(o *domain.Order) { o.FraudStatus = domain.FraudStatusInvestigating }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := qualifyingOrder()
			tt.mutate(&order)
			store := seedStore(t, order)

			_, err := ledger.NewService(store).CreditSellerRevenue(context.Background(), "order-1")
			require.True(t, errors.Is(err, domain.ErrOrderNotQualifying))
			require.True(t, balance(t, store, "seller-b").IsZero())
		})
	}
}

func TestCreditSellerRevenue_DeliveredWithoutApprovalsQualifies(t *testing.T) {
	order := qualifyingOrder()
	order.Status = domain.OrderStatusDelivered
	order.FraudStatus = domain.FraudStatusNone
	store := seedStore(t, order)

	result, err := ledger.NewService(store).CreditSellerRevenue(context.Background(), "order-1")
	require.NoError(t, err)
	require.True(t, result.AppliedTotal().Equal(decimal.NewFromInt(70)))
}

func TestCreditSellerRevenue_ConcurrentCallsCreditOnce(t *testing.T) {
	store := seedStore(t, qualifyingOrder())
	svc := ledger.NewService(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreditSellerRevenue(context.Background(), "order-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.True(t, balance(t, store, "seller-a").Equal(decimal.NewFromInt(1050)))
	require.True(t, balance(t, store, "seller-b").Equal(decimal.NewFromInt(20)))
}

func TestCreditWithin_RollsBackWithCallerTransaction(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, qualifyingOrder())
	svc := ledger.NewService(store)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		order, err := tx.Orders().GetForUpdate(ctx, "order-1")
		if err != nil {
			return err
		}
		if _, err := svc.CreditWithin(ctx, tx, order, domain.CreditSourceSweep); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.True(t, balance(t, store, "seller-b").IsZero())

	entries, err := store.Ledger().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Empty(t, entries)
}
