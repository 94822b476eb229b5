package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

func TestOrderQuery_Matches(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		query domain.OrderQuery
		mut   func(o *domain.Order)
		want  bool
	}{
		{name: "empty query matches everything", want: true},
		{name: "status listed", query: domain.OrderQuery{Statuses: []domain.OrderStatus{domain.OrderStatusProcessing}}, want: true},
		{name: "status not listed", query: domain.OrderQuery{Statuses: []domain.OrderStatus{domain.OrderStatusPending}}, want: false},
		{name: "status excluded", query: domain.OrderQuery{ExcludeStatuses: []domain.OrderStatus{domain.OrderStatusProcessing}}, want: false},
		{name: "canonical status is not non-canonical", query: domain.OrderQuery{NonCanonical: true}, want: false},
		{name: "legacy status is non-canonical", query: domain.OrderQuery{NonCanonical: true}, mut: func(o *domain.Order) { o.Status = "ON_HOLD" }, want: true},
		{name: "payment excluded", query: domain.OrderQuery{ExcludePaymentStatuses: []domain.PaymentStatus{domain.PaymentStatusApproved}}, want: false},
		{name: "payment listed", query: domain.OrderQuery{PaymentStatuses: []domain.PaymentStatus{domain.PaymentStatusApproved}}, want: true},
		{name: "null fraud status", query: domain.OrderQuery{FraudStatuses: []domain.FraudStatus{domain.FraudStatusNone}}, mut: func(o *domain.Order) { o.FraudStatus = domain.FraudStatusNone }, want: true},
		{name: "fraud status differs", query: domain.OrderQuery{FraudStatuses: []domain.FraudStatus{domain.FraudStatusNone}}, want: false},
		{name: "fraud score below minimum", query: domain.OrderQuery{MinFraudScore: 30}, mut: func(o *domain.Order) { o.FraudScore = 29 }, want: false},
		{name: "fraud score at minimum", query: domain.OrderQuery{MinFraudScore: 30}, mut: func(o *domain.Order) { o.FraudScore = 30 }, want: true},
		{name: "created before cutoff", query: domain.OrderQuery{CreatedBefore: at.Add(time.Second)}, want: true},
		{name: "created at cutoff", query: domain.OrderQuery{CreatedBefore: at}, want: false},
		{name: "buyer present", query: domain.OrderQuery{BuyerMissing: true}, want: false},
		{name: "buyer row missing", query: domain.OrderQuery{BuyerMissing: true}, mut: func(o *domain.Order) { o.BuyerFound = false }, want: true},
		{name: "shipping complete", query: domain.OrderQuery{ShippingIncomplete: true}, want: false},
		{name: "shipping cost missing", query: domain.OrderQuery{ShippingIncomplete: true}, mut: func(o *domain.Order) { o.Shipment.Cost = decimal.Zero }, want: true},
		{name: "has items", query: domain.OrderQuery{WithoutItems: true}, want: false},
		{name: "no items", query: domain.OrderQuery{WithoutItems: true}, mut: func(o *domain.Order) { o.Items = nil }, want: true},
		{name: "dropship line with seller", query: domain.OrderQuery{DropshipWithoutSeller: true}, mut: func(o *domain.Order) { o.Items[0].Dropship = true }, want: false},
		{name: "dropship line without seller", query: domain.OrderQuery{DropshipWithoutSeller: true}, mut: func(o *domain.Order) {
			o.Items[0].Dropship = true
			o.Items[0].SellerID = ""
		}, want: true},
		{name: "all filters must hold", query: domain.OrderQuery{
			Statuses:      []domain.OrderStatus{domain.OrderStatusProcessing},
			MinFraudScore: 50,
		}, mut: func(o *domain.Order) { o.FraudScore = 10 }, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(domain.OrderStatusProcessing)
			order.CreatedAt = at
			if tc.mut != nil {
				tc.mut(&order)
			}
			if got := tc.query.Matches(order); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOrderQuery_After(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := domain.Order{ID: "b", CreatedAt: at}

	cases := map[string]struct {
		query domain.OrderQuery
		want  bool
	}{
		"no cursor":          {query: domain.OrderQuery{}, want: true},
		"earlier cursor":     {query: domain.OrderQuery{AfterCreatedAt: at.Add(-time.Second), AfterID: "z"}, want: true},
		"same time lower id": {query: domain.OrderQuery{AfterCreatedAt: at, AfterID: "a"}, want: true},
		"same row":           {query: domain.OrderQuery{AfterCreatedAt: at, AfterID: "b"}, want: false},
		"later cursor":       {query: domain.OrderQuery{AfterCreatedAt: at.Add(time.Second)}, want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := tc.query.After(order); got != tc.want {
				t.Fatalf("After() = %v, want %v", got, tc.want)
			}
		})
	}
}
