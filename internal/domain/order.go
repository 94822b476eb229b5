package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает канонический жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата или антифрод ещё не подтверждены.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing: оплата подтверждена, заказ передаётся поставщику.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped: поставщик отгрузил товар.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered: доставка подтверждена, терминальный статус.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён, терминальный статус.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// CanonicalStatuses перечисляет все допустимые значения статуса заказа.
var CanonicalStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid сообщает, относится ли статус к каноническому набору.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus: статус оплаты, который выставляет внешний платёжный контур.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// FraudStatus: решение антифрод-проверки. Пустое значение означает "не назначено".
type FraudStatus string

const (
	FraudStatusNone          FraudStatus = ""
	FraudStatusPending       FraudStatus = "pending"
	FraudStatusApproved      FraudStatus = "approved"
	FraudStatusRejected      FraudStatus = "rejected"
	FraudStatusInvestigating FraudStatus = "investigating"
)

// FraudReviewThreshold: скоринг, начиная с которого заказ обязан иметь статус антифрода.
const FraudReviewThreshold = 30

// Shipment хранит данные об отгрузке заказа.
type Shipment struct {
	TrackingCode string          `json:"tracking_code,omitempty" validate:"max=128"`
	Carrier      string          `json:"carrier,omitempty" validate:"max=128"`
	ShippedAt    *time.Time      `json:"shipped_at,omitempty"`
	Cost         decimal.Decimal `json:"cost"`
	Method       string          `json:"method,omitempty" validate:"max=64"`
}

// Complete сообщает, что у заказа заданы стоимость и способ доставки.
func (s Shipment) Complete() bool {
	return s.Cost.IsPositive() && s.Method != ""
}

var shipmentValidator = validator.New()

// Validate проверяет поля отгрузки перед записью в хранилище.
func (s Shipment) Validate() error {
	if s.Cost.IsNegative() {
		return fmt.Errorf("%w: negative cost %s", ErrShipmentInvalid, s.Cost)
	}
	if err := shipmentValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrShipmentInvalid, err)
	}
	return nil
}

// clearTracking удаляет данные, полученные от поставщика.
func (s *Shipment) clearTracking() {
	s.TrackingCode = ""
	s.Carrier = ""
	s.ShippedAt = nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	ProductID string
	// SellerID может быть пустым; для dropship-позиции это нарушение инварианта.
	SellerID string
	// Dropship выставляется хранилищем по признаку drop-enabled у товара.
	Dropship         bool
	Quantity         int32
	Price            decimal.Decimal
	SellerRevenue    decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	SupplierStatus   string
	SupplierOrderID  string
	TrackingCode     string
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	BuyerID         string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	FraudStatus     FraudStatus
	FraudScore      int
	SupplierOrderID string
	Shipment        Shipment
	CancelReason    string
	Items           []OrderItem
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// BuyerFound вычисляется хранилищем при загрузке: существует ли покупатель.
	BuyerFound bool
}

// Clone возвращает копию заказа, не разделяющую срез позиций.
func (o Order) Clone() Order {
	cp := o
	if o.Items != nil {
		cp.Items = make([]OrderItem, len(o.Items))
		copy(cp.Items, o.Items)
	}
	if o.Shipment.ShippedAt != nil {
		at := *o.Shipment.ShippedAt
		cp.Shipment.ShippedAt = &at
	}
	return cp
}

// QualifiesForCredit сообщает, что выручка заказа должна быть зачислена продавцам.
func (o Order) QualifiesForCredit() bool {
	if o.Status == OrderStatusCancelled {
		return false
	}
	if o.Status == OrderStatusDelivered {
		return true
	}
	return o.PaymentStatus == PaymentStatusApproved && o.FraudStatus == FraudStatusApproved
}

// RevenueBySeller суммирует выручку позиций по продавцам.
// Позиции без продавца возвращаются отдельно.
func (o Order) RevenueBySeller() (map[string]decimal.Decimal, []OrderItem) {
	bySeller := make(map[string]decimal.Decimal)
	var unassigned []OrderItem
	for _, item := range o.Items {
		if item.SellerID == "" {
			unassigned = append(unassigned, item)
			continue
		}
		bySeller[item.SellerID] = bySeller[item.SellerID].Add(item.SellerRevenue)
	}
	return bySeller, unassigned
}

// SellerRevenueTotal возвращает сумму выручки продавцов по всем позициям.
func (o Order) SellerRevenueTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.SellerRevenue)
	}
	return total
}
