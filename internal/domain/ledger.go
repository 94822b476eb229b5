package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Seller хранит бухгалтерию продавца.
type Seller struct {
	ID             string
	Balance        decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalWithdrawn decimal.Decimal
	UpdatedAt      time.Time
}

// CreditSource: что инициировало начисление.
type CreditSource string

const (
	CreditSourceSweep    CreditSource = "sweep"
	CreditSourceDelivery CreditSource = "delivery"
	CreditSourceManual   CreditSource = "manual"
)

// LedgerEntry: долговременная запись о начислении по паре (заказ, продавец).
// Наличие записи означает, что начисление уже произведено.
type LedgerEntry struct {
	ID        string
	OrderID   string
	SellerID  string
	Amount    decimal.Decimal
	Source    CreditSource
	CreatedAt time.Time
}

// SellerCredit: результат начисления одному продавцу.
type SellerCredit struct {
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	// Applied=false означает, что запись уже существовала и баланс не менялся.
	Applied bool `json:"applied"`
}

// SkippedLine: позиция, пропущенная при начислении из-за нарушенной ссылки.
type SkippedLine struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// CreditResult: итог начисления по заказу.
type CreditResult struct {
	OrderID string         `json:"order_id"`
	Credits []SellerCredit `json:"credits"`
	Skipped []SkippedLine  `json:"skipped,omitempty"`
}

// AppliedTotal возвращает сумму фактически зачисленных средств.
func (r CreditResult) AppliedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Credits {
		if c.Applied {
			total = total.Add(c.Amount)
		}
	}
	return total
}
