package supplysync

import (
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Outcome: исход синхронизации одного заказа.
type Outcome string

const (
	OutcomeNoChange  Outcome = "nochange"
	OutcomeProgress  Outcome = "progress"
	OutcomeDelivered Outcome = "delivered"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeHold      Outcome = "hold"
	OutcomeError     Outcome = "error"
)

// Result описывает синхронизацию одного заказа.
type Result struct {
	OrderID         string             `json:"orderId"`
	SupplierOrderID string             `json:"supplierOrderId"`
	PreviousStatus  domain.OrderStatus `json:"previousStatus"`
	CurrentStatus   domain.OrderStatus `json:"currentStatus"`
	TrackingNumber  string             `json:"trackingNumber,omitempty"`
	RemoteStatus    string             `json:"remoteStatus,omitempty"`
	Outcome         Outcome            `json:"outcome"`
	Updated         bool               `json:"updated"`
	Error           string             `json:"error,omitempty"`
}

func (r Result) failed(err error) Result {
	r.Outcome = OutcomeError
	r.Updated = false
	r.CurrentStatus = r.PreviousStatus
	r.Error = err.Error()
	return r
}

// BatchReport: итог одного прохода.
type BatchReport struct {
	StartedAt time.Time
	Total     int
	Updated   int
	Errors    int
	Duration  time.Duration
	Results   []Result
}

func (b *BatchReport) add(r Result) {
	b.Total++
	if r.Updated {
		b.Updated++
	}
	if r.Error != "" {
		b.Errors++
	}
	b.Results = append(b.Results, r)
}

func (b *BatchReport) finish(d time.Duration) {
	b.Duration = d
}
