package reconcile

import (
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Result: запись об одном найденном нарушении.
type Result struct {
	OrderID string           `json:"orderId"`
	Issue   domain.CheckName `json:"issue"`
	Fixed   bool             `json:"fixed"`
	Action  string           `json:"action,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Report: итог одного прохода сверки.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Total     int
	// Mutations: сколько заказов было изменено.
	Mutations int
	Errors    int
	Results   []Result
}

func (r *Report) add(res Result) {
	r.Total++
	if res.Fixed {
		r.Mutations++
	}
	if res.Error != "" {
		r.Errors++
	}
	r.Results = append(r.Results, res)
}

func (r *Report) finish(d time.Duration) {
	r.Duration = d
}

// ByIssue группирует результаты по проверкам.
func (r Report) ByIssue() map[domain.CheckName][]Result {
	grouped := make(map[domain.CheckName][]Result)
	for _, res := range r.Results {
		grouped[res.Issue] = append(grouped[res.Issue], res)
	}
	return grouped
}
