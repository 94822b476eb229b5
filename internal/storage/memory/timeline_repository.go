package memory

import (
	"context"
	"maps"
	"sort"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

type timelineRepository struct {
	scope scope
}

// Append вставляет событие с сохранением хронологии. Details копируется.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event.Details = maps.Clone(event.Details)
	return r.scope.view(func(d *dataset) error {
		events := append(d.timeline[event.OrderID], event)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Occurred.Before(events[j].Occurred)
		})
		d.timeline[event.OrderID] = events
		return nil
	})
}

func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	err := r.scope.view(func(d *dataset) error {
		for _, event := range d.timeline[orderID] {
			event.Details = maps.Clone(event.Details)
			result = append(result, event)
		}
		return nil
	})
	return result, err
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
