package queries

import (
	"context"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

// ListOrdersQuery lists orders visible to the actor.
type ListOrdersQuery struct {
	Actor    domain.Actor
	Status   string
	Page     int
	PageSize int
}

type ListOrdersQueryHandler struct {
	repo ports.OrderRepository
}

func NewListOrdersQueryHandler(repo ports.OrderRepository) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{repo: repo}
}

// Handle scopes customers to their own orders; admins see every order.
func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, ports.ListFilter, error) {
	filter := ports.ListFilter{Page: query.Page, PageSize: query.PageSize}.Normalize()

	if !query.Actor.IsAdmin() {
		filter.UserID = query.Actor.ID
	}

	if query.Status != "" {
		status, err := domain.ParseOrderStatus(query.Status)
		if err != nil {
			return nil, filter, err
		}
		filter.Status = &status
	}

	orders, err := h.repo.List(ctx, filter)
	if err != nil {
		return nil, filter, err
	}
	return orders, filter, nil
}
