package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
	"restaurant-sync/internal/notify"
	"restaurant-sync/internal/repository"
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service is the authoritative order store: it owns every mutation and
// publishes an envelope through the router whenever state changes.
type Service struct {
	repo   *repository.Store
	router notify.Router
	lg     *logger.Logger
}

func NewService(repo *repository.Store, router notify.Router, lg *logger.Logger) *Service {
	return &Service{repo: repo, router: router, lg: lg}
}

type CreateOrderRequest struct {
	TableID     int64              `json:"table_id"`
	TableNumber string             `json:"table_number"`
	Note        string             `json:"note"`
	Items       []domain.OrderItem `json:"items"`
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if req.TableID <= 0 {
		return domain.Order{}, errors.New("table_id is required")
	}
	if len(req.Items) == 0 {
		return domain.Order{}, errors.New("at least one item is required")
	}
	total := 0.0
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("invalid quantity for item %q", item.Name)
		}
		if item.UnitPrice < 0 {
			return domain.Order{}, fmt.Errorf("invalid price for item %q", item.Name)
		}
		total += item.Subtotal()
	}

	now := time.Now().UTC()
	seq, err := s.repo.NextOrderSequence(ctx, now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order sequence: %w", err)
	}

	order := domain.Order{
		OrderNumber: fmt.Sprintf("ORD_%s_%03d", now.Format("20060102"), seq),
		TableID:     req.TableID,
		TableNumber: req.TableNumber,
		Status:      domain.StatusPending,
		Items:       req.Items,
		TotalAmount: total,
		Note:        req.Note,
	}
	order, err = s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.lg.Info("order_created", map[string]any{
		"order_id": order.ID, "order_number": order.OrderNumber, "total": order.TotalAmount,
	})

	s.publishOrder(ctx, order, "new order received")
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) ListOrdersByTable(ctx context.Context, tableID int64) ([]domain.Order, error) {
	return s.repo.ListOrdersByTable(ctx, tableID)
}

// UpdateOrderStatus applies one forward transition (or a cancellation while
// still possible) and publishes the change.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, raw string) (domain.Order, error) {
	target, ok := domain.CanonicalStatus(raw)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.ValidOrderTransition(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}
	if err := s.repo.UpdateOrderStatus(ctx, id, target); err != nil {
		return domain.Order{}, err
	}
	order.Status = target
	s.lg.Info("order_status_updated", map[string]any{"order_id": id, "status": string(target)})

	s.publishOrder(ctx, order, fmt.Sprintf("order status updated: %s", target))
	return order, nil
}

type CreateRequestRequest struct {
	TableID     int64  `json:"table_id"`
	TableNumber string `json:"table_number"`
	RequestType string `json:"request_type"`
	Message     string `json:"message"`
}

func (s *Service) CreateRequest(ctx context.Context, req CreateRequestRequest) (domain.TableRequest, error) {
	if req.TableID <= 0 {
		return domain.TableRequest{}, errors.New("table_id is required")
	}
	if req.RequestType == "" {
		return domain.TableRequest{}, errors.New("request_type is required")
	}
	request := domain.TableRequest{
		TableID:     req.TableID,
		TableNumber: req.TableNumber,
		RequestType: req.RequestType,
		Message:     req.Message,
		Status:      domain.RequestPending,
	}
	request, err := s.repo.CreateRequest(ctx, request)
	if err != nil {
		return domain.TableRequest{}, fmt.Errorf("create request: %w", err)
	}
	s.lg.Info("request_created", map[string]any{
		"request_id": request.ID, "table_id": request.TableID, "request_type": request.RequestType,
	})

	if err := s.router.RequestCreated(ctx, request); err != nil {
		// Delivery failure is not fatal: observers converge via polling.
		s.lg.Error("request_event_publish_failed", err, map[string]any{"request_id": request.ID})
	}
	return request, nil
}

func (s *Service) GetRequest(ctx context.Context, id int64) (domain.TableRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context) ([]domain.TableRequest, error) {
	return s.repo.ListRequests(ctx)
}

func (s *Service) ListPendingRequests(ctx context.Context) ([]domain.TableRequest, error) {
	return s.repo.ListPendingRequests(ctx)
}

// UpdateRequestStatus moves a request forward along its linear chain.
func (s *Service) UpdateRequestStatus(ctx context.Context, id int64, raw string) (domain.TableRequest, error) {
	target, ok := domain.CanonicalRequestStatus(raw)
	if !ok {
		return domain.TableRequest{}, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	request, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return domain.TableRequest{}, err
	}
	if !requestForward(request.Status, target) {
		return domain.TableRequest{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, request.Status, target)
	}
	if err := s.repo.UpdateRequestStatus(ctx, id, target); err != nil {
		return domain.TableRequest{}, err
	}
	s.lg.Info("request_status_updated", map[string]any{"request_id": id, "status": string(target)})
	return s.repo.GetRequest(ctx, id)
}

func (s *Service) publishOrder(ctx context.Context, order domain.Order, message string) {
	if err := s.router.OrderChanged(ctx, order, message); err != nil {
		s.lg.Error("order_event_publish_failed", err, map[string]any{"order_id": order.ID})
	}
}

// requestForward reports whether target lies strictly ahead of from on the
// request chain.
func requestForward(from, target domain.RequestStatus) bool {
	cur := from
	for {
		next, ok := domain.NextRequestStatus(cur)
		if !ok {
			return false
		}
		if next == target {
			return true
		}
		cur = next
	}
}
