package domain

import "time"

type Order struct {
	ID          int64       `json:"id"`
	OrderNumber string      `json:"order_number"`
	TableID     int64       `json:"table_id"`
	TableNumber string      `json:"table_number,omitempty"`
	Status      OrderStatus `json:"status"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
	Note        string      `json:"note,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Note      string  `json:"note,omitempty"`
}

// Subtotal is quantity times unit price; the order total is the sum of
// subtotals at creation and immutable afterwards.
func (i OrderItem) Subtotal() float64 { return float64(i.Quantity) * i.UnitPrice }

type TableRequest struct {
	ID          int64         `json:"id"`
	TableID     int64         `json:"table_id"`
	TableNumber string        `json:"table_number,omitempty"`
	RequestType string        `json:"request_type"`
	Message     string        `json:"message,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	// ResolvedAt is set if and only if Status is RESOLVED.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
