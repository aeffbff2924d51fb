package domain

import "strings"

// OrderStatus is a canonical member of the forward order chain, or a verbatim
// unrecognized value preserved for display.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// orderChain is the only forward path an order may take. CANCELLED sits outside
// the chain and absorbs from any non-terminal status.
var orderChain = [...]OrderStatus{
	StatusPending, StatusConfirmed, StatusPreparing,
	StatusReady, StatusDelivered, StatusCompleted,
}

// statusAliases resolves the legacy localized vocabulary the backend still emits
// alongside the canonical one. Keys are upper-cased; both dotted and dotless
// spellings are listed because Unicode upper-casing folds ı to I.
var statusAliases = map[string]OrderStatus{
	"BEKLEMEDE":     StatusPending,
	"ONAYLANDI":     StatusConfirmed,
	"HAZIRLANIYOR":  StatusPreparing,
	"HAZIR":         StatusReady,
	"TESLİM EDİLDİ": StatusDelivered,
	"TESLIM EDILDI": StatusDelivered,
	"TAMAMLANDI":    StatusCompleted,
	"İPTAL EDİLDİ":  StatusCancelled,
	"IPTAL EDILDI":  StatusCancelled,
}

// CanonicalStatus upper-cases raw and resolves it through the alias table.
// Unrecognized values are returned verbatim with ok=false; they render as
// "unknown" but must never break transition logic.
func CanonicalStatus(raw string) (OrderStatus, bool) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if up == string(StatusCancelled) {
		return StatusCancelled, true
	}
	for _, s := range orderChain {
		if up == string(s) {
			return s, true
		}
	}
	if s, ok := statusAliases[up]; ok {
		return s, true
	}
	return OrderStatus(raw), false
}

// NextStatus returns the single forward successor of s, canonicalizing first.
// Terminal (COMPLETED, CANCELLED) and unrecognized statuses have no successor.
// This is the only transition the UI is allowed to offer as an action.
func NextStatus(s OrderStatus) (OrderStatus, bool) {
	cur, ok := CanonicalStatus(string(s))
	if !ok || cur == StatusCancelled {
		return "", false
	}
	for i, c := range orderChain {
		if c == cur && i+1 < len(orderChain) {
			return orderChain[i+1], true
		}
	}
	return "", false
}

// Cancellable reports whether an order in status s may still be cancelled.
// DELIVERED, COMPLETED and CANCELLED are past the point of no return.
func Cancellable(s OrderStatus) bool {
	cur, ok := CanonicalStatus(string(s))
	if !ok {
		return false
	}
	switch cur {
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return false
	}
	return true
}

// ValidOrderTransition reports whether the backend would accept from -> to:
// either the single forward successor, or cancellation while still possible.
func ValidOrderTransition(from, to OrderStatus) bool {
	target, ok := CanonicalStatus(string(to))
	if !ok {
		return false
	}
	if target == StatusCancelled {
		return Cancellable(from)
	}
	next, ok := NextStatus(from)
	return ok && next == target
}

// RequestStatus is the linear table-request chain.
type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestResolved   RequestStatus = "RESOLVED"
)

var requestChain = [...]RequestStatus{RequestPending, RequestInProgress, RequestResolved}

// CanonicalRequestStatus upper-cases and validates a request status.
func CanonicalRequestStatus(raw string) (RequestStatus, bool) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	for _, s := range requestChain {
		if up == string(s) {
			return s, true
		}
	}
	return RequestStatus(raw), false
}

// NextRequestStatus returns the forward successor; RESOLVED has none.
func NextRequestStatus(s RequestStatus) (RequestStatus, bool) {
	cur, ok := CanonicalRequestStatus(string(s))
	if !ok {
		return "", false
	}
	for i, c := range requestChain {
		if c == cur && i+1 < len(requestChain) {
			return requestChain[i+1], true
		}
	}
	return "", false
}

// Table request types as the backend stores them.
const (
	RequestTypeCallWaiter = "GARSON_CAĞIR"
	RequestTypeGeneral    = "İSTEK"
	RequestTypeComplaint  = "ŞİKAYET"
	RequestTypeHelp       = "YARDIM"
)

var requestTypeLabels = map[string]string{
	RequestTypeCallWaiter: "call waiter",
	RequestTypeGeneral:    "general request",
	RequestTypeComplaint:  "complaint",
	RequestTypeHelp:       "help",
	"ŞIKAYET":             "complaint",
	"ISTEK":               "general request",
}

// RequestTypeLabel returns a display label for a request type; unknown types
// fall back to the raw value.
func RequestTypeLabel(t string) string {
	if l, ok := requestTypeLabels[strings.ToUpper(strings.TrimSpace(t))]; ok {
		return l
	}
	if l, ok := requestTypeLabels[t]; ok {
		return l
	}
	return t
}
