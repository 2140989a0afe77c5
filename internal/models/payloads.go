package models

import "github.com/google/uuid"

// Payload shapes mirror the backend REST schemas (snake_case JSON).
// Kinds that are safe to re-send end-to-end embed a client-generated
// idempotency key, minted once at enqueue time and never regenerated.

type MovementSource string

const (
	SourceScan   MovementSource = "SCAN"
	SourceManual MovementSource = "MANUAL"
)

type MovementType string

const (
	MovementIn     MovementType = "IN"
	MovementOut    MovementType = "OUT"
	MovementAdjust MovementType = "ADJUST"
)

type EventType string

const (
	EventSensorIn  EventType = "SENSOR_IN"
	EventSensorOut EventType = "SENSOR_OUT"
)

// EventCreate is the body of POST /events/.
type EventCreate struct {
	EventType      EventType `json:"event_type"`
	ProductID      int       `json:"product_id"`
	Delta          int       `json:"delta"`
	Source         string    `json:"source"`
	Location       string    `json:"location"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// ScanEvent is a barcode capture that still needs product resolution.
// The product lookup happens at replay time, not at capture time, so a
// scan taken offline for an unknown barcode can still fail permanently.
type ScanEvent struct {
	Barcode        string       `json:"barcode"`
	Type           MovementType `json:"type"`
	Quantity       int          `json:"quantity"`
	Location       string       `json:"location"`
	Source         string       `json:"source"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// NewScanEvent mints the idempotency key once.
func NewScanEvent(barcode string, typ MovementType, quantity int, location string) ScanEvent {
	return ScanEvent{
		Barcode:        barcode,
		Type:           typ,
		Quantity:       quantity,
		Location:       location,
		Source:         string(SourceScan),
		IdempotencyKey: uuid.NewString(),
	}
}

// MovementRequest is the body of POST /movements/in and /movements/out.
type MovementRequest struct {
	ProductID      int            `json:"product_id"`
	Quantity       int            `json:"quantity"`
	Location       string         `json:"location"`
	MovementSource MovementSource `json:"movement_source"`
}

// MovementAdjustRequest is the body of POST /movements/adjust.
// Delta may be negative or positive, never zero.
type MovementAdjustRequest struct {
	ProductID      int            `json:"product_id"`
	Delta          int            `json:"delta"`
	Location       string         `json:"location"`
	MovementSource MovementSource `json:"movement_source"`
}

// MovementTransferRequest is the body of POST /movements/transfer.
type MovementTransferRequest struct {
	ProductID      int            `json:"product_id"`
	Quantity       int            `json:"quantity"`
	FromLocation   string         `json:"from_location"`
	ToLocation     string         `json:"to_location"`
	MovementSource MovementSource `json:"movement_source"`
}

// ProductCreate is the body of POST /products/.
type ProductCreate struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Barcode    string `json:"barcode"`
	CategoryID int    `json:"category_id"`
	Active     *bool  `json:"active,omitempty"`
}

// ProductUpdate is the body of PATCH /products/{id}; nil fields are omitted.
type ProductUpdate struct {
	Name       *string `json:"name,omitempty"`
	Barcode    *string `json:"barcode,omitempty"`
	CategoryID *int    `json:"category_id,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// ProductUpdatePayload pairs the target id with the patch body.
type ProductUpdatePayload struct {
	ProductID int           `json:"product_id"`
	Body      ProductUpdate `json:"body"`
}

type ProductDeletePayload struct {
	ProductID int `json:"product_id"`
}

type CategoryCreate struct {
	Name string `json:"name"`
}

type CategoryDeletePayload struct {
	CategoryID int `json:"category_id"`
}

type ThresholdCreate struct {
	ProductID   int    `json:"product_id"`
	Location    string `json:"location,omitempty"`
	MinQuantity int    `json:"min_quantity"`
}

type ThresholdDeletePayload struct {
	ThresholdID int `json:"threshold_id"`
}

// StockCreate is the body of POST /stocks/.
type StockCreate struct {
	ProductID int    `json:"product_id"`
	Location  string `json:"location"`
	Quantity  int    `json:"quantity"`
}

type StockUpdate struct {
	Location *string `json:"location,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
}

// StockUpdatePayload pairs the target id with the patch body.
type StockUpdatePayload struct {
	StockID int         `json:"stock_id"`
	Body    StockUpdate `json:"body"`
}

// Product is the subset of the backend product resource the agent reads.
type Product struct {
	ID      int    `json:"id"`
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	Barcode string `json:"barcode"`
}

// ProductList mirrors the paginated list envelope of GET /products/.
type ProductList struct {
	Items  []Product `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Stock is the subset of the backend stock resource the agent reads.
type Stock struct {
	ID        int    `json:"id"`
	ProductID int    `json:"product_id"`
	Location  string `json:"location"`
	Quantity  int    `json:"quantity"`
}

// StockList mirrors the paginated list envelope of GET /stocks/.
type StockList struct {
	Items  []Stock `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
