package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	gocache "github.com/patrickmn/go-cache"
)

// Hint lets a compound send flow pre-classify its own outcome instead of
// leaving the decision to the status-code policy. The classifier honors a
// hint before looking at the code.
type Hint int

const (
	HintNone Hint = iota
	HintSuccess
	HintPermanent
	HintTransient
)

// Outcome is the result of dispatching one mutation. Code 0 means no HTTP
// response was received. A transport-level failure is not an Outcome at
// all: Send returns it as an error so the engine can halt the pass.
type Outcome struct {
	Code   int
	Detail string
	Hint   Hint
}

// TokenSource provides the bearer credential, when one is available.
type TokenSource interface {
	Token() (string, bool)
}

type sendFunc func(ctx context.Context, m models.PendingMutation) (Outcome, error)

// Client talks to the inventory backend. One send function per mutation
// kind, wired into a dispatch table at construction.
type Client struct {
	baseURL       string
	http          *http.Client
	tokens        TokenSource
	logger        *slog.Logger
	products      *gocache.Cache
	dispatch      map[models.Kind]sendFunc
	healthTimeout time.Duration
}

const productCacheTTL = 5 * time.Minute

func NewClient(baseURL string, tokens TokenSource, timeout, healthTimeout time.Duration, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		tokens:        tokens,
		logger:        logger,
		products:      gocache.New(productCacheTTL, time.Minute),
		healthTimeout: healthTimeout,
	}

	c.dispatch = map[models.Kind]sendFunc{
		models.KindEventCreate:      c.sendEventCreate,
		models.KindScanEvent:        c.sendScanEvent,
		models.KindMovementIn:       c.sendMovement("/movements/in"),
		models.KindMovementOut:      c.sendMovement("/movements/out"),
		models.KindMovementAdjust:   c.sendMovementAdjust,
		models.KindMovementTransfer: c.sendMovementTransfer,
		models.KindProductCreate:    c.sendProductCreate,
		models.KindProductUpdate:    c.sendProductUpdate,
		models.KindProductDelete:    c.sendProductDelete,
		models.KindCategoryCreate:   c.sendCategoryCreate,
		models.KindCategoryDelete:   c.sendCategoryDelete,
		models.KindThresholdCreate:  c.sendThresholdCreate,
		models.KindThresholdDelete:  c.sendThresholdDelete,
		models.KindStockCreate:      c.sendStockCreate,
		models.KindStockUpdate:      c.sendStockUpdate,
	}

	return c
}

// Health issues the lightweight reachability probe. Any non-2xx answer or
// transport failure means "do not attempt replay this pass".
func (c *Client) Health(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("health probe returned status %d", res.StatusCode)
	}
	return nil
}

// Reachable is the cheap connectivity precondition: can we even open a TCP
// connection to the backend host? It never touches the HTTP layer.
func (c *Client) Reachable() bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	conn, err := net.DialTimeout("tcp", host, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Send dispatches one mutation to the remote operation matching its kind.
// The returned error is reserved for transport-level failures; everything
// the server actually answered comes back as an Outcome.
func (c *Client) Send(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	fn, ok := c.dispatch[m.Kind]
	if !ok {
		return Outcome{Hint: HintPermanent, Detail: fmt.Sprintf("unknown mutation kind %q", m.Kind)}, nil
	}
	return fn(ctx, m)
}

// Login exchanges credentials for a bearer token (form-encoded, per the
// backend's auth contract).
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("login rejected with status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	return tok.AccessToken, nil
}

// ---- per-kind send functions ----

func (c *Client) sendEventCreate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.EventCreate
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}
	return c.post(ctx, "/events/", dto)
}

// sendScanEvent resolves the scanned barcode to a product at replay time,
// then records a sensor event for it. A barcode the catalog has never seen
// is a permanent failure; a failed listing call is not.
func (c *Client) sendScanEvent(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var scan models.ScanEvent
	if err := json.Unmarshal(m.Payload, &scan); err != nil {
		return payloadError(err), nil
	}

	product, code, err := c.findProduct(ctx, "barcode", scan.Barcode)
	if err != nil {
		return Outcome{}, err
	}
	if code != 0 {
		return Outcome{Code: code, Hint: HintTransient, Detail: "product lookup failed"}, nil
	}
	if product == nil {
		return Outcome{Code: 404, Hint: HintPermanent, Detail: fmt.Sprintf("no product with barcode %s", scan.Barcode)}, nil
	}

	eventType := models.EventSensorOut
	if scan.Type == models.MovementIn {
		eventType = models.EventSensorIn
	}
	return c.post(ctx, "/events/", models.EventCreate{
		EventType:      eventType,
		ProductID:      product.ID,
		Delta:          scan.Quantity,
		Source:         scan.Source,
		Location:       scan.Location,
		IdempotencyKey: scan.IdempotencyKey,
	})
}

func (c *Client) sendMovement(path string) sendFunc {
	return func(ctx context.Context, m models.PendingMutation) (Outcome, error) {
		var dto models.MovementRequest
		if err := json.Unmarshal(m.Payload, &dto); err != nil {
			return payloadError(err), nil
		}
		return c.post(ctx, path, dto)
	}
}

func (c *Client) sendMovementAdjust(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.MovementAdjustRequest
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}
	return c.post(ctx, "/movements/adjust", dto)
}

func (c *Client) sendMovementTransfer(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.MovementTransferRequest
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}
	return c.post(ctx, "/movements/transfer", dto)
}

// sendProductCreate reconciles with the server before and after creating:
// a product that already exists (from an earlier retry that did reach the
// backend) counts as success, and a 409 is only trusted once the product is
// actually visible in a listing.
func (c *Client) sendProductCreate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.ProductCreate
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}

	if c.productExists(ctx, dto.SKU, dto.Barcode) {
		return Outcome{Hint: HintSuccess}, nil
	}

	out, err := c.post(ctx, "/products/", dto)
	if err != nil {
		return Outcome{}, err
	}
	if out.Code == http.StatusConflict {
		if c.productExists(ctx, dto.SKU, dto.Barcode) {
			return Outcome{Hint: HintSuccess}, nil
		}
		return Outcome{Code: out.Code, Hint: HintTransient, Detail: "conflict reported but product not visible in listing"}, nil
	}
	return out, nil
}

func (c *Client) sendProductUpdate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var p models.ProductUpdatePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payloadError(err), nil
	}
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("/products/%d", p.ProductID), p.Body)
}

func (c *Client) sendProductDelete(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var p models.ProductDeletePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payloadError(err), nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/products/%d", p.ProductID), nil)
}

func (c *Client) sendCategoryCreate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.CategoryCreate
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}
	return c.post(ctx, "/categories/", dto)
}

func (c *Client) sendCategoryDelete(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var p models.CategoryDeletePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payloadError(err), nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/categories/%d", p.CategoryID), nil)
}

func (c *Client) sendThresholdCreate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.ThresholdCreate
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}
	return c.post(ctx, "/thresholds/", dto)
}

func (c *Client) sendThresholdDelete(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var p models.ThresholdDeletePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payloadError(err), nil
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/thresholds/%d", p.ThresholdID), nil)
}

// sendStockCreate treats "stock row already exists for this location" as
// success: the backend answers 400 for it, and an earlier retry may have
// already created the row.
func (c *Client) sendStockCreate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var dto models.StockCreate
	if err := json.Unmarshal(m.Payload, &dto); err != nil {
		return payloadError(err), nil
	}

	if c.stockExists(ctx, dto.ProductID, dto.Location) {
		return Outcome{Hint: HintSuccess}, nil
	}

	out, err := c.post(ctx, "/stocks/", dto)
	if err != nil {
		return Outcome{}, err
	}
	if out.Code == http.StatusBadRequest {
		return Outcome{Hint: HintSuccess}, nil
	}
	return out, nil
}

func (c *Client) sendStockUpdate(ctx context.Context, m models.PendingMutation) (Outcome, error) {
	var p models.StockUpdatePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return payloadError(err), nil
	}
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("/stocks/%d", p.StockID), p.Body)
}

// ---- lookups ----

// findProduct queries the catalog by a single field, caching hits. Returns
// (nil, status, nil) when the listing call answered non-2xx, and
// (nil, 0, nil) when the listing succeeded but matched nothing.
func (c *Client) findProduct(ctx context.Context, field, value string) (*models.Product, int, error) {
	cacheKey := field + ":" + value
	if v, ok := c.products.Get(cacheKey); ok {
		p := v.(models.Product)
		return &p, 0, nil
	}

	q := url.Values{}
	q.Set(field, value)
	q.Set("limit", "1")
	q.Set("offset", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, res.Body)
		return nil, res.StatusCode, nil
	}

	var list models.ProductList
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, res.StatusCode, nil
	}
	if len(list.Items) == 0 {
		return nil, 0, nil
	}

	p := list.Items[0]
	c.products.Set(cacheKey, p, gocache.DefaultExpiration)
	return &p, 0, nil
}

// productExists swallows lookup failures: an unanswerable pre-check must
// not veto the create attempt itself.
func (c *Client) productExists(ctx context.Context, sku, barcode string) bool {
	if sku != "" {
		if p, code, err := c.findProduct(ctx, "sku", sku); err == nil && code == 0 && p != nil {
			return true
		}
	}
	if barcode != "" {
		if p, code, err := c.findProduct(ctx, "barcode", barcode); err == nil && code == 0 && p != nil {
			return true
		}
	}
	return false
}

func (c *Client) stockExists(ctx context.Context, productID int, location string) bool {
	q := url.Values{}
	q.Set("product_id", fmt.Sprintf("%d", productID))
	q.Set("location", location)
	q.Set("limit", "1")
	q.Set("offset", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stocks/?"+q.Encode(), nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, res.Body)
		return false
	}

	var list models.StockList
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return false
	}
	return len(list.Items) > 0
}

// ProductName resolves a product id to its display name, best effort.
// Used by the admin API when listing pending scan mutations.
func (c *Client) ProductName(ctx context.Context, barcode string) string {
	p, _, err := c.findProduct(ctx, "barcode", barcode)
	if err != nil || p == nil {
		return ""
	}
	return p.Name
}

// ---- plumbing ----

func (c *Client) post(ctx context.Context, path string, body any) (Outcome, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (Outcome, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return payloadError(err), nil
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Outcome{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	res, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	return c.outcome(res), nil
}

func (c *Client) authorize(req *http.Request) {
	if token, ok := c.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// outcome drains the response into a classifiable result. Error bodies are
// kept (truncated) as the diagnostic; success bodies are discarded.
func (c *Client) outcome(res *http.Response) Outcome {
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		io.Copy(io.Discard, res.Body)
		return Outcome{Code: res.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, int64(models.MaxDiagnosticLen)+1))
	detail := strings.TrimSpace(string(raw))
	if err != nil {
		detail = "(failed to read error body)"
	} else if detail == "" {
		detail = "(no error body)"
	}
	return Outcome{Code: res.StatusCode, Detail: models.Truncate(detail, models.MaxDiagnosticLen)}
}

// payloadError marks a locally undecodable payload: re-sending the same
// bytes can never succeed, so it must not block the queue.
func payloadError(err error) Outcome {
	return Outcome{Hint: HintPermanent, Detail: fmt.Sprintf("payload unmarshal error: %v", err)}
}
