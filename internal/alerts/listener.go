package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/pkg/infra"
	"github.com/Guizzs26/go-inventory-agent/pkg/metrics"
)

// Alert is a low-stock push from the backend alerts channel.
type Alert struct {
	Type      string `json:"type"`
	ProductID int    `json:"product_id"`
	Location  string `json:"location"`
	Quantity  int    `json:"quantity"`
	Message   string `json:"message"`
}

// Listener keeps a websocket subscription to the backend alerts feed for
// as long as the agent runs. It is best-effort by nature: alerts are
// advisory, so a dropped connection only triggers a reconnect, never an
// agent failure.
type Listener struct {
	baseURL string
	tokens  remote.TokenSource
	logger  *slog.Logger
	backoff *infra.Backoff
}

func NewListener(baseURL string, tokens remote.TokenSource, logger *slog.Logger) *Listener {
	return &Listener{
		baseURL: baseURL,
		tokens:  tokens,
		logger:  logger,
		backoff: infra.NewBackoff(2*time.Second, 1*time.Minute, 2.0),
	}
}

// Run connects and re-connects until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Alerts listener stopping", "reason", ctx.Err())
				return
			}
			wait := l.backoff.Next()
			l.logger.Warn("Alerts connection lost, reconnecting", "error", err, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	token, ok := l.tokens.Token()
	if !ok {
		return fmt.Errorf("no session token")
	}

	wsURL, err := l.alertsURL(token)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial alerts socket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	l.logger.Info("🔔 Alerts channel connected")
	l.backoff.Reset()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("alerts read failed: %w", err)
		}

		var alert Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			l.logger.Warn("Discarding unparseable alert", "error", err)
			continue
		}
		metrics.AlertsReceived.Inc()
		l.logger.Warn("⚠️  Low stock alert",
			"product_id", alert.ProductID,
			"location", alert.Location,
			"quantity", alert.Quantity,
			"message", alert.Message,
		)
	}
}

func (l *Listener) alertsURL(token string) (string, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/alerts"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
