package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-live/pkg/chessdto"
)

// HeaderProvider supplies per-request headers such as auth tokens.
type HeaderProvider func() map[string]string

// Webhook POSTs events as JSON to <baseURL>/events/{move,clock,end}.
type Webhook struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
	logger  *zap.Logger
}

type WebhookOption func(*Webhook)

func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.timeout = d }
}

func WithHeaderProvider(h HeaderProvider) WebhookOption {
	return func(w *Webhook) { w.headers = h }
}

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(c *fasthttp.Client) WebhookOption {
	return func(w *Webhook) { w.http = c }
}

func WithLogger(l *zap.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

func NewWebhook(baseURL string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Move(ctx context.Context, ev chessdto.MoveEvent) {
	w.send(ctx, "/events/move", ev)
}

func (w *Webhook) Clock(ctx context.Context, ev chessdto.ClockEvent) {
	w.send(ctx, "/events/clock", ev)
}

func (w *Webhook) GameEnd(ctx context.Context, ev chessdto.GameEndEvent) {
	w.send(ctx, "/events/end", ev)
}

func (w *Webhook) send(ctx context.Context, path string, in any) {
	if err := w.post(ctx, path, in); err != nil {
		w.logger.Warn("broadcast_webhook_failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Webhook) post(ctx context.Context, path string, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.baseURL + path)
	req.Header.SetContentType("application/json")
	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	if err := w.http.DoDeadline(req, resp, w.deadline(ctx)); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 256))
	}
	return nil
}

func (w *Webhook) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(w.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
