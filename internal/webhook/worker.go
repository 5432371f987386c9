package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

// HTTPDoer abstracts *http.Client so tests can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WorkerConfig controls batching, concurrency, and polling cadence.
type WorkerConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	CleanupInterval time.Duration
	CleanupAge      time.Duration
	MaxConcurrent   int
	RequestTimeout  time.Duration
}

// DefaultWorkerConfig returns sane production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:       10,
		PollInterval:    5 * time.Second,
		CleanupInterval: time.Hour,
		CleanupAge:      30 * 24 * time.Hour,
		MaxConcurrent:   5,
		RequestTimeout:  10 * time.Second,
	}
}

// Worker polls WebhookDelivery rows and dispatches them concurrently,
// signing each payload with its endpoint's secret. Structurally mirrors a
// database-polling delivery worker: a process loop on a ticker, a
// semaphore-bounded fan-out per batch, and a cleanup loop that prunes old
// terminal deliveries.
type Worker struct {
	deliveries repositories.WebhookDeliveryRepository
	endpoints  repositories.WebhookEndpointRepository
	http       HTTPDoer
	cfg        WorkerConfig
	logger     *zap.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopChan chan struct{}
	mu       sync.Mutex
	started  bool
}

// NewWorker builds a Worker. Zero-value WorkerConfig fields fall back to
// DefaultWorkerConfig's values.
func NewWorker(deliveries repositories.WebhookDeliveryRepository, endpoints repositories.WebhookEndpointRepository, httpClient HTTPDoer, cfg WorkerConfig, logger *zap.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = def.CleanupAge
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Worker{
		deliveries: deliveries,
		endpoints:  endpoints,
		http:       httpClient,
		cfg:        cfg,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the process and cleanup loops. Safe to call once; a
// second call is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.processLoop(ctx)
	go w.cleanupLoop(ctx)
}

// Stop cancels both loops and waits (up to 30s) for in-flight deliveries.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.cancel()
	close(w.stopChan)

	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		w.logger.Warn("webhook worker stop timed out")
	}

	w.mu.Lock()
	w.started = false
	w.mu.Unlock()
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.processBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.performCleanup(ctx)
		}
	}
}

func (w *Worker) performCleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	deleted, err := w.deliveries.DeleteOlderThan(ctx, time.Now().Add(-w.cfg.CleanupAge))
	if err != nil {
		w.logger.Error("webhook delivery cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("pruned old webhook deliveries", zap.Int64("count", deleted))
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	items, err := w.deliveries.GetNextToProcess(ctx, w.cfg.BatchSize)
	if err == nil && len(items) == 0 {
		items, err = w.deliveries.GetRetryable(ctx, w.cfg.BatchSize)
	}
	if err != nil {
		w.logger.Error("failed to fetch webhook deliveries", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, w.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range items {
		item := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processOne(ctx, &item)
		}()
	}
	wg.Wait()
}

func (w *Worker) processOne(ctx context.Context, item *db.WebhookDelivery) {
	endpoint, err := w.endpoints.GetByID(ctx, item.TenantID, item.EndpointID)
	if err != nil {
		w.logger.Error("webhook delivery references missing endpoint", zap.String("delivery_id", item.ID.String()), zap.Error(err))
		w.markFailed(ctx, item, 0, "endpoint not found")
		return
	}

	if !endpoint.Enabled {
		w.markTerminalFailed(ctx, item, &endpoint.ID, 0, "endpoint disabled")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.URL, bytes.NewReader([]byte(item.PayloadJSON)))
	if err != nil {
		w.markFailed(ctx, item, 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DocRefinery-Event", item.EventType)
	req.Header.Set("X-DocRefinery-Delivery", item.PublicID.String())
	if endpoint.Secret != "" {
		signature := ComputeSignature(string(endpoint.Secret), []byte(item.PayloadJSON))
		req.Header.Set("X-DocRefinery-Signature", "sha256="+signature)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery transport error", zap.String("delivery_id", item.ID.String()), zap.Error(err))
		w.markFailed(ctx, item, 0, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	now := time.Now()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := w.deliveries.MarkDelivered(ctx, item.ID, resp.StatusCode, now); err != nil {
			w.logger.Error("failed to record delivered webhook", zap.Error(err))
			return
		}
		_ = w.endpoints.MarkDeliveryOutcome(ctx, endpoint.ID, true, now)
		return
	}

	w.markFailedWithCode(ctx, item, &endpoint.ID, resp.StatusCode, fmt.Sprintf("http %d", resp.StatusCode))
}

func (w *Worker) markFailed(ctx context.Context, item *db.WebhookDelivery, code int, msg string) {
	w.markFailedWithCode(ctx, item, nil, code, msg)
}

// markTerminalFailed records a delivery as FAILED with no further retry,
// for failures no amount of backoff can fix (the endpoint itself is
// disabled) rather than a transient transport or response error.
func (w *Worker) markTerminalFailed(ctx context.Context, item *db.WebhookDelivery, endpointID *uuid.UUID, code int, msg string) {
	if err := w.deliveries.MarkFailed(ctx, item.ID, code, msg, nil); err != nil {
		w.logger.Error("failed to record failed webhook delivery", zap.Error(err))
	}
	if endpointID != nil {
		_ = w.endpoints.MarkDeliveryOutcome(ctx, *endpointID, false, time.Now())
	}
}

// initialBackoff matches the ~30s-after-first-failure example in the
// end-to-end scenarios: next retry is initialBackoff * 2^(attempt-1),
// where attempt is the post-increment attempt count.
const initialBackoff = 30 * time.Second

// markFailedWithCode records a failed attempt, computing the next retry
// time with exponential backoff or leaving it terminal once MaxAttempts is
// reached. endpointID, when known, also updates the endpoint's
// LastFailureAt for operator visibility.
func (w *Worker) markFailedWithCode(ctx context.Context, item *db.WebhookDelivery, endpointID *uuid.UUID, code int, msg string) {
	nextAttempt := item.Attempt + 1

	var retryAt *time.Time
	if nextAttempt < item.MaxAttempts {
		backoff := initialBackoff * time.Duration(1<<uint(nextAttempt-1))
		t := time.Now().Add(backoff)
		retryAt = &t
	}

	if err := w.deliveries.MarkFailed(ctx, item.ID, code, msg, retryAt); err != nil {
		w.logger.Error("failed to record failed webhook delivery", zap.Error(err))
	}
	if endpointID != nil {
		_ = w.endpoints.MarkDeliveryOutcome(ctx, *endpointID, false, time.Now())
	}
}
