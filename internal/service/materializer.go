package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petportrait/backend/internal/metrics"
)

// resultStore is the slice of the storage uploader the materializer needs.
type resultStore interface {
	StoreGenerated(ctx context.Context, data []byte, jobID string) (string, error)
}

// Materializer copies a provider-hosted result into durable storage. Storage
// trouble never fails a finished job: the provider URL is returned as a
// degraded fallback instead.
type Materializer struct {
	store      resultStore
	httpClient *http.Client
	log        *slog.Logger
	metrics    *metrics.Metrics
}

const maxResultBytes = 32 << 20 // provider results are single images

func NewMaterializer(store resultStore, log *slog.Logger, m *metrics.Metrics) *Materializer {
	return &Materializer{
		store: store,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:     log,
		metrics: m,
	}
}

// Materialize fetches the remote result and persists it under a name derived
// from the job id. The returned URL is durable on success and the remote URL
// on any failure.
func (m *Materializer) Materialize(ctx context.Context, remoteURL, jobID string) string {
	data, err := m.fetch(ctx, remoteURL)
	if err != nil {
		m.log.Warn("result fetch failed, serving provider URL", "job_id", jobID, "err", err)
		m.metrics.MaterializeFallbk.Inc()
		return remoteURL
	}

	durableURL, err := m.store.StoreGenerated(ctx, data, jobID)
	if err != nil {
		m.log.Warn("result store failed, serving provider URL", "job_id", jobID, "err", err)
		m.metrics.MaterializeFallbk.Inc()
		return remoteURL
	}

	m.log.Info("result materialized", "job_id", jobID, "url", durableURL)
	return durableURL
}

func (m *Materializer) fetch(ctx context.Context, remoteURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch result: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read result body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty result body")
	}
	return data, nil
}
