package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petportrait/backend/internal/cache"
	"github.com/petportrait/backend/internal/config"
	"github.com/petportrait/backend/internal/kie"
	"github.com/petportrait/backend/internal/metrics"
	"github.com/petportrait/backend/internal/models"
	"github.com/petportrait/backend/internal/repository"
)

// taskProvider is the slice of the generation provider client the service
// depends on.
type taskProvider interface {
	CreateTask(ctx context.Context, req kie.CreateTaskRequest) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (*kie.TaskStatus, error)
}

type resultMaterializer interface {
	Materialize(ctx context.Context, remoteURL, jobID string) string
}

// Update paths, used as a metric label only.
const (
	PathCallback = "callback"
	PathPoll     = "poll"
)

// statusCacheTTL bounds how often concurrent pollers of the same job reach
// the provider.
const statusCacheTTL = 5 * time.Second

// GenerationService owns the job lifecycle: submission against the credit
// ledger, and reconciliation of provider observations arriving over the
// callback and polling paths.
type GenerationService struct {
	cfg          config.Config
	log          *slog.Logger
	jobs         *repository.JobRepository
	ledger       *LedgerService
	provider     taskProvider
	materializer resultMaterializer
	cache        *cache.Redis
	metrics      *metrics.Metrics
}

func NewGenerationService(cfg config.Config, log *slog.Logger, jobs *repository.JobRepository, ledger *LedgerService, provider taskProvider, materializer resultMaterializer, statusCache *cache.Redis, m *metrics.Metrics) *GenerationService {
	return &GenerationService{
		cfg:          cfg,
		log:          log,
		jobs:         jobs,
		ledger:       ledger,
		provider:     provider,
		materializer: materializer,
		cache:        statusCache,
		metrics:      m,
	}
}

// Submit validates the request, confirms the balance covers the flat cost,
// registers the job with the provider, and only then writes the job row and
// debits the ledger. Provider failure leaves no local trace; the balance
// gate runs before any external call so an unaffordable job costs nothing,
// not even latency.
func (s *GenerationService) Submit(ctx context.Context, userID, imageURL, prompt, style string) (*models.GenerationJob, error) {
	if imageURL == "" || prompt == "" || style == "" {
		return nil, fmt.Errorf("%w: imageUrl, prompt and style are required", ErrInvalidRequest)
	}

	cost := s.cfg.GenerationCost
	account, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Balance < cost {
		s.metrics.JobsSubmitted.WithLabelValues("insufficient_credits").Inc()
		return nil, ErrInsufficientCredits
	}

	started := time.Now()
	providerJobID, err := s.provider.CreateTask(ctx, kie.CreateTaskRequest{
		Prompt:      prompt,
		ImageURL:    imageURL,
		CallbackURL: s.cfg.CallbackURL(),
	})
	s.observeProvider("createTask", started, err)
	if err != nil {
		s.metrics.JobsSubmitted.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	job := &models.GenerationJob{
		ID:               uuid.NewString(),
		ProviderJobID:    providerJobID,
		UserID:           userID,
		OriginalImageURL: imageURL,
		Prompt:           prompt,
		Style:            style,
		Status:           models.JobStatusWaiting,
		CreditsUsed:      cost,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Debit(ctx, userID, cost, "Image generation job: "+job.ID); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			// The balance was spent between the gate above and the debit.
			// Fail the job rather than leaving an unpaid row in flight.
			if _, _, markErr := s.jobs.MarkTerminal(ctx, job.ID, models.JobStatusFailed, "", "credits were exhausted before the job could be charged", time.Now()); markErr != nil {
				s.log.Error("failed to close unpaid job", "job_id", job.ID, "err", markErr)
			}
			s.metrics.JobsSubmitted.WithLabelValues("insufficient_credits").Inc()
			return nil, ErrInsufficientCredits
		}
		return nil, err
	}

	s.metrics.JobsSubmitted.WithLabelValues("ok").Inc()
	s.metrics.CreditsDebited.Add(float64(cost))
	s.log.Info("generation job submitted", "job_id", job.ID, "provider_job_id", providerJobID, "user_id", userID)
	return job, nil
}

// ListByUser returns the caller's jobs newest-first.
func (s *GenerationService) ListByUser(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// ApplyProviderUpdate is the single reconciliation point both delivery paths
// converge on. A job already terminal is returned unchanged, which is what
// makes duplicate callbacks and poll-vs-callback races harmless.
func (s *GenerationService) ApplyProviderUpdate(ctx context.Context, status *kie.TaskStatus, path string) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByProviderID(ctx, status.TaskID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: provider job %s", ErrJobNotFound, status.TaskID)
	}
	if job.Status.Terminal() {
		return job, nil
	}

	switch status.NormalizedState() {
	case kie.StateSuccess:
		urls, parseErr := status.ResultURLs()
		if parseErr != nil || len(urls) == 0 {
			// A success with no retrievable result must not strand the job.
			s.log.Error("success observation without result URL", "job_id", job.ID, "err", parseErr)
			return s.markTerminal(ctx, job, models.JobStatusFailed, "", "no generated image URL in provider result", path)
		}
		durableURL := s.materializer.Materialize(ctx, urls[0], job.ID)
		return s.markTerminal(ctx, job, models.JobStatusSuccess, durableURL, "", path)

	case kie.StateFailed:
		msg := status.FailMsg
		if msg == "" {
			msg = "generation failed"
		}
		return s.markTerminal(ctx, job, models.JobStatusFailed, "", msg, path)

	case kie.StateProcessing:
		if err := s.jobs.MarkProcessing(ctx, job.ID); err != nil {
			return nil, err
		}
		return s.jobs.GetByID(ctx, job.ID)

	default:
		return job, nil
	}
}

// CheckStatus serves the polling path: owners read their job, and a
// non-terminal job triggers a provider fetch that runs through the same
// reconciliation as the callback.
func (s *GenerationService) CheckStatus(ctx context.Context, userID, jobID string) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	if job.Status.Terminal() {
		return job, nil
	}

	status, err := s.fetchStatus(ctx, job.ProviderJobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if status.NormalizedState() == string(job.Status) {
		return job, nil
	}
	return s.ApplyProviderUpdate(ctx, status, PathPoll)
}

// fetchStatus consults the short-TTL cache before the provider so a burst of
// pollers for one job produces a single upstream request.
func (s *GenerationService) fetchStatus(ctx context.Context, providerJobID string) (*kie.TaskStatus, error) {
	cacheKey := "kie:status:" + providerJobID

	var cached kie.TaskStatus
	hit, err := s.cache.GetJSON(ctx, cacheKey, &cached)
	if err != nil {
		s.log.Warn("status cache read failed", "err", err)
	} else if hit {
		return &cached, nil
	}

	started := time.Now()
	status, err := s.provider.GetTaskStatus(ctx, providerJobID)
	s.observeProvider("recordInfo", started, err)
	if err != nil {
		return nil, err
	}

	if !status.Terminal() {
		if err := s.cache.SetJSON(ctx, cacheKey, status, statusCacheTTL); err != nil {
			s.log.Warn("status cache write failed", "err", err)
		}
	}
	return status, nil
}

func (s *GenerationService) markTerminal(ctx context.Context, job *models.GenerationJob, status models.JobStatus, generatedURL, errorMessage, path string) (*models.GenerationJob, error) {
	updated, applied, err := s.jobs.MarkTerminal(ctx, job.ID, status, generatedURL, errorMessage, time.Now())
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.JobsCompleted.WithLabelValues(string(status), path).Inc()
		s.log.Info("generation job finished", "job_id", job.ID, "status", status, "path", path)
	}
	return updated, nil
}

func (s *GenerationService) observeProvider(endpoint string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ProviderRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.ProviderLatency.WithLabelValues(endpoint, status).Observe(time.Since(started).Seconds())
}
