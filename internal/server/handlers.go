package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/petportrait/backend/internal/kie"
	"github.com/petportrait/backend/internal/models"
	"github.com/petportrait/backend/internal/service"
)

const (
	maxUploadBytes  = 10 << 20
	maxWebhookBytes = 1 << 20
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createGenerationRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
	Prompt   string `json:"prompt" validate:"required"`
	Style    string `json:"style" validate:"required"`
}

func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "imageUrl, prompt and style are required")
		return
	}

	job, err := s.generations.Submit(r.Context(), currentUserID(r), req.ImageURL, req.Prompt, req.Style)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.generations.ListByUser(r.Context(), currentUserID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobToResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := s.generations.CheckStatus(r.Context(), currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "file too large or malformed form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	contentType := http.DetectContentType(data)
	switch contentType {
	case "image/jpeg", "image/png", "image/webp":
	default:
		writeJSONError(w, http.StatusBadRequest, "only JPEG, PNG and WebP images are supported")
		return
	}

	url, err := s.uploader.Upload(r.Context(), data, contentType)
	if err != nil {
		s.log.Error("upload failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	result, err := s.payments.CreateCheckout(r.Context(), currentUserID(r), currentUserEmail(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": result.SessionID,
		"url":       result.RedirectURL,
	})
}

func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	summary, err := s.payments.Billing(r.Context(), currentUserID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := billingResponse{
		Payments:     make([]paymentResponse, 0, len(summary.Payments)),
		Transactions: make([]transactionResponse, 0, len(summary.Transactions)),
	}
	if summary.Account != nil {
		resp.Credits = &creditsResponse{
			Balance:        summary.Account.Balance,
			TotalPurchased: summary.Account.TotalPurchased,
			TotalUsed:      summary.Account.TotalUsed,
		}
	}
	for _, p := range summary.Payments {
		resp.Payments = append(resp.Payments, paymentResponse{
			ID:        p.ID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Status:    string(p.Status),
			Credits:   p.Credits,
			CreatedAt: p.CreatedAt,
		})
	}
	for _, t := range summary.Transactions {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      t.Amount,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleGenerationCallback(w http.ResponseWriter, r *http.Request) {
	var status kie.TaskStatus
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBytes)).Decode(&status); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if status.TaskID == "" {
		writeJSONError(w, http.StatusBadRequest, "taskId is required")
		return
	}

	if _, err := s.generations.ApplyProviderUpdate(r.Context(), &status, service.PathCallback); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type jobResponse struct {
	ID                string     `json:"id"`
	OriginalImageURL  string     `json:"originalImageUrl"`
	GeneratedImageURL string     `json:"generatedImageUrl,omitempty"`
	Prompt            string     `json:"prompt"`
	Style             string     `json:"style"`
	Status            string     `json:"status"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreditsUsed       int        `json:"creditsUsed"`
	CreatedAt         time.Time  `json:"createdAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

func jobToResponse(job *models.GenerationJob) jobResponse {
	return jobResponse{
		ID:                job.ID,
		OriginalImageURL:  job.OriginalImageURL,
		GeneratedImageURL: job.GeneratedImageURL,
		Prompt:            job.Prompt,
		Style:             job.Style,
		Status:            string(job.Status),
		ErrorMessage:      job.ErrorMessage,
		CreditsUsed:       job.CreditsUsed,
		CreatedAt:         job.CreatedAt,
		CompletedAt:       job.CompletedAt,
	}
}

type creditsResponse struct {
	Balance        int `json:"balance"`
	TotalPurchased int `json:"totalPurchased"`
	TotalUsed      int `json:"totalUsed"`
}

type paymentResponse struct {
	ID        string    `json:"id"`
	Amount    int       `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      int       `json:"amount"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type billingResponse struct {
	Credits      *creditsResponse      `json:"credits"`
	Payments     []paymentResponse     `json:"payments"`
	Transactions []transactionResponse `json:"transactions"`
}

// writeServiceError maps expected service failures onto statuses; anything
// else is reported as a generic internal error without leaking detail.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrInsufficientCredits):
		writeJSONError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrUnknownPayment):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		writeJSONError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, service.ErrProviderUnavailable):
		writeJSONError(w, http.StatusBadGateway, "generation provider unavailable")
	default:
		s.log.Error("internal error", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
