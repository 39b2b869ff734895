package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/events"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/orchestrator"
	"github.com/cleargate/vantage/pkg/review"
)

// Server exposes the screening lifecycle over HTTP.
type Server struct {
	orch       *orchestrator.Orchestrator
	reviews    *review.Queue
	dispatcher *events.Dispatcher
	auth       *KeyAuth
	limiter    *RateLimiter
	log        *zap.Logger
}

// NewServer assembles the server. dispatcher may be nil, disabling the
// HRIS ingress route.
func NewServer(orch *orchestrator.Orchestrator, reviews *review.Queue, dispatcher *events.Dispatcher, auth *KeyAuth, limiter *RateLimiter, log *zap.Logger) *Server {
	return &Server{orch: orch, reviews: reviews, dispatcher: dispatcher, auth: auth, limiter: limiter, log: log.Named("api")}
}

// Handler builds the routed, authenticated handler chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/screenings", s.handleSubmit)
	mux.HandleFunc("GET /v1/screenings", s.handleList)
	mux.HandleFunc("GET /v1/screenings/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/screenings/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/reviews", s.handleReviews)
	mux.HandleFunc("POST /v1/reviews/{id}/decision", s.handleDecision)
	if s.dispatcher != nil {
		mux.HandleFunc("POST /v1/events/hris", s.handleHRIS)
	}
	return s.limiter.Middleware(s.auth.Middleware(mux))
}

// SubmitRequest is the submission body.
type SubmitRequest struct {
	Subject        contracts.Subject `json:"subject"`
	EmployeeRef    string            `json:"employee_ref,omitempty"`
	Locale         string            `json:"locale"`
	Role           string            `json:"role"`
	Tier           string            `json:"tier"`
	Degree         string            `json:"degree"`
	Vigilance      string            `json:"vigilance"`
	ConsentToken   string            `json:"consent_token,omitempty"`
	CallbackURL    string            `json:"callback_url,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	BudgetCents    int64             `json:"budget_cents,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.orch.Submit(r.Context(), orchestrator.SubmitParams{
		TenantID:       TenantID(r.Context()),
		Actor:          "api",
		EmployeeRef:    body.EmployeeRef,
		Subject:        body.Subject,
		Locale:         body.Locale,
		Role:           compliance.RoleCategory(body.Role),
		Tier:           contracts.Tier(body.Tier),
		Degree:         contracts.Degree(body.Degree),
		Vigilance:      contracts.Vigilance(body.Vigilance),
		ConsentToken:   body.ConsentToken,
		CallbackURL:    body.CallbackURL,
		Priority:       body.Priority,
		IdempotencyKey: body.IdempotencyKey,
		BudgetCents:    body.BudgetCents,
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.orch.Get(r.Context(), TenantID(r.Context()), r.PathValue("id"))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.orch.Cancel(r.Context(), TenantID(r.Context()), r.PathValue("id"), "api")
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orchestrator.ListFilter{
		Status: contracts.RequestStatus(q.Get("status")),
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}
	reqs, err := s.orch.List(r.Context(), TenantID(r.Context()), f)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"screenings": reqs, "count": len(reqs)})
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	kind := review.Kind(r.URL.Query().Get("kind"))
	tasks, err := s.reviews.Pending(r.Context(), TenantID(r.Context()), kind, intParam(r.URL.Query().Get("limit"), 50))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// DecisionRequest resolves one review task.
type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Actor   string `json:"actor"`
	Note    string `json:"note,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var body DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Actor == "" {
		WriteFault(w, r, faults.New(faults.KindValidation, "api.decision", "actor required"))
		return
	}
	task, err := s.reviews.Decide(r.Context(), TenantID(r.Context()), r.PathValue("id"), body.Actor, body.Approve, body.Note)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHRIS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var ev events.Inbound
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	// Tenancy comes from the API key, never the payload.
	ev.TenantID = TenantID(r.Context())
	if err := s.dispatcher.Dispatch(r.Context(), ev); err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event_id": ev.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
