package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paycore/internal/employee/models"
	"paycore/internal/platform/metrics"
	"paycore/internal/platform/middleware"
	"paycore/internal/salary/batch"
	"paycore/internal/salary/service"
	dErrors "paycore/pkg/domain-errors"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/httputil"
)

// SalaryUpdater changes one employee's salary.
type SalaryUpdater interface {
	UpdateSalary(ctx context.Context, req service.ChangeRequest) (*service.Result, error)
}

// RaiseApplier applies a percentage raise to a selection of employees.
type RaiseApplier interface {
	ApplyRaise(ctx context.Context, sel models.Selector, percentage decimal.Decimal) (*batch.Summary, error)
}

// AuditReader lists an entity's audit records.
type AuditReader interface {
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]audit.Record, error)
}

// Handler exposes salary changes over HTTP.
type Handler struct {
	salaries       SalaryUpdater
	raises         RaiseApplier
	auditLog       AuditReader
	logger         *slog.Logger
	metrics        *metrics.Metrics
	requestTimeout time.Duration
}

// Option configures the Handler.
type Option func(*Handler)

// WithAuditReader enables the audit listing endpoint. Without it the endpoint
// answers 501.
func WithAuditReader(r AuditReader) Option {
	return func(h *Handler) {
		h.auditLog = r
	}
}

// WithMetrics sets the HTTP metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// New creates a salary handler.
func New(salaries SalaryUpdater, raises RaiseApplier, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		salaries:       salaries,
		raises:         raises,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the salary routes on r.
func (h *Handler) Register(r chi.Router) {
	salaryRouter := chi.NewRouter()
	salaryRouter.Use(middleware.Recovery(h.logger))
	salaryRouter.Use(middleware.RequestID)
	salaryRouter.Use(middleware.Logger(h.logger))
	salaryRouter.Use(middleware.Timeout(h.requestTimeout))
	salaryRouter.Use(middleware.ContentTypeJSON)
	salaryRouter.Use(middleware.LatencyMiddleware(h.metrics))

	salaryRouter.Put("/employees/{id}/salary", h.handleUpdateSalary)
	salaryRouter.Post("/salary/raises", h.handleApplyRaise)
	salaryRouter.Get("/employees/{id}/audit", h.handleListAudit)

	r.Mount("/", salaryRouter)
}

type updateSalaryRequest struct {
	Salary *decimal.Decimal `json:"salary"`
}

type updateSalaryResponse struct {
	EmployeeID   int64       `json:"employee_id"`
	EmployeeName string      `json:"employee_name,omitempty"`
	OldSalary    string      `json:"old_salary"`
	NewSalary    string      `json:"new_salary"`
	AuditIDs     []uuid.UUID `json:"audit_ids"`
}

type selectorRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type applyRaiseRequest struct {
	Selector   selectorRequest  `json:"selector"`
	Percentage *decimal.Decimal `json:"percentage"`
}

type failureResponse struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

type summaryResponse struct {
	BatchID    uuid.UUID         `json:"batch_id"`
	Selector   string            `json:"selector"`
	Percentage decimal.Decimal   `json:"percentage"`
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Aborted    bool              `json:"aborted"`
	Failures   []failureResponse `json:"failures"`
	AuditID    uuid.UUID         `json:"audit_id"`
}

type auditRecordResponse struct {
	ID         uuid.UUID `json:"id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type"`
	EntityID   *int64    `json:"entity_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// partialResponse is written when an operation took effect but still failed,
// e.g. a committed update whose success record could not be written.
type partialResponse struct {
	httputil.ErrorResponse
	Result any `json:"result"`
}

func (h *Handler) handleUpdateSalary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id, err := employeeID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req updateSalaryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid update salary request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	if req.Salary == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "salary is required"))
		return
	}

	res, err := h.salaries.UpdateSalary(ctx, service.ChangeRequest{EmployeeID: id, ProposedSalary: *req.Salary})
	if err != nil {
		h.logFailure(ctx, "salary update failed", err, "employee_id", id)
		if res != nil {
			h.writePartial(w, err, toUpdateResponse(res))
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUpdateResponse(res))
}

func (h *Handler) handleApplyRaise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req applyRaiseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid apply raise request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	if req.Percentage == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "percentage is required"))
		return
	}
	sel := models.Selector{Kind: models.SelectorKind(req.Selector.Type), Value: req.Selector.Value}

	summary, err := h.raises.ApplyRaise(ctx, sel, *req.Percentage)
	if err != nil {
		h.logFailure(ctx, "batch raise failed", err, "selector", sel.String())
		if summary != nil {
			h.writePartial(w, err, toSummaryResponse(summary))
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auditLog == nil {
		h.logger.WarnContext(ctx, "audit listing requested but the audit sink is write-only",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusNotImplemented, httputil.ErrorResponse{
			Error:            "not_implemented",
			ErrorDescription: "the configured audit sink cannot be queried",
		})
		return
	}

	id, err := employeeID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.auditLog.ListByEntity(ctx, audit.EntityEmployee, id)
	if err != nil {
		h.logFailure(ctx, "list audit records failed", err, "employee_id", id)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit records"))
		return
	}

	out := make([]auditRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, auditRecordResponse{
			ID:         rec.ID,
			EventType:  string(rec.EventType),
			Message:    rec.Message,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Timestamp:  rec.Timestamp,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) writePartial(w http.ResponseWriter, err error, result any) {
	code, _ := dErrors.CodeOf(err)
	httputil.WriteJSON(w, httputil.StatusFor(code), partialResponse{
		ErrorResponse: httputil.ErrorResponse{
			Error:            string(code),
			ErrorDescription: dErrors.MessageOf(err),
		},
		Result: result,
	})
}

// logFailure logs client errors at Warn and everything else at Error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "request_id", middleware.GetRequestID(ctx), "error", err.Error())
	if httputil.IsClientError(err) {
		h.logger.WarnContext(ctx, msg, args...)
		return
	}
	h.logger.ErrorContext(ctx, msg, args...)
}

func employeeID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "employee id must be a positive integer")
	}
	return id, nil
}

func toUpdateResponse(res *service.Result) updateSalaryResponse {
	ids := res.AuditIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return updateSalaryResponse{
		EmployeeID:   res.EmployeeID,
		EmployeeName: res.EmployeeName,
		OldSalary:    res.OldSalary.StringFixed(2),
		NewSalary:    res.NewSalary.StringFixed(2),
		AuditIDs:     ids,
	}
}

func toSummaryResponse(s *batch.Summary) summaryResponse {
	failures := make([]failureResponse, 0, len(s.Failures))
	for _, f := range s.Failures {
		failures = append(failures, failureResponse{
			EmployeeID: f.EmployeeID,
			Name:       f.Name,
			Code:       string(f.Code),
			Reason:     f.Reason,
		})
	}
	return summaryResponse{
		BatchID:    s.BatchID,
		Selector:   s.Selector.String(),
		Percentage: s.Percentage,
		Total:      s.Total,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		Aborted:    s.Aborted,
		Failures:   failures,
		AuditID:    s.AuditID,
	}
}
