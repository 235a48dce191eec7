package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/closure"
	"github.com/Ghostrayu/xahpayroll-sub003/handshake"
	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/reconciler"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/timesheet"
	"github.com/Ghostrayu/xahpayroll-sub003/workflows"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Query      map[string]string `json:"query"`
	Params     map[string]string `json:"params"` // Route parameters
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`

	ctx context.Context
}

// Context is the context of the originating HTTP request
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Response represents the computed response
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// ReconcileStarter starts scheduled reconciliation runs
type ReconcileStarter interface {
	Start(ctx context.Context, in workflows.ReconcileInput) (workflowID string, runID string, err error)
}

// ServiceRegistry maps HTTP routes onto the engine's services
type ServiceRegistry struct {
	timesheet  *timesheet.Service
	closure    *closure.Service
	handshake  *handshake.Service
	reconciler *reconciler.Service
	journal    *journal.Journal
	starter    ReconcileStarter
	logger     cmtlog.Logger
}

type Services struct {
	Timesheet  *timesheet.Service
	Closure    *closure.Service
	Handshake  *handshake.Service
	Reconciler *reconciler.Service
	Journal    *journal.Journal
	// Starter is optional; without it the workflow route answers 503
	Starter ReconcileStarter
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(services Services, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		timesheet:  services.Timesheet,
		closure:    services.Closure,
		handshake:  services.Handshake,
		reconciler: services.Reconciler,
		journal:    services.Journal,
		starter:    services.Starter,
		logger:     logger.With("module", "srvreg"),
	}
}

// RegisterDefaultServices mounts every endpoint on r
func (sr *ServiceRegistry) RegisterDefaultServices(r chi.Router) {
	// Session ledger
	sr.RegisterHandler(r, http.MethodPost, "/timesheet/{id}/clock-in", sr.ClockInHandler)
	sr.RegisterHandler(r, http.MethodPost, "/timesheet/sessions/{id}/clock-out", sr.ClockOutHandler)
	sr.RegisterHandler(r, http.MethodGet, "/timesheet/{id}/active-session", sr.ActiveSessionHandler)

	// Channel creation
	sr.RegisterHandler(r, http.MethodPost, "/channels/prepare", sr.PrepareCreateHandler)
	sr.RegisterHandler(r, http.MethodPost, "/channels", sr.RecordCreationHandler)

	// Closure protocol
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/close/propose", sr.ProposeHandler)
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/close/confirm", sr.ConfirmHandler)

	// Closure-request handshake
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/closure-requests", sr.RequestClosureHandler)
	sr.RegisterHandler(r, http.MethodGet, "/closure-requests", sr.PendingRequestsHandler)
	sr.RegisterHandler(r, http.MethodPost, "/closure-requests/{id}/approve", sr.ApproveClosureHandler)
	sr.RegisterHandler(r, http.MethodPost, "/closure-requests/{id}/cancel", sr.CancelClosureHandler)

	// Reconciler
	sr.RegisterHandler(r, http.MethodPost, "/organizations/{wallet}/sync", sr.SyncAllHandler)
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/sync", sr.SyncChannelHandler)
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/correct-stale-balance", sr.CorrectStaleBalanceHandler)
	sr.RegisterHandler(r, http.MethodPost, "/channels/{id}/resolve-stuck", sr.ResolveStuckHandler)
	sr.RegisterHandler(r, http.MethodPost, "/reconcile/workflow", sr.StartReconcileHandler)

	// Journal
	sr.RegisterHandler(r, http.MethodGet, "/journal/verifications/{hash}", sr.VerificationsHandler)
	sr.RegisterHandler(r, http.MethodGet, "/journal/sync/{wallet}", sr.SyncReportsHandler)
	sr.RegisterHandler(r, http.MethodGet, "/journal/sync/{wallet}/latest", sr.LatestSyncReportHandler)
}

// RegisterHandler mounts one service handler on the router
func (sr *ServiceRegistry) RegisterHandler(r chi.Router, method, pattern string, handler ServiceHandler) {
	r.Method(method, pattern, sr.adapt(handler))
}

func (sr *ServiceRegistry) adapt(handler ServiceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		request, err := ConvertHttpRequest(r, uuid.NewString())
		if err != nil {
			writeResponse(w, sr.logger, errorResponse(repository.ValidationError("INVALID_BODY", "Failed to read request body")))
			return
		}

		response, err := handler(request)
		if err != nil {
			sr.logger.Info("Request failed", "method", request.Method, "path", request.Path, "request_id", request.RequestID, "err", err)
		}
		if response == nil {
			response = errorResponse(&repository.RepositoryError{
				Code:     "INTERNAL_ERROR",
				Message:  "Internal server error",
				Category: repository.CategoryInfrastructure,
			})
		}
		writeResponse(w, sr.logger, response)
	}
}

// ConvertHttpRequest converts an http.Request to Request
func ConvertHttpRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	params := make(map[string]string)
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			params[key] = rctx.URLParams.Values[i]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		body = compactJSON(strings.TrimSpace(string(bodyBytes)))
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		Query:      query,
		Params:     params,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
		ctx:        r.Context(),
	}, nil
}

func writeResponse(w http.ResponseWriter, logger cmtlog.Logger, response *Response) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(response.StatusCode)
	if _, err := w.Write([]byte(response.Body)); err != nil {
		logger.Error("Failed to write response", "err", err)
	}
}

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// StatusFor maps an error category to its HTTP status
func StatusFor(category string) int {
	switch category {
	case repository.CategoryValidation:
		return http.StatusBadRequest
	case repository.CategoryAuthorization:
		return http.StatusForbidden
	case repository.CategoryNotFound:
		return http.StatusNotFound
	case repository.CategoryStateConflict:
		return http.StatusConflict
	case repository.CategoryLedgerVerification:
		return http.StatusUnprocessableEntity
	case repository.CategoryLedgerUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code     string         `json:"code"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Detail   string         `json:"detail,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

func errorResponse(repoErr *repository.RepositoryError) *Response {
	category := repoErr.Category
	if category == "" {
		category = repository.CategoryInfrastructure
	}
	body := errorBody{
		Code:     repoErr.Code,
		Category: category,
		Message:  repoErr.Message,
		Detail:   repoErr.Detail,
		Data:     repoErr.Data,
	}
	// Database internals stay in the logs
	if category == repository.CategoryInfrastructure {
		body.Detail = ""
	}
	raw, err := json.Marshal(map[string]errorBody{"error": body})
	if err != nil {
		raw = []byte(`{"error":{"code":"INTERNAL_ERROR","category":"infrastructure","message":"Internal server error"}}`)
	}
	return &Response{StatusCode: StatusFor(category), Headers: defaultHeaders, Body: string(raw)}
}

func jsonResponse(status int, v any) (*Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResponse(&repository.RepositoryError{
			Code:     "ENCODING_ERROR",
			Message:  "Failed to encode response",
			Category: repository.CategoryInfrastructure,
		}), fmt.Errorf("encode response: %w", err)
	}
	return &Response{StatusCode: status, Headers: defaultHeaders, Body: string(raw)}, nil
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
