package srvreg

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/closure"
	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/reconciler"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/workflows"
	"github.com/shopspring/decimal"
)

func decodeBody(req *Request, v any) *repository.RepositoryError {
	if req.Body == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		repoErr := repository.ValidationError("INVALID_BODY", "Invalid body format")
		repoErr.Detail = err.Error()
		return repoErr
	}
	return nil
}

func fail(repoErr *repository.RepositoryError) (*Response, error) {
	return errorResponse(repoErr), repoErr
}

type walletBody struct {
	WalletAddress string `json:"wallet_address"`
}

func (sr *ServiceRegistry) ClockInHandler(req *Request) (*Response, error) {
	var body walletBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	session, repoErr := sr.timesheet.ClockIn(req.Context(), body.WalletAddress, req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusCreated, map[string]any{
		"message": "Clocked in",
		"session": sessionView(session),
	})
}

func (sr *ServiceRegistry) ClockOutHandler(req *Request) (*Response, error) {
	var body walletBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	result, repoErr := sr.timesheet.ClockOut(req.Context(), body.WalletAddress, req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"message":               "Clocked out",
		"session":               sessionView(result.Session),
		"accumulated_balance":   result.AccumulatedBalance,
		"hours_accumulated":     result.HoursAccumulated,
		"capped_by_escrow":      result.CappedByEscrow,
		"capped_by_daily_limit": result.CappedByDailyLimit,
	})
}

func (sr *ServiceRegistry) ActiveSessionHandler(req *Request) (*Response, error) {
	session, repoErr := sr.timesheet.ActiveSession(req.Context(), req.Query["wallet_address"], req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	if session == nil {
		return jsonResponse(http.StatusOK, map[string]any{"session": nil})
	}
	return jsonResponse(http.StatusOK, map[string]any{"session": sessionView(session)})
}

type prepareCreateBody struct {
	OrganizationWallet string          `json:"organization_wallet"`
	WorkerWallet       string          `json:"worker_wallet"`
	Amount             decimal.Decimal `json:"amount"`
	SettleDelay        int64           `json:"settle_delay"`
	PublicKey          string          `json:"public_key"`
	CancelAfter        *time.Time      `json:"cancel_after"`
}

func (sr *ServiceRegistry) PrepareCreateHandler(req *Request) (*Response, error) {
	var body prepareCreateBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	template, repoErr := sr.closure.PrepareCreate(req.Context(), closure.CreateInput{
		OrganizationWallet: body.OrganizationWallet,
		WorkerWallet:       body.WorkerWallet,
		Amount:             body.Amount,
		SettleDelaySeconds: body.SettleDelay,
		PublicKey:          body.PublicKey,
		CancelAfter:        body.CancelAfter,
	})
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{"template": template})
}

type recordCreationBody struct {
	OrganizationWallet string          `json:"organization_wallet"`
	WorkerWallet       string          `json:"worker_wallet"`
	JobName            string          `json:"job_name"`
	HourlyRate         decimal.Decimal `json:"hourly_rate"`
	MaxDailyHours      decimal.Decimal `json:"max_daily_hours"`
	TxHash             string          `json:"tx_hash"`
}

func (sr *ServiceRegistry) RecordCreationHandler(req *Request) (*Response, error) {
	var body recordCreationBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	channel, repoErr := sr.closure.RecordCreation(req.Context(), closure.RecordCreationInput{
		OrganizationWallet: body.OrganizationWallet,
		WorkerWallet:       body.WorkerWallet,
		JobName:            body.JobName,
		HourlyRate:         body.HourlyRate,
		MaxDailyHours:      body.MaxDailyHours,
		TxHash:             body.TxHash,
	})
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusCreated, map[string]any{
		"message": "Channel recorded",
		"channel": channelView(channel),
	})
}

type proposeBody struct {
	WalletAddress string `json:"wallet_address"`
	ForceClose    bool   `json:"force_close"`
}

func (sr *ServiceRegistry) ProposeHandler(req *Request) (*Response, error) {
	var body proposeBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	result, repoErr := sr.closure.Propose(req.Context(), closure.ProposeInput{
		ChannelID:    req.Params["id"],
		CallerWallet: body.WalletAddress,
		ForceClose:   body.ForceClose,
	})
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"role":                 result.Role,
		"channel_id":           result.ChannelID,
		"accumulated_balance":  result.AccumulatedBalance,
		"escrow_funded_amount": result.EscrowFundedAmount,
		"escrow_return":        result.EscrowReturn,
		"validation_attempts":  result.ValidationAttempts,
		"template":             result.Template,
	})
}

type confirmBody struct {
	WalletAddress string `json:"wallet_address"`
	TxHash        string `json:"tx_hash"`
}

func (sr *ServiceRegistry) ConfirmHandler(req *Request) (*Response, error) {
	var body confirmBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	result, repoErr := sr.closure.Confirm(req.Context(), closure.ConfirmInput{
		ChannelID:    req.Params["id"],
		CallerWallet: body.WalletAddress,
		TxHash:       body.TxHash,
	})
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"role":    result.Role,
		"outcome": result.Outcome,
		"channel": channelView(result.Channel),
	})
}

type requestClosureBody struct {
	OrganizationWallet string `json:"organization_wallet"`
	Message            string `json:"message"`
}

func (sr *ServiceRegistry) RequestClosureHandler(req *Request) (*Response, error) {
	var body requestClosureBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	request, repoErr := sr.handshake.RequestWorkerClosure(req.Context(), body.OrganizationWallet, req.Params["id"], body.Message)
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusCreated, map[string]any{
		"message": "Closure request sent",
		"request": notificationView(request),
	})
}

func (sr *ServiceRegistry) PendingRequestsHandler(req *Request) (*Response, error) {
	requests, repoErr := sr.handshake.PendingRequests(req.Context(), req.Query["wallet_address"])
	if repoErr != nil {
		return fail(repoErr)
	}
	views := make([]map[string]any, 0, len(requests))
	for i := range requests {
		views = append(views, notificationView(&requests[i]))
	}
	return jsonResponse(http.StatusOK, map[string]any{"requests": views})
}

func (sr *ServiceRegistry) ApproveClosureHandler(req *Request) (*Response, error) {
	var body walletBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	payoff, repoErr := sr.handshake.ApproveClosure(req.Context(), body.WalletAddress, req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, payoff)
}

func (sr *ServiceRegistry) CancelClosureHandler(req *Request) (*Response, error) {
	var body requestClosureBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	if repoErr := sr.handshake.CancelClosureRequest(req.Context(), body.OrganizationWallet, req.Params["id"]); repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{"message": "Closure request cancelled"})
}

func (sr *ServiceRegistry) SyncAllHandler(req *Request) (*Response, error) {
	report, repoErr := sr.reconciler.SyncAll(req.Context(), req.Params["wallet"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, report)
}

func (sr *ServiceRegistry) SyncChannelHandler(req *Request) (*Response, error) {
	channel, repoErr := sr.reconciler.SyncChannel(req.Context(), req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{"channel": channelView(channel)})
}

type correctBody struct {
	AcceptAbsence bool   `json:"accept_absence"`
	Operator      string `json:"operator"`
}

func (sr *ServiceRegistry) CorrectStaleBalanceHandler(req *Request) (*Response, error) {
	var body correctBody
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	result, repoErr := sr.reconciler.CorrectStaleBalance(req.Context(), reconciler.CorrectInput{
		ChannelID:     req.Params["id"],
		AcceptAbsence: body.AcceptAbsence,
		Operator:      body.Operator,
	})
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, result)
}

func (sr *ServiceRegistry) ResolveStuckHandler(req *Request) (*Response, error) {
	result, repoErr := sr.reconciler.ResolveStuckClosure(req.Context(), req.Params["id"])
	if repoErr != nil {
		return fail(repoErr)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"channel_id": result.ChannelID,
		"action":     result.Action,
		"channel":    channelView(result.Channel),
	})
}

func (sr *ServiceRegistry) StartReconcileHandler(req *Request) (*Response, error) {
	if sr.starter == nil {
		return &Response{
			StatusCode: http.StatusServiceUnavailable,
			Headers:    defaultHeaders,
			Body:       `{"error":{"code":"WORKFLOWS_DISABLED","category":"infrastructure","message":"Scheduled reconciliation is not enabled"}}`,
		}, nil
	}
	var body workflows.ReconcileInput
	if repoErr := decodeBody(req, &body); repoErr != nil {
		return fail(repoErr)
	}
	if len(body.OrganizationWallets) == 0 && !body.CorrectStale && !body.ResolveStuck {
		return fail(repository.ValidationError("MISSING_FIELDS", "Nothing to reconcile"))
	}
	workflowID, runID, err := sr.starter.Start(req.Context(), body)
	if err != nil {
		sr.logger.Error("Failed to start reconciliation", "err", err)
		return fail(&repository.RepositoryError{
			Code:     "WORKFLOW_START_FAILED",
			Message:  "Failed to start reconciliation",
			Detail:   err.Error(),
			Category: repository.CategoryInfrastructure,
		})
	}
	return jsonResponse(http.StatusAccepted, map[string]any{
		"workflow_id": workflowID,
		"run_id":      runID,
	})
}

func (sr *ServiceRegistry) VerificationsHandler(req *Request) (*Response, error) {
	if sr.journal == nil {
		return jsonResponse(http.StatusOK, map[string]any{"verifications": []any{}})
	}
	verifications, err := sr.journal.Verifications(req.Params["hash"], queryLimit(req))
	if err != nil {
		return fail(journalError(err))
	}
	return jsonResponse(http.StatusOK, map[string]any{"verifications": verifications})
}

func (sr *ServiceRegistry) SyncReportsHandler(req *Request) (*Response, error) {
	if sr.journal == nil {
		return jsonResponse(http.StatusOK, map[string]any{"reports": []any{}})
	}
	entries, err := sr.journal.SyncReports(req.Params["wallet"], queryLimit(req))
	if err != nil {
		return fail(journalError(err))
	}
	reports := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		reports = append(reports, e.Payload)
	}
	return jsonResponse(http.StatusOK, map[string]any{"reports": reports})
}

// LatestSyncReportHandler returns the most recent sync report of an organization
func (sr *ServiceRegistry) LatestSyncReportHandler(req *Request) (*Response, error) {
	if sr.journal == nil {
		return fail(repository.NotFoundError("SYNC_REPORT_NOT_FOUND", "No sync report recorded", "journal disabled"))
	}
	entry, err := sr.journal.Latest(journal.KindSync, req.Params["wallet"])
	if errors.Is(err, journal.ErrNotFound) {
		return fail(repository.NotFoundError("SYNC_REPORT_NOT_FOUND", "No sync report recorded",
			"No sync report for "+req.Params["wallet"]))
	}
	if err != nil {
		return fail(journalError(err))
	}
	return jsonResponse(http.StatusOK, map[string]any{"report": entry.Payload, "at": entry.At})
}

func queryLimit(req *Request) int {
	limit, err := strconv.Atoi(req.Query["limit"])
	if err != nil || limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

func journalError(err error) *repository.RepositoryError {
	return &repository.RepositoryError{
		Code:     "JOURNAL_ERROR",
		Message:  "Failed to read journal",
		Detail:   err.Error(),
		Category: repository.CategoryInfrastructure,
	}
}

func channelView(ch *models.Channel) map[string]any {
	if ch == nil {
		return nil
	}
	view := map[string]any{
		"id":                   ch.ID,
		"channel_id":           ch.ChannelID,
		"organization_id":      ch.OrganizationID,
		"employee_id":          ch.EmployeeID,
		"job_name":             ch.JobName,
		"hourly_rate":          ch.HourlyRate,
		"max_daily_hours":      ch.MaxDailyHours,
		"escrow_funded_amount": ch.EscrowFundedAmount,
		"accumulated_balance":  ch.AccumulatedBalance,
		"on_chain_balance":     ch.OnChainBalance,
		"hours_accumulated":    ch.HoursAccumulated,
		"status":               ch.Status,
		"settle_delay_seconds": ch.SettleDelaySeconds,
		"expiration_time":      ch.ExpirationTime,
		"closure_tx_hash":      ch.ClosureTxHash,
		"closed_at":            ch.ClosedAt,
		"last_ledger_sync":     ch.LastLedgerSync,
		"validation_attempts":  ch.ValidationAttempts,
		"last_validation_at":   ch.LastValidationAt,
	}
	return view
}

func sessionView(s *models.WorkSession) map[string]any {
	return map[string]any{
		"id":             s.ID,
		"employee_id":    s.EmployeeID,
		"channel_id":     s.ChannelID,
		"clock_in":       s.ClockIn,
		"clock_out":      s.ClockOut,
		"hourly_rate":    s.HourlyRate,
		"hours_worked":   s.HoursWorked,
		"total_amount":   s.TotalAmount,
		"session_status": s.SessionStatus,
	}
}

func notificationView(n *models.Notification) map[string]any {
	return map[string]any{
		"id":                  n.ID,
		"type":                n.Type,
		"channel_id":          n.ChannelID,
		"sender_wallet":       n.SenderWallet,
		"recipient_wallet":    n.RecipientWallet,
		"message":             n.Message,
		"is_read":             n.IsRead,
		"closure_approved":    n.ClosureApproved,
		"closure_approved_at": n.ClosureApprovedAt,
		"closure_tx_hash":     n.ClosureTxHash,
		"created_at":          n.CreatedAt,
	}
}
