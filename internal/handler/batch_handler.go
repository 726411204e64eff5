package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/provider"
	"github.com/kursadbilgin/placement-engine/internal/service"
)

type BatchService interface {
	Create(ctx context.Context, customer, name string, roster []domain.Account) (*domain.Batch, error)
	Get(ctx context.Context, customer, name string) (*service.BatchStatus, error)
	List(ctx context.Context, customer string) ([]domain.Batch, error)
	Delete(ctx context.Context, customer, name string) error
}

type SubmitService interface {
	Submit(ctx context.Context, customer, name string, maxCount int) (*service.SubmitReport, error)
}

type PollService interface {
	Poll(ctx context.Context, customer, name string) (int, error)
}

type ReportService interface {
	Summarize(ctx context.Context, customer, name string) (*domain.Summary, error)
	SummarizeCustomer(ctx context.Context, customer string) (*service.CustomerSummary, error)
}

type BatchHandler struct {
	batches   BatchService
	submitter SubmitService
	poller    PollService
	reporter  ReportService
}

func NewBatchHandler(batches BatchService, submitter SubmitService, poller PollService, reporter ReportService) (*BatchHandler, error) {
	switch {
	case batches == nil:
		return nil, fmt.Errorf("batch service is required")
	case submitter == nil:
		return nil, fmt.Errorf("submitter is required")
	case poller == nil:
		return nil, fmt.Errorf("poller is required")
	case reporter == nil:
		return nil, fmt.Errorf("reporter is required")
	}
	return &BatchHandler{batches: batches, submitter: submitter, poller: poller, reporter: reporter}, nil
}

func RegisterBatchRoutes(router fiber.Router, h *BatchHandler) {
	v1 := router.Group("/v1/customers/:customer")
	v1.Get("/summary", h.GetCustomerSummary)
	v1.Get("/batches", h.ListBatches)
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:batch", h.GetBatch)
	v1.Delete("/batches/:batch", h.DeleteBatch)
	v1.Get("/batches/:batch/summary", h.GetBatchSummary)
	v1.Post("/batches/:batch/submit", h.SubmitBatch)
	v1.Post("/batches/:batch/poll", h.PollBatch)
}

type accountRequest struct {
	FromName  string `json:"fromName"`
	FromEmail string `json:"fromEmail"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SMTPHost  string `json:"smtpHost"`
}

type createBatchRequest struct {
	Name     string           `json:"name"`
	Accounts []accountRequest `json:"accounts"`
}

type batchResponse struct {
	ID               string    `json:"id"`
	Customer         string    `json:"customer"`
	Name             string    `json:"name"`
	Accounts         int       `json:"accounts"`
	DomainsProcessed int       `json:"domainsProcessed"`
	RunCount         int       `json:"runCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type recordResponse struct {
	FromEmail     string     `json:"fromEmail"`
	Status        string     `json:"status"`
	TestID        string     `json:"testId,omitempty"`
	TestURL       string     `json:"testUrl,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
}

type providerStatsResponse struct {
	InboxRate   float64 `json:"inboxRate"`
	SpamRate    float64 `json:"spamRate"`
	SampleCount int     `json:"sampleCount"`
}

type summaryResponse struct {
	Total       int                              `json:"total"`
	Completed   int                              `json:"completed"`
	Pending     int                              `json:"pending"`
	Submitted   int                              `json:"submitted"`
	Failed      int                              `json:"failed"`
	InboxRate   float64                          `json:"inboxRate"`
	SpamRate    float64                          `json:"spamRate"`
	InboxBand   string                           `json:"inboxBand"`
	SpamBand    string                           `json:"spamBand"`
	PerProvider map[string]providerStatsResponse `json:"perProvider"`
}

type batchStatusResponse struct {
	Batch   batchResponse    `json:"batch"`
	Summary summaryResponse  `json:"summary"`
	Records []recordResponse `json:"records"`
}

type namedSummaryResponse struct {
	Batch   string          `json:"batch"`
	Summary summaryResponse `json:"summary"`
}

type customerSummaryResponse struct {
	Customer  string                 `json:"customer"`
	Batches   []namedSummaryResponse `json:"batches"`
	Aggregate summaryResponse        `json:"aggregate"`
}

type accountErrorResponse struct {
	FromEmail string `json:"fromEmail"`
	Terminal  bool   `json:"terminal"`
	Error     string `json:"error"`
}

type submitResponse struct {
	BatchID   string                 `json:"batchId"`
	RunNumber int                    `json:"runNumber"`
	Attempted int                    `json:"attempted"`
	Submitted []string               `json:"submitted"`
	Failed    []accountErrorResponse `json:"failed"`
	Skipped   int                    `json:"skipped"`
	Remaining int                    `json:"remaining"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	roster := make([]domain.Account, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		roster = append(roster, domain.Account{
			FromName:  strings.TrimSpace(a.FromName),
			FromEmail: strings.TrimSpace(a.FromEmail),
			Username:  strings.TrimSpace(a.Username),
			Password:  a.Password,
			SMTPHost:  strings.TrimSpace(a.SMTPHost),
		})
	}

	batch, err := h.batches.Create(c.Context(), c.Params("customer"), strings.TrimSpace(req.Name), roster)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	batches, err := h.batches.List(c.Context(), c.Params("customer"))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(batches))
	for i := range batches {
		data = append(data, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	status, err := h.batches.Get(c.Context(), c.Params("customer"), c.Params("batch"))
	if err != nil {
		return toHTTPError(err)
	}

	records := make([]recordResponse, 0, len(status.Records))
	for i := range status.Records {
		records = append(records, toRecordResponse(&status.Records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(batchStatusResponse{
		Batch:   toBatchResponse(status.Batch),
		Summary: toSummaryResponse(status.Summary),
		Records: records,
	})
}

func (h *BatchHandler) DeleteBatch(c *fiber.Ctx) error {
	if err := h.batches.Delete(c.Context(), c.Params("customer"), c.Params("batch")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) GetBatchSummary(c *fiber.Ctx) error {
	summary, err := h.reporter.Summarize(c.Context(), c.Params("customer"), c.Params("batch"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSummaryResponse(*summary))
}

func (h *BatchHandler) GetCustomerSummary(c *fiber.Ctx) error {
	summary, err := h.reporter.SummarizeCustomer(c.Context(), c.Params("customer"))
	if err != nil {
		return toHTTPError(err)
	}

	batches := make([]namedSummaryResponse, 0, len(summary.Batches))
	for _, b := range summary.Batches {
		batches = append(batches, namedSummaryResponse{Batch: b.Batch, Summary: toSummaryResponse(b.Summary)})
	}
	return c.Status(fiber.StatusOK).JSON(customerSummaryResponse{
		Customer:  summary.Customer,
		Batches:   batches,
		Aggregate: toSummaryResponse(summary.Aggregate),
	})
}

func (h *BatchHandler) SubmitBatch(c *fiber.Ctx) error {
	maxCount := c.QueryInt("max", 0)
	if maxCount < 0 {
		return toHTTPError(fmt.Errorf("%w: max must be >= 0", domain.ErrValidation))
	}

	report, err := h.submitter.Submit(c.Context(), c.Params("customer"), c.Params("batch"), maxCount)
	if err != nil {
		return toHTTPError(err)
	}

	resp := submitResponse{
		BatchID:   report.BatchID,
		RunNumber: report.RunNumber,
		Attempted: report.Attempted,
		Submitted: report.Submitted,
		Failed:    make([]accountErrorResponse, 0, len(report.Failed)),
		Skipped:   report.Skipped,
		Remaining: report.Remaining,
	}
	if resp.Submitted == nil {
		resp.Submitted = []string{}
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, accountErrorResponse{
			FromEmail: f.AccountID,
			Terminal:  f.Terminal,
			Error:     f.Err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *BatchHandler) PollBatch(c *fiber.Ctx) error {
	unresolved, err := h.poller.Poll(c.Context(), c.Params("customer"), c.Params("batch"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"unresolved": unresolved})
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}
	return batchResponse{
		ID:               b.ID,
		Customer:         b.Customer,
		Name:             b.Name,
		Accounts:         len(b.Roster),
		DomainsProcessed: b.DomainsProcessed,
		RunCount:         b.RunCount,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func toRecordResponse(r *domain.TestRecord) recordResponse {
	resp := recordResponse{
		FromEmail: r.Account.FromEmail,
		Status:    r.Status.String(),
		TestID:    r.TestID(),
	}
	if r.Submission != nil {
		resp.TestURL = r.Submission.TestURL
		if !r.Submission.SubmittedAt.IsZero() {
			at := r.Submission.SubmittedAt
			resp.SubmittedAt = &at
		}
	}
	if r.Result != nil {
		resp.Provider = r.Result.Provider.String()
		resp.Outcome = r.Result.Outcome.String()
	}
	if r.Failure != nil {
		resp.FailureReason = r.Failure.Reason
	}
	return resp
}

func toSummaryResponse(s domain.Summary) summaryResponse {
	perProvider := make(map[string]providerStatsResponse, len(s.PerProvider))
	for p, stats := range s.PerProvider {
		perProvider[p.String()] = providerStatsResponse{
			InboxRate:   stats.InboxRate,
			SpamRate:    stats.SpamRate,
			SampleCount: stats.SampleCount,
		}
	}
	return summaryResponse{
		Total:       s.Total,
		Completed:   s.Completed,
		Pending:     s.Pending,
		Submitted:   s.Submitted,
		Failed:      s.Failed,
		InboxRate:   s.InboxRate,
		SpamRate:    s.SpamRate,
		InboxBand:   s.InboxBand().String(),
		SpamBand:    s.SpamBand().String(),
		PerProvider: perProvider,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMalformedInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	var serviceErr *provider.ServiceError
	if errors.As(err, &serviceErr) {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return err
}
