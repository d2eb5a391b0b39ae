package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/web-chatbot/backend/internal/report"
	"github.com/web-chatbot/backend/internal/storage/models"
)

type LedgerReader interface {
	Read(ctx context.Context) ([]models.LedgerRow, error)
}

type ModelLister interface {
	List() []string
}

// ExperimentHandler serves stored experiments and their projections.
type ExperimentHandler struct {
	store    ExperimentStore
	ledger   LedgerReader
	models   ModelLister
	pageSize int
}

func NewExperimentHandler(store ExperimentStore, ledger LedgerReader, models ModelLister, pageSize int) *ExperimentHandler {
	if pageSize <= 0 {
		pageSize = report.DefaultPageSize
	}
	return &ExperimentHandler{
		store:    store,
		ledger:   ledger,
		models:   models,
		pageSize: pageSize,
	}
}

func (h *ExperimentHandler) ListModels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"models": h.models.List(),
	})
}

func (h *ExperimentHandler) ListExperiments(c *fiber.Ctx) error {
	all, err := h.store.ReadAll(c.UserContext())
	if err != nil {
		return respondError(c, "Failed to read experiments", err)
	}
	return c.JSON(fiber.Map{
		"experiments": report.Reports(all),
	})
}

func (h *ExperimentHandler) Latest(c *fiber.Ctx) error {
	entry, err := h.store.ReadMostRecent(c.UserContext())
	if err != nil {
		return respondError(c, "Failed to read experiments", err)
	}
	if entry == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No experiments recorded",
		})
	}
	return c.JSON(report.Report{
		Key:      entry.Key,
		URL:      entry.Experiment.URL,
		Question: entry.Experiment.Question,
		Date:     entry.Experiment.Date,
		Rows:     report.Rows(entry.Experiment),
	})
}

func (h *ExperimentHandler) Rows(c *fiber.Ctx) error {
	exp, err := h.store.Get(c.UserContext(), c.Params("key"))
	if err != nil {
		return respondError(c, "Experiment not found", err)
	}

	page := c.QueryInt("page", 1)
	size := c.QueryInt("page_size", h.pageSize)
	return c.JSON(report.Paginate(report.Rows(*exp), size, page))
}

func (h *ExperimentHandler) RowDetail(c *fiber.Ctx) error {
	exp, err := h.store.Get(c.UserContext(), c.Params("key"))
	if err != nil {
		return respondError(c, "Experiment not found", err)
	}

	idx, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return badRequest(c, "Row index must be an integer")
	}

	detail, err := report.Detail(*exp, idx)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Row not found",
			"details": err.Error(),
		})
	}
	return c.JSON(detail)
}

func (h *ExperimentHandler) Benchmarks(c *fiber.Ctx) error {
	all, err := h.store.ReadAll(c.UserContext())
	if err != nil {
		return respondError(c, "Failed to read experiments", err)
	}
	return c.JSON(report.BuildBenchmark(all))
}

func (h *ExperimentHandler) Ledger(c *fiber.Ctx) error {
	rows, err := h.ledger.Read(c.UserContext())
	if err != nil {
		return respondError(c, "Failed to read ledger", err)
	}
	return c.JSON(fiber.Map{
		"rows": rows,
	})
}
