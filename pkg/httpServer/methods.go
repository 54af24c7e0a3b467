package httpServer

import (
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/services/offers"
	"mytonstorage-dashboard/pkg/services/selection"
	"mytonstorage-dashboard/pkg/store"
	"mytonstorage-dashboard/pkg/utils"
)

type pageRequest struct {
	Page models.Page `json:"page"`
}

type filesRequest struct {
	Paths []string `json:"paths"`
}

type uploadRequest struct {
	Description string `json:"description"`
}

type chooseProvidersRequest struct {
	Providers   []string `json:"providers"`
	ProofPeriod uint32   `json:"proof_period"`
}

type periodRequest struct {
	Days        uint32 `json:"days"`
	ProofPeriod uint32 `json:"proof_period"`
}

type contractsResponse struct {
	Contracts []models.UploadFile `json:"contracts"`
	Cursor    models.Cursor       `json:"cursor"`
	Found     int                 `json:"found,omitempty"`
}

func (h *handler) requestLogger(c *fiber.Ctx) *slog.Logger {
	return h.logger.With(
		slog.String("method", c.Method()),
		slog.String("url", c.OriginalURL()),
		slog.Any("request_id", c.Locals("request_id")),
	)
}

func (h *handler) getState(c *fiber.Ctx) error {
	return c.JSON(h.state.State())
}

func (h *handler) setPage(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req pageRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	switch req.Page {
	case models.PageUpload, models.PageContracts, models.PageUnpaid:
	default:
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "unknown page"))
	}

	st, err := h.state.Dispatch(c.Context(), store.SetPage{Page: req.Page})
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(st)
}

func (h *handler) sessionStatus(c *fiber.Ctx) error {
	return c.JSON(h.session.Status())
}

func (h *handler) connect(c *fiber.Ctx) error {
	status, err := h.session.Connect(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(status)
}

func (h *handler) disconnect(c *fiber.Ctx) error {
	if err := h.session.Disconnect(c.Context()); err != nil {
		return errorHandler(c, err)
	}

	return okHandler(c)
}

func (h *handler) selectProviders(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req selection.Request
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	providers, err := h.providers.Recommend(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"providers": providers,
	})
}

func (h *handler) fetchProvidersOffers(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req offers.Request
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	resp, err := h.offers.Negotiate(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) wizardView(c *fiber.Ctx) error {
	return c.JSON(h.wizard.View())
}

func (h *handler) uploadProgress(c *fiber.Ctx) error {
	return c.JSON(h.wizard.Progress())
}

func (h *handler) selectFiles(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req filesRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	v, err := h.wizard.SelectFiles(c.Context(), req.Paths)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) uploadFiles(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req uploadRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	v, err := h.wizard.Upload(c.Context(), req.Description)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) resumeBag(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req v1.UserBagInfo
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	v, err := h.wizard.ResumeBag(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) chooseProviders(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req chooseProvidersRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	v, err := h.wizard.SelectProviders(c.Context(), req.Providers, req.ProofPeriod)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) choosePeriod(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req periodRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	v, err := h.wizard.ChoosePeriod(c.Context(), req.Days, req.ProofPeriod)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) pay(c *fiber.Ctx) error {
	v, err := h.wizard.Pay(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) clearProviders(c *fiber.Ctx) error {
	v, err := h.wizard.ClearProviders(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) resetWizard(c *fiber.Ctx) error {
	v, err := h.wizard.Reset(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(v)
}

func (h *handler) listContracts(c *fiber.Ctx) error {
	st := h.state.State()

	return c.JSON(contractsResponse{
		Contracts: st.Contracts,
		Cursor:    st.Cursor,
	})
}

func (h *handler) loadOlderContracts(c *fiber.Ctx) error {
	st, err := h.feed.Older(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(contractsResponse{
		Contracts: st.Contracts,
		Cursor:    st.Cursor,
	})
}

func (h *handler) loadNewerContracts(c *fiber.Ctx) error {
	st, found, err := h.feed.Newer(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(contractsResponse{
		Contracts: st.Contracts,
		Cursor:    st.Cursor,
		Found:     found,
	})
}

func (h *handler) contractInfo(c *fiber.Ctx) error {
	info, err := h.contracts.ContractInfo(c.Context(), c.Params("address"))
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(info)
}

func (h *handler) topupBalance(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req v1.TopupRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	resp, err := h.contracts.TopupBalance(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) withdrawBalance(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req v1.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	resp, err := h.contracts.WithdrawBalance(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) updateProviders(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	var req v1.UpdateProvidersRequest
	if err := c.BodyParser(&req); err != nil {
		log.Error("failed to parse request", slog.String("error", err.Error()))
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	resp, err := h.contracts.UpdateProviders(c.Context(), req)
	if err != nil {
		return errorHandler(c, err)
	}

	return c.JSON(resp)
}

func (h *handler) getUnpaid(c *fiber.Ctx) error {
	bags, err := h.contracts.UnpaidBags(c.Context())
	if err != nil {
		return errorHandler(c, err)
	}

	if _, err = h.state.Dispatch(c.Context(), store.SetUnpaidBags{Bags: bags}); err != nil {
		h.requestLogger(c).Error("failed to store unpaid bags", slog.String("error", err.Error()))
	}

	return c.JSON(bags)
}

func (h *handler) deleteBag(c *fiber.Ctx) error {
	log := h.requestLogger(c)

	bagID := utils.NormalizeBagID(c.Params("bag_id"))
	if !utils.ValidateBagID(bagID) {
		log.Error("invalid bag_id")
		return errorHandler(c, fiber.NewError(fiber.StatusBadRequest, "invalid request"))
	}

	if err := h.contracts.RemoveBag(c.Context(), bagID); err != nil {
		return errorHandler(c, err)
	}

	return okHandler(c)
}

func (h *handler) health(c *fiber.Ctx) error {
	return okHandler(c)
}

func (h *handler) metrics(c *fiber.Ctx) error {
	m := promhttp.Handler()

	return adaptor.HTTPHandler(m)(c)
}
