package httpServer

func (h *handler) registerAPI() {
	h.server.Get("/health", h.health)
	h.server.Get("/metrics", h.adminAuthMiddleware, h.metrics)

	apiv1 := h.server.Group("/api/v1", h.requestIDMiddleware, h.loggerMiddleware)
	{
		apiv1.Get("/state", h.getState)
		apiv1.Post("/page", h.setPage)

		{
			session := apiv1.Group("/session")
			session.Get("/", h.sessionStatus)
			session.Post("/connect", h.connect)
			session.Post("/disconnect", h.disconnect)
		}

		{
			providers := apiv1.Group("/providers")
			providers.Post("/select", h.selectProviders)
			providers.Post("/offers", h.sessionMiddleware, h.fetchProvidersOffers)
		}

		{
			w := apiv1.Group("/wizard")
			w.Get("/", h.wizardView)
			w.Get("/progress", h.uploadProgress)
			w.Post("/files", h.selectFiles)
			w.Post("/reset", h.resetWizard)
			w.Post("/providers/clear", h.clearProviders)
			w.Post("/upload", h.sessionMiddleware, h.uploadFiles)
			w.Post("/resume", h.sessionMiddleware, h.resumeBag)
			w.Post("/providers", h.sessionMiddleware, h.chooseProviders)
			w.Post("/period", h.sessionMiddleware, h.choosePeriod)
			w.Post("/pay", h.sessionMiddleware, h.pay)
		}

		{
			contracts := apiv1.Group("/contracts")
			contracts.Get("/", h.listContracts)
			contracts.Post("/older", h.loadOlderContracts)
			contracts.Post("/newer", h.loadNewerContracts)
			contracts.Post("/topup", h.sessionMiddleware, h.topupBalance)
			contracts.Post("/withdraw", h.sessionMiddleware, h.withdrawBalance)
			contracts.Post("/update", h.sessionMiddleware, h.updateProviders)
			contracts.Get("/:address", h.contractInfo)
		}

		{
			bags := apiv1.Group("/bags", h.sessionMiddleware)
			bags.Get("/unpaid", h.getUnpaid)
			bags.Delete("/:bag_id", h.deleteBag)
		}
	}
}
