package api

import (
	"net/http"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createExperience(c *gin.Context) {
	var req service.ExperienceRequest
	if !h.bind(c, &req) {
		return
	}
	e, err := h.Experiences.CreateExperience(c.Request.Context(), viewerID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) updateExperience(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.ExperienceRequest
	if !h.bind(c, &req) {
		return
	}
	e, err := h.Experiences.UpdateExperience(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) getExperience(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	e, err := h.Experiences.GetExperience(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) publishExperience(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	e, err := h.Experiences.Publish(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) unpublishExperience(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	e, err := h.Experiences.Unpublish(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) addTicket(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.TicketRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Experiences.AddTicket(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) addSession(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.SessionRequest
	if !h.bind(c, &req) {
		return
	}
	session, err := h.Experiences.AddSession(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) reserveTickets(c *gin.Context) {
	sessionID, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.ReserveTicketsRequest
	if !h.bind(c, &req) {
		return
	}
	reservation, err := h.Bookings.ReserveTickets(c.Request.Context(), viewerID(c), sessionID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *Handler) releaseReservations(c *gin.Context) {
	sessionID, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Bookings.ReleaseReservations(c.Request.Context(), viewerID(c), sessionID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createExperienceOrder(c *gin.Context) {
	var req service.CreateExperienceOrderRequest
	if !h.bind(c, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if len(req.IdempotencyKey) > service.MaxIdempotencyKeyLength {
		h.respondError(c, apierror.BadRequest(service.MsgIdempotencyKeyTooLong))
		return
	}

	user := currentUser(c)
	order, err := h.Bookings.CreateOrder(c.Request.Context(), user.ID, user.Email, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getExperienceOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Bookings.GetOrder(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listMyTickets(c *gin.Context) {
	tickets, err := h.Bookings.ListMyTickets(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *Handler) transferTicket(c *gin.Context) {
	var req service.TransferTicketRequest
	if !h.bind(c, &req) {
		return
	}
	t, err := h.Bookings.TransferTicket(c.Request.Context(), viewerID(c), c.Param("code"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) checkInTicket(c *gin.Context) {
	t, err := h.Bookings.CheckInTicket(c.Request.Context(), viewerID(c), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
