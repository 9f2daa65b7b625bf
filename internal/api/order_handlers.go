package api

import (
	"net/http"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) validateCart(c *gin.Context) {
	var req service.CartRequest
	if !h.bind(c, &req) {
		return
	}
	quote, err := h.Checkout.ValidateCart(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) lockCart(c *gin.Context) {
	var req service.CartRequest
	if !h.bind(c, &req) {
		return
	}
	quote, err := h.Checkout.LockCart(c.Request.Context(), viewerID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) releaseCart(c *gin.Context) {
	if err := h.Checkout.ReleaseCart(c.Request.Context(), viewerID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if !h.bind(c, &req) {
		return
	}
	user := currentUser(c)
	order, err := h.Checkout.Checkout(c.Request.Context(), user.ID, user.Email, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Checkout.GetOrder(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Checkout.CancelOrder(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) createInstoreOrder(c *gin.Context) {
	shopID, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.CreateInstoreOrderRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	order, err := h.Instore.CreateOrder(c.Request.Context(), viewerID(c), shopID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getInstoreOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Instore.GetOrder(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) addInstoreItem(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.InstoreItemRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.Instore.AddItem(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateInstoreItem(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	detailID, ok := h.paramID(c, "detailId")
	if !ok {
		return
	}
	var req service.UpdateInstoreItemRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.Instore.UpdateItem(c.Request.Context(), viewerID(c), id, detailID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) removeInstoreItem(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	detailID, ok := h.paramID(c, "detailId")
	if !ok {
		return
	}
	order, err := h.Instore.RemoveItem(c.Request.Context(), viewerID(c), id, detailID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) checkoutInstoreOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Instore.Checkout(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) completeInstoreOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.CompleteInstoreOrderRequest
	if !h.bind(c, &req) {
		return
	}
	order, err := h.Instore.Complete(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelInstoreOrder(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	order, err := h.Instore.Cancel(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	payment, err := h.Payments.GetPayment(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
