package api

import (
	"net/http"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

type AvailabilityNotificationRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
}

func (h *Handler) createShop(c *gin.Context) {
	var req service.ShopRequest
	if !h.bind(c, &req) {
		return
	}
	shop, err := h.Shops.CreateShop(c.Request.Context(), viewerID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shop)
}

func (h *Handler) updateShop(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.ShopRequest
	if !h.bind(c, &req) {
		return
	}
	shop, err := h.Shops.UpdateShop(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shop)
}

func (h *Handler) getShop(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	shop, err := h.Shops.GetShop(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shop)
}

func (h *Handler) listShopProducts(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	products, err := h.Shops.ListProducts(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) listShopExperiences(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	experiences, err := h.Shops.ListExperiences(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, experiences)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !h.bind(c, &req) {
		return
	}
	product, err := h.Products.CreateProduct(c.Request.Context(), viewerID(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateProductRequest
	if !h.bind(c, &req) {
		return
	}
	product, err := h.Products.UpdateProduct(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.Products.GetProduct(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Products.DeleteProduct(c.Request.Context(), viewerID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) publishProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.Products.Publish(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) unpublishProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.Products.Unpublish(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) cloneProduct(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.Products.CloneInstoreProduct(c.Request.Context(), viewerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) replaceVariants(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.VariantsRequest
	if !h.bind(c, &req) {
		return
	}
	product, err := h.Products.ReplaceVariants(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) updateStock(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req service.StockRequest
	if !h.bind(c, &req) {
		return
	}
	product, err := h.Products.UpdateStock(c.Request.Context(), viewerID(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// registerAvailabilityNotification uses the token's email unless the body names one
func (h *Handler) registerAvailabilityNotification(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	var req AvailabilityNotificationRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	user := currentUser(c)
	email := req.Email
	if email == "" {
		email = user.Email
	}
	if email == "" {
		h.respondError(c, apierror.BadRequest("An email address is required"))
		return
	}

	n, err := h.Products.RegisterAvailabilityNotification(c.Request.Context(), user.ID, email, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}
