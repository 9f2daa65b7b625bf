package api

import (
	"net/http"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type OptOutRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Category string `json:"category" binding:"required"`
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.Catalog.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := h.paramID(c, "id")
	if !ok {
		return
	}
	category, err := h.Catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req service.CategoryRequest
	if !h.bind(c, &req) {
		return
	}
	category, err := h.Catalog.CreateCategory(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *Handler) subscribe(c *gin.Context) {
	var req EmailRequest
	if !h.bind(c, &req) {
		return
	}
	sub, err := h.Catalog.Subscribe(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) unsubscribe(c *gin.Context) {
	var req EmailRequest
	if !h.bind(c, &req) {
		return
	}
	sub, err := h.Catalog.Unsubscribe(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) createOptOut(c *gin.Context) {
	var req OptOutRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Catalog.OptOut(c.Request.Context(), req.Email, req.Category); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"email": req.Email, "category": req.Category})
}

func (h *Handler) deleteOptOut(c *gin.Context) {
	var req OptOutRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Catalog.OptIn(c.Request.Context(), req.Email, req.Category); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
