package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// GetCart returns the caller's cart, creating it if needed.
func (h *Handler) GetCart(c *gin.Context) {
	ct, err := h.carts.Get(c.Request.Context(), principal(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ct, "")
}

// AddCartItem adds a product to the caller's cart.
func (h *Handler) AddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ct, err := h.carts.AddItem(c.Request.Context(), principal(c).ID, req.ProductID, req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ct, "item added to cart")
}

// UpdateCartItem sets the quantity of a cart line.
func (h *Handler) UpdateCartItem(c *gin.Context) {
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ct, err := h.carts.UpdateItemQuantity(c.Request.Context(), principal(c).ID, c.Param("itemId"), req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ct, "cart item updated")
}

// RemoveCartItem removes a cart line.
func (h *Handler) RemoveCartItem(c *gin.Context) {
	ct, err := h.carts.RemoveItem(c.Request.Context(), principal(c).ID, c.Param("itemId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ct, "item removed from cart")
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(c *gin.Context) {
	ct, err := h.carts.Clear(c.Request.Context(), principal(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ct, "cart cleared")
}
