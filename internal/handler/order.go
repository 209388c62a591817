package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

type placeOrderRequest struct {
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type updatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required"`
}

type clearedResponse struct {
	Deleted int `json:"deleted"`
}

// PlaceOrder checks out the caller's cart.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.checkout.PlaceOrder(c.Request.Context(), principal(c), req.ShippingAddress)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, o, "order placed")
}

// ListMyOrders returns the caller's orders.
func (h *Handler) ListMyOrders(c *gin.Context) {
	orders, err := h.orders.ListMine(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, orders, "")
}

// ListAllOrders returns every order. Admin only.
func (h *Handler) ListAllOrders(c *gin.Context) {
	orders, err := h.orders.ListAll(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, orders, "")
}

// GetOrder returns one order visible to the caller.
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o, "")
}

// UpdateOrderStatus moves an order along its lifecycle. Admin only.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req updateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), principal(c), c.Param("id"), order.Status(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o, "order status updated")
}

// UpdateOrderPaymentStatus reconciles an order's payment status with its
// payment records.
func (h *Handler) UpdateOrderPaymentStatus(c *gin.Context) {
	var req updatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.payments.ReconcileOrder(c.Request.Context(), principal(c), c.Param("id"), order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o, "payment status updated")
}

// CancelOrder cancels an order and restocks its lines.
func (h *Handler) CancelOrder(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o, "order cancelled")
}

// ClearMyCancelledOrders deletes the caller's cancelled orders.
func (h *Handler) ClearMyCancelledOrders(c *gin.Context) {
	n, err := h.orders.ClearCancelled(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, clearedResponse{Deleted: n}, "cancelled orders cleared")
}

// ClearAllCancelledOrders deletes every cancelled order. Admin only.
func (h *Handler) ClearAllCancelledOrders(c *gin.Context) {
	n, err := h.orders.ClearAllCancelled(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, clearedResponse{Deleted: n}, "cancelled orders cleared")
}
