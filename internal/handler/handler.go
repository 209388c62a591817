// Package handler exposes the checkout domain over HTTP with gin.
package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// StoreName is printed on payment receipts.
	StoreName string
}

// Handler serves the /api routes, delegating business logic to the domain
// services.
type Handler struct {
	carts     *cart.Service
	checkout  *checkout.Service
	orders    *order.Service
	payments  *payment.Processor
	storeName string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	carts *cart.Service,
	checkout *checkout.Service,
	orders *order.Service,
	payments *payment.Processor,
) *Handler {
	return &Handler{
		carts:     carts,
		checkout:  checkout,
		orders:    orders,
		payments:  payments,
		storeName: cfg.StoreName,
	}
}

// Register mounts every API route on r. authn authenticates the caller;
// idempotent, if not nil, guards the create endpoints.
func (h *Handler) Register(r gin.IRouter, authn, idempotent gin.HandlerFunc) {
	api := r.Group("/api", authn)

	once := func(next gin.HandlerFunc) []gin.HandlerFunc {
		if idempotent == nil {
			return []gin.HandlerFunc{next}
		}
		return []gin.HandlerFunc{idempotent, next}
	}

	api.GET("/cart", h.GetCart)
	api.POST("/cart/items", h.AddCartItem)
	api.PUT("/cart/items/:itemId", h.UpdateCartItem)
	api.DELETE("/cart/items/:itemId", h.RemoveCartItem)
	api.DELETE("/cart", h.ClearCart)

	api.POST("/orders", once(h.PlaceOrder)...)
	api.GET("/me/orders", h.ListMyOrders)
	api.GET("/admin/orders", h.ListAllOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.PUT("/orders/:id/status", h.UpdateOrderStatus)
	api.PUT("/orders/:id/payment-status", h.UpdateOrderPaymentStatus)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.DELETE("/me/orders/cancelled", h.ClearMyCancelledOrders)
	api.DELETE("/admin/orders/cancelled", h.ClearAllCancelledOrders)

	api.POST("/payments", once(h.SubmitPayment)...)
	api.GET("/me/payments", h.ListMyPayments)
	api.GET("/admin/payments", h.ListAllPayments)
	api.GET("/payments/:id", h.GetPayment)
	api.PUT("/payments/:id/status", h.UpdatePaymentStatus)
	api.DELETE("/admin/payments/:id", h.DeletePayment)
	api.GET("/payments/:id/receipt", h.GetReceipt)
}
