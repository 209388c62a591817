package handler

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

type cardRequest struct {
	Number   string `json:"number" binding:"required"`
	Holder   string `json:"holder" binding:"required"`
	ExpMonth int    `json:"exp_month" binding:"required"`
	ExpYear  int    `json:"exp_year" binding:"required"`
	CVV      string `json:"cvv" binding:"required"`
}

type bankTransferRequest struct {
	AccountName     string `json:"account_name"`
	BankName        string `json:"bank_name"`
	TransferDate    string `json:"transfer_date"`
	ReferenceNumber string `json:"reference_number"`
	SlipRef         string `json:"slip_ref"`
}

type submitPaymentRequest struct {
	OrderID      string               `json:"order_id" binding:"required"`
	Amount       decimal.Decimal      `json:"amount"`
	Method       string               `json:"method" binding:"required"`
	Card         *cardRequest         `json:"card"`
	BankTransfer *bankTransferRequest `json:"bank_transfer"`
}

func (r submitPaymentRequest) submission() payment.Submission {
	sub := payment.Submission{OrderID: r.OrderID, Amount: r.Amount}
	switch payment.MethodKind(r.Method) {
	case payment.KindCard:
		if r.Card != nil {
			sub.Instrument = payment.CardInput{
				Number:   r.Card.Number,
				Holder:   r.Card.Holder,
				ExpMonth: r.Card.ExpMonth,
				ExpYear:  r.Card.ExpYear,
				CVV:      r.Card.CVV,
			}
		}
	case payment.KindBankTransfer:
		if b := r.BankTransfer; b != nil {
			sub.Instrument = payment.BankTransfer{
				AccountName:     b.AccountName,
				BankName:        b.BankName,
				TransferDate:    b.TransferDate,
				ReferenceNumber: b.ReferenceNumber,
				SlipRef:         b.SlipRef,
			}
		}
	case payment.KindCashOnDelivery:
		sub.Instrument = payment.CashOnDelivery{}
	}
	return sub
}

type updatePaymentRequest struct {
	Status    string  `json:"status" binding:"required"`
	AdminNote *string `json:"admin_note"`
}

type paymentResponse struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	MethodDetails payment.Method  `json:"method_details"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	AdminNote     string          `json:"admin_note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Method:        string(p.Method.Kind()),
		MethodDetails: p.Method,
		TransactionID: p.TransactionID,
		Status:        string(p.Status),
		AdminNote:     p.AdminNote,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toPaymentResponses(ps []payment.Payment) []paymentResponse {
	out := make([]paymentResponse, len(ps))
	for i := range ps {
		out[i] = toPaymentResponse(&ps[i])
	}
	return out
}

// SubmitPayment pays for an order.
func (h *Handler) SubmitPayment(c *gin.Context) {
	var req submitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.payments.Submit(c.Request.Context(), principal(c), req.submission())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, toPaymentResponse(p), "payment recorded")
}

// ListMyPayments returns the caller's payments.
func (h *Handler) ListMyPayments(c *gin.Context) {
	ps, err := h.payments.ListMine(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toPaymentResponses(ps), "")
}

// ListAllPayments returns every payment. Admin only.
func (h *Handler) ListAllPayments(c *gin.Context) {
	ps, err := h.payments.ListAll(c.Request.Context(), principal(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toPaymentResponses(ps), "")
}

// GetPayment returns one payment visible to the caller.
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.payments.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toPaymentResponse(p), "")
}

// UpdatePaymentStatus settles, fails or refunds a payment. Admin only.
func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	var req updatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.payments.UpdateStatus(c.Request.Context(), principal(c), c.Param("id"), payment.Status(req.Status), req.AdminNote)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toPaymentResponse(p), "payment status updated")
}

// DeletePayment removes a pending or failed payment. Admin only.
func (h *Handler) DeletePayment(c *gin.Context) {
	if err := h.payments.Delete(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil, "payment deleted")
}

// GetReceipt downloads a plain-text receipt for a payment.
func (h *Handler) GetReceipt(c *gin.Context) {
	rc, err := h.payments.Receipt(c.Request.Context(), principal(c), c.Param("id"), h.storeName)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := rc.Render(&buf); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="receipt-`+rc.Payment.ID+`.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}
