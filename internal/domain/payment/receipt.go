package payment

import (
	"context"
	"io"
	"text/template"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Receipt is a read-only rendering of a payment and the order it pays for.
type Receipt struct {
	Store   string
	Payment *Payment
	Order   *order.Order
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(v interface{ StringFixed(int32) string }) string { return v.StringFixed(2) },
	"method": describeMethod,
}).Parse(`{{.Store}}
PAYMENT RECEIPT
==============================================
Receipt:        {{.Payment.ID}}
Transaction:    {{.Payment.TransactionID}}
Date:           {{.Payment.CreatedAt.Format "2006-01-02 15:04 MST"}}
Status:         {{.Payment.Status}}
Method:         {{method .Payment.Method}}

Order:          {{.Order.ID}}
Ship to:        {{.Order.ShippingAddress.Address}}, {{.Order.ShippingAddress.City}}
Phone:          {{.Order.ShippingAddress.Phone}}
----------------------------------------------
{{range .Order.Items}}{{printf "%-26s" .Name}} {{printf "%3d" .Quantity}} x {{printf "%10s" (money .UnitPrice)}}
{{end}}----------------------------------------------
Order total:    {{money .Order.TotalAmount}}
Amount paid:    {{money .Payment.Amount}}
{{with .Payment.AdminNote}}Note:           {{.}}
{{end}}`))

// Render writes the receipt as plain text.
func (r *Receipt) Render(w io.Writer) error {
	if err := receiptTemplate.Execute(w, r); err != nil {
		return errors.Wrap(err, "render receipt")
	}
	return nil
}

func describeMethod(m Method) string {
	switch m := m.(type) {
	case Card:
		return m.Brand + " card ending " + m.Last4
	case BankTransfer:
		return "bank transfer from " + m.AccountName + " (" + m.BankName + ", ref " + m.ReferenceNumber + ")"
	case CashOnDelivery:
		return "cash on delivery"
	default:
		return "unknown"
	}
}

// Receipt builds the receipt of a payment visible to pr.
func (p *Processor) Receipt(ctx context.Context, pr auth.Principal, id, store string) (*Receipt, error) {
	pay, err := p.Get(ctx, pr, id)
	if err != nil {
		return nil, err
	}
	o, err := p.orders.Lookup(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}
	return &Receipt{Store: store, Payment: pay, Order: o}, nil
}
