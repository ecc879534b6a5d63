// Package domain defines the billing collaborator boundary. Invoice and
// credit mechanics live in the external billing platform; the engine only
// consumes this surface.
package domain

import "context"

const (
	InvoiceStatusPaid   = "paid"
	InvoiceStatusUnpaid = "unpaid"
)

// LineItem is one invoice line.
type LineItem struct {
	Description string
	Amount      float64
}

// Gateway is the billing platform as seen by the engine.
type Gateway interface {
	// CreateInvoice raises an invoice on the account and returns its ID.
	CreateInvoice(ctx context.Context, accountID int64, items []LineItem) (int64, error)
	// ApplyCredit pays part of an invoice from account credit.
	ApplyCredit(ctx context.Context, invoiceID int64, amount float64) error
	// AddPayment records a settled payment against an invoice.
	AddPayment(ctx context.Context, invoiceID int64, transactionRef, gateway string) error
	// AccountCredit returns the account's available credit balance.
	AccountCredit(ctx context.Context, accountID int64) (float64, error)
	// InvoiceStatus reports paid or unpaid.
	InvoiceStatus(ctx context.Context, invoiceID int64) (string, error)
}
