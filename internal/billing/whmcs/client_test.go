package whmcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.uber.org/zap"
)

func newTestWHMCS(t *testing.T, serverURL string) *Client {
	t.Helper()
	cfg := config.Config{
		Billing: config.BillingConfig{
			BaseURL:    serverURL,
			Identifier: "ident",
			Secret:     "shh",
			Timeout:    5 * time.Second,
		},
	}
	return NewClient(cfg, zap.NewNop())
}

func captureForm(t *testing.T, forms *[]url.Values, response string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		*forms = append(*forms, r.PostForm)
		_, _ = w.Write([]byte(response))
	}
}

func TestCreateInvoiceBuildsLineItems(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(captureForm(t, &forms, `{"result":"success","invoiceid":"123"}`))
	defer srv.Close()

	client := newTestWHMCS(t, srv.URL)
	invoiceID, err := client.CreateInvoice(context.Background(), 5, []billingdomain.LineItem{
		{Description: "Traffic top-up: 100 GB", Amount: 5},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if invoiceID != 123 {
		t.Fatalf("invoice id = %d, want 123 (quoted number accepted)", invoiceID)
	}

	form := forms[0]
	if form.Get("action") != "CreateInvoice" || form.Get("userid") != "5" {
		t.Fatalf("form = %v", form)
	}
	if form.Get("itemdescription1") != "Traffic top-up: 100 GB" || form.Get("itemamount1") != "5.00" {
		t.Fatalf("line item fields = %v", form)
	}
	if form.Get("identifier") != "ident" || form.Get("responsetype") != "json" {
		t.Fatalf("auth fields = %v", form)
	}
}

func TestCreateInvoiceBareNumberID(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(captureForm(t, &forms, `{"result":"success","invoiceid":456}`))
	defer srv.Close()

	client := newTestWHMCS(t, srv.URL)
	invoiceID, err := client.CreateInvoice(context.Background(), 5, []billingdomain.LineItem{{Description: "x", Amount: 1}})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if invoiceID != 456 {
		t.Fatalf("invoice id = %d, want 456", invoiceID)
	}
}

func TestAccountCredit(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(captureForm(t, &forms, `{"result":"success","credit":"42.50"}`))
	defer srv.Close()

	client := newTestWHMCS(t, srv.URL)
	credit, err := client.AccountCredit(context.Background(), 5)
	if err != nil {
		t.Fatalf("account credit: %v", err)
	}
	if credit != 42.5 {
		t.Fatalf("credit = %v, want 42.5", credit)
	}
	if forms[0].Get("action") != "GetClientsDetails" || forms[0].Get("clientid") != "5" {
		t.Fatalf("form = %v", forms[0])
	}
}

func TestInvoiceStatusNormalization(t *testing.T) {
	responses := map[string]string{
		`{"result":"success","status":"Paid"}`:   billingdomain.InvoiceStatusPaid,
		`{"result":"success","status":"Unpaid"}`: billingdomain.InvoiceStatusUnpaid,
		`{"result":"success","status":"Draft"}`:  billingdomain.InvoiceStatusUnpaid,
	}
	for response, want := range responses {
		var forms []url.Values
		srv := httptest.NewServer(captureForm(t, &forms, response))

		client := newTestWHMCS(t, srv.URL)
		status, err := client.InvoiceStatus(context.Background(), 9)
		srv.Close()
		if err != nil {
			t.Fatalf("invoice status: %v", err)
		}
		if status != want {
			t.Errorf("status for %s = %q, want %q", response, status, want)
		}
	}
}

func TestCallRejectsAPIError(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(captureForm(t, &forms, `{"result":"error","message":"Invoice ID Not Found"}`))
	defer srv.Close()

	client := newTestWHMCS(t, srv.URL)
	err := client.ApplyCredit(context.Background(), 9, 5)
	if err == nil {
		t.Fatal("expected error from result=error response")
	}
}

func TestAddPaymentForm(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(captureForm(t, &forms, `{"result":"success"}`))
	defer srv.Close()

	client := newTestWHMCS(t, srv.URL)
	if err := client.AddPayment(context.Background(), 77, "autobuy-1-77", "credit"); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	form := forms[0]
	if form.Get("action") != "AddInvoicePayment" || form.Get("invoiceid") != "77" {
		t.Fatalf("form = %v", form)
	}
	if form.Get("transid") != "autobuy-1-77" || form.Get("gateway") != "credit" {
		t.Fatalf("payment fields = %v", form)
	}
}
