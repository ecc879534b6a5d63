// Package whmcs implements the billing gateway against a WHMCS-style
// localAPI endpoint.
package whmcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/tracing"
	"go.uber.org/zap"
)

// Client speaks the form-encoded action API of the billing platform.
type Client struct {
	http       *http.Client
	baseURL    string
	identifier string
	secret     string
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		http:       tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Billing.Timeout}),
		baseURL:    strings.TrimRight(cfg.Billing.BaseURL, "/"),
		identifier: cfg.Billing.Identifier,
		secret:     cfg.Billing.Secret,
		log:        log.Named("billing.whmcs"),
	}
}

type apiResponse struct {
	Result    string     `json:"result"`
	Message   string     `json:"message"`
	InvoiceID flexNumber `json:"invoiceid"`
	Status    string     `json:"status"`
	Credit    flexNumber `json:"credit"`
}

// flexNumber accepts both bare numbers and quoted numeric strings; the
// billing API is inconsistent across versions.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*n = 0
		return nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return err
	}
	*n = flexNumber(value)
	return nil
}

func (c *Client) CreateInvoice(ctx context.Context, accountID int64, items []billingdomain.LineItem) (int64, error) {
	form := url.Values{}
	form.Set("action", "CreateInvoice")
	form.Set("userid", strconv.FormatInt(accountID, 10))
	form.Set("sendinvoice", "0")
	for i, item := range items {
		n := strconv.Itoa(i + 1)
		form.Set("itemdescription"+n, item.Description)
		form.Set("itemamount"+n, fmt.Sprintf("%.2f", item.Amount))
		form.Set("itemtaxed"+n, "0")
	}

	resp, err := c.call(ctx, form)
	if err != nil {
		return 0, err
	}
	if resp.InvoiceID == 0 {
		return 0, fmt.Errorf("billing returned no invoice id")
	}
	return int64(resp.InvoiceID), nil
}

func (c *Client) ApplyCredit(ctx context.Context, invoiceID int64, amount float64) error {
	form := url.Values{}
	form.Set("action", "ApplyCredit")
	form.Set("invoiceid", strconv.FormatInt(invoiceID, 10))
	form.Set("amount", fmt.Sprintf("%.2f", amount))
	_, err := c.call(ctx, form)
	return err
}

func (c *Client) AddPayment(ctx context.Context, invoiceID int64, transactionRef, gateway string) error {
	form := url.Values{}
	form.Set("action", "AddInvoicePayment")
	form.Set("invoiceid", strconv.FormatInt(invoiceID, 10))
	form.Set("transid", transactionRef)
	form.Set("gateway", gateway)
	_, err := c.call(ctx, form)
	return err
}

func (c *Client) AccountCredit(ctx context.Context, accountID int64) (float64, error) {
	form := url.Values{}
	form.Set("action", "GetClientsDetails")
	form.Set("clientid", strconv.FormatInt(accountID, 10))

	resp, err := c.call(ctx, form)
	if err != nil {
		return 0, err
	}
	return float64(resp.Credit), nil
}

func (c *Client) InvoiceStatus(ctx context.Context, invoiceID int64) (string, error) {
	form := url.Values{}
	form.Set("action", "GetInvoice")
	form.Set("invoiceid", strconv.FormatInt(invoiceID, 10))

	resp, err := c.call(ctx, form)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(resp.Status, "Paid") {
		return billingdomain.InvoiceStatusPaid, nil
	}
	return billingdomain.InvoiceStatusUnpaid, nil
}

func (c *Client) call(ctx context.Context, form url.Values) (*apiResponse, error) {
	form.Set("identifier", c.identifier)
	form.Set("secret", c.secret)
	form.Set("responsetype", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/includes/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	action := form.Get("action")
	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.log.Warn("billing call failed",
			zap.String("api_action", action),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.log.Debug("billing call",
		zap.String("api_action", action),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("billing api status %d for %s", resp.StatusCode, action)
	}

	var decoded apiResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode billing response: %w", err)
	}
	if decoded.Result != "" && !strings.EqualFold(decoded.Result, "success") {
		return nil, fmt.Errorf("billing api error for %s: %s", action, decoded.Message)
	}
	return &decoded, nil
}
