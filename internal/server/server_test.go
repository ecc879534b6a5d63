package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/graph"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	quotadomain "github.com/majidisaloo/easydcim-traffic/internal/quota/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeBilling struct {
	nextInvoiceID int64
	invoiceErr    error
}

func (f *fakeBilling) CreateInvoice(ctx context.Context, accountID int64, items []billingdomain.LineItem) (int64, error) {
	if f.invoiceErr != nil {
		return 0, f.invoiceErr
	}
	f.nextInvoiceID++
	return f.nextInvoiceID, nil
}

func (f *fakeBilling) ApplyCredit(ctx context.Context, invoiceID int64, amount float64) error {
	return nil
}

func (f *fakeBilling) AddPayment(ctx context.Context, invoiceID int64, transactionRef, gateway string) error {
	return nil
}

func (f *fakeBilling) AccountCredit(ctx context.Context, accountID int64) (float64, error) {
	return 0, nil
}

func (f *fakeBilling) InvoiceStatus(ctx context.Context, invoiceID int64) (string, error) {
	return billingdomain.InvoiceStatusUnpaid, nil
}

type fakeExporter struct {
	calls   int
	payload json.RawMessage
}

func (f *fakeExporter) ExportGraph(ctx context.Context, remoteServiceID int64, start, end time.Time, raw bool, impersonate string) (json.RawMessage, error) {
	f.calls++
	return f.payload, nil
}

func setupServerTest(t *testing.T) (*gin.Engine, *gorm.DB, *fakeExporter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&servicedomain.Service{},
		&servicedomain.ServiceState{},
		&purchasedomain.Purchase{},
		&quotadomain.Package{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS graph_cache (
			id BIGINT PRIMARY KEY,
			service_id BIGINT NOT NULL,
			range_start DATETIME NOT NULL,
			range_end DATETIME NOT NULL,
			payload_hash TEXT NOT NULL,
			json_payload TEXT NOT NULL,
			cached_at DATETIME NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("create graph_cache: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	cfg := config.Config{
		Environment: "test",
		Graph:       config.GraphConfig{TTL: 30 * time.Minute},
	}
	clk := clock.Fixed{At: time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)}
	log := zap.NewNop()
	exporter := &fakeExporter{payload: json.RawMessage(`{"series":[]}`)}

	graphs := graph.NewCache(graph.Params{
		DB: db, Log: log, GenID: node, Cfg: cfg, Clock: clk, Exporter: exporter,
	})

	s := &Server{
		cfg:       cfg,
		log:       log,
		db:        db,
		genID:     node,
		clock:     clk,
		services:  servicedomain.NewRepository(db),
		purchases: purchasedomain.NewRepository(db),
		graphs:    graphs,
		billing:   &fakeBilling{},
	}

	engine := gin.New()
	s.RegisterRoutes(engine)
	return engine, db, exporter
}

func seedServerService(t *testing.T, db *gorm.DB) {
	t.Helper()
	svc := servicedomain.Service{
		ID:              1,
		AccountID:       5,
		ProductID:       9,
		RemoteServiceID: 77,
		Status:          servicedomain.ServiceStatusActive,
		BillingCycle:    "monthly",
		NextDueDate:     time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&svc).Error; err != nil {
		t.Fatalf("seed service: %v", err)
	}
}

func TestListServiceStatesEmpty(t *testing.T) {
	engine, _, _ := setupServerTest(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGetServiceState(t *testing.T) {
	engine, db, _ := setupServerTest(t)
	if err := db.Create(&servicedomain.ServiceState{
		ServiceID:   1,
		LastUsedGb:  42,
		LastStatus:  servicedomain.StateStatusOK,
		LastCheckAt: time.Date(2025, time.June, 15, 11, 0, 0, 0, time.UTC),
	}).Error; err != nil {
		t.Fatalf("seed state: %v", err)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/1/state", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var state servicedomain.ServiceState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.LastUsedGb != 42 {
		t.Fatalf("used = %v, want 42", state.LastUsedGb)
	}
}

func TestGetServiceStateNotFound(t *testing.T) {
	engine, _, _ := setupServerTest(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/999/state", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetServiceStateInvalidID(t *testing.T) {
	engine, _, _ := setupServerTest(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/abc/state", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateTopUp(t *testing.T) {
	engine, db, _ := setupServerTest(t)
	seedServerService(t, db)
	if err := db.Create(&quotadomain.Package{ID: 3, Name: "100 GB", SizeGb: 100, Price: 5, Active: true}).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}

	body := bytes.NewBufferString(`{"package_id":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services/1/topup", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp topUpResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InvoiceID != 1 {
		t.Fatalf("invoice id = %d, want 1", resp.InvoiceID)
	}
	if resp.Purchase.PaymentStatus != purchasedomain.PaymentStatusPending {
		t.Fatalf("payment status = %q, want pending", resp.Purchase.PaymentStatus)
	}
	if resp.Purchase.Actor != purchasedomain.ActorClientManual {
		t.Fatalf("actor = %q, want client_manual", resp.Purchase.Actor)
	}

	// The purchase lands in the service's current cycle.
	wantStart := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	if !resp.Purchase.CycleStart.Equal(wantStart) {
		t.Fatalf("cycle start = %v, want %v", resp.Purchase.CycleStart, wantStart)
	}
}

func TestCreateTopUpUnknownPackage(t *testing.T) {
	engine, db, _ := setupServerTest(t)
	seedServerService(t, db)

	body := bytes.NewBufferString(`{"package_id":99}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services/1/topup", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateTopUpUnknownService(t *testing.T) {
	engine, _, _ := setupServerTest(t)

	body := bytes.NewBufferString(`{"package_id":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services/1/topup", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetServiceGraphDefaultsToCurrentCycle(t *testing.T) {
	engine, db, exporter := setupServerTest(t)
	seedServerService(t, db)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/1/graph", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if exporter.calls != 1 {
		t.Fatalf("exporter calls = %d, want 1", exporter.calls)
	}

	// The same request is served from cache.
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/1/graph", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("cached status = %d, want 200", w.Code)
	}
	if exporter.calls != 1 {
		t.Fatalf("exporter calls = %d, want cache to hold it at 1", exporter.calls)
	}
}

func TestGetServiceGraphInvalidWindow(t *testing.T) {
	engine, db, _ := setupServerTest(t)
	seedServerService(t, db)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/services/1/graph?start=2025-06-02T00:00:00Z&end=2025-06-01T00:00:00Z", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListServicePurchases(t *testing.T) {
	engine, db, _ := setupServerTest(t)
	seedServerService(t, db)
	if err := db.Create(&purchasedomain.Purchase{
		ID: 1, ServiceID: 1, PackageID: 3, SizeGb: 100, Price: 5,
		CycleStart:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		CycleEnd:      time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC),
		Actor:         purchasedomain.ActorClientManual,
		PaymentStatus: purchasedomain.PaymentStatusPaid,
		CreatedAt:     time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC),
	}).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/services/1/purchases", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data []purchasedomain.Purchase `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].SizeGb != 100 {
		t.Fatalf("purchases = %+v", resp.Data)
	}
}

func TestHealthz(t *testing.T) {
	engine, _, _ := setupServerTest(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
