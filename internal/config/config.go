// Package config loads the immutable configuration snapshot for the daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrMissingBaseURL = errors.New("missing_dcim_base_url")
	ErrMissingToken   = errors.New("missing_dcim_token")
)

type Config struct {
	ServiceName string
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	DCIM        DCIMConfig
	Billing     BillingConfig
	Quota       QuotaConfig
	AutoBuy     AutoBuyConfig
	Reconcile   ReconcileConfig
	Graph       GraphConfig
	Breaker     BreakerConfig
	Tracing     TracingConfig
}

type HTTPConfig struct {
	Addr string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DCIMConfig describes the upstream traffic-management API.
type DCIMConfig struct {
	BaseURL     string
	Token       string
	Impersonate string
	// SwapDirections exchanges in/out before use; some deployments label
	// traffic directions inconsistently.
	SwapDirections bool
	InFields       []string
	OutFields      []string
	Timeout        time.Duration
}

// Validate reports configuration errors that must abort a pass before any
// upstream call. These never count against the circuit breaker.
func (c DCIMConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// BillingConfig describes the billing collaborator endpoint.
type BillingConfig struct {
	BaseURL    string
	Identifier string
	Secret     string
	Timeout    time.Duration
}

// QuotaConfig holds the global defaults at the bottom of the resolution chain.
type QuotaConfig struct {
	DefaultMode    string
	DefaultAction  string
	DefaultQuotaGb float64
}

type AutoBuyConfig struct {
	Enabled     bool
	ThresholdGb float64
	PackageID   int64
	MaxPerCycle int
}

type ReconcileConfig struct {
	Interval        time.Duration
	PollLeaseTTL    time.Duration
	ServiceLeaseTTL time.Duration
	Concurrency     int
	// ProductAllowList limits reconciliation to the listed product IDs.
	// Empty means all products are eligible.
	ProductAllowList []int64
}

type GraphConfig struct {
	TTL time.Duration
}

type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

type TracingConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

// Load reads configuration from the environment, with an optional .env file
// for local development. The result is immutable for the process lifetime;
// components receive it explicitly instead of re-reading settings per call.
func Load() (Config, error) {
	k := koanf.New(".")

	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Config{
		ServiceName: defaultString(k.String("service.name"), "easydcim-traffic"),
		Environment: defaultString(k.String("environment"), "development"),
		HTTP: HTTPConfig{
			Addr: defaultString(k.String("http.addr"), ":8080"),
		},
		DB: DBConfig{
			Host:     defaultString(k.String("db.host"), "localhost"),
			Port:     defaultInt(k.Int("db.port"), 5432),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     defaultString(k.String("db.name"), "easydcim_traffic"),
			SSLMode:  defaultString(k.String("db.sslmode"), "disable"),
		},
		DCIM: DCIMConfig{
			BaseURL:        k.String("dcim.base.url"),
			Token:          k.String("dcim.token"),
			Impersonate:    k.String("dcim.impersonate"),
			SwapDirections: k.Bool("dcim.swap.directions"),
			InFields:       defaultSlice(k.Strings("dcim.in.fields"), []string{"in", "inbound", "download", "rx"}),
			OutFields:      defaultSlice(k.Strings("dcim.out.fields"), []string{"out", "outbound", "upload", "tx"}),
			Timeout:        defaultDuration(k.Duration("dcim.timeout"), 15*time.Second),
		},
		Billing: BillingConfig{
			BaseURL:    k.String("billing.base.url"),
			Identifier: k.String("billing.identifier"),
			Secret:     k.String("billing.secret"),
			Timeout:    defaultDuration(k.Duration("billing.timeout"), 15*time.Second),
		},
		Quota: QuotaConfig{
			DefaultMode:    defaultString(k.String("quota.default.mode"), "TOTAL"),
			DefaultAction:  defaultString(k.String("quota.default.action"), "disable_ports"),
			DefaultQuotaGb: k.Float64("quota.default.gb"),
		},
		AutoBuy: AutoBuyConfig{
			Enabled:     k.Bool("autobuy.enabled"),
			ThresholdGb: defaultFloat(k.Float64("autobuy.threshold.gb"), 10),
			PackageID:   k.Int64("autobuy.package.id"),
			MaxPerCycle: defaultInt(k.Int("autobuy.max.per.cycle"), 3),
		},
		Reconcile: ReconcileConfig{
			Interval:         defaultDuration(k.Duration("reconcile.interval"), 5*time.Minute),
			PollLeaseTTL:     defaultDuration(k.Duration("reconcile.poll.lease.ttl"), 10*time.Minute),
			ServiceLeaseTTL:  defaultDuration(k.Duration("reconcile.service.lease.ttl"), 2*time.Minute),
			Concurrency:      defaultInt(k.Int("reconcile.concurrency"), 4),
			ProductAllowList: k.Int64s("reconcile.product.allow.list"),
		},
		Graph: GraphConfig{
			TTL: defaultDuration(k.Duration("graph.ttl"), 30*time.Minute),
		},
		Breaker: BreakerConfig{
			Threshold: defaultInt(k.Int("breaker.threshold"), 5),
			Cooldown:  defaultDuration(k.Duration("breaker.cooldown"), 15*time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:          k.Bool("tracing.enabled"),
			ExporterEndpoint: k.String("tracing.exporter.endpoint"),
			ExporterProtocol: defaultString(k.String("tracing.exporter.protocol"), "grpc"),
			SamplingRatio:    defaultFloat(k.Float64("tracing.sampling.ratio"), 1),
		},
	}

	return cfg, nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func defaultFloat(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func defaultSlice(value, fallback []string) []string {
	if len(value) == 0 {
		return fallback
	}
	return value
}
