// Package config loads the typed configuration structs the core depends on
// (spec.md §6): FreshnessConfig, RiskConfig, StrategyConfig, ExecutionConfig,
// ReconcilerConfig, and the request-policy's rate/backoff parameters. In the
// teacher's pkg/config + strategy/config_loader.go style: joho/godotenv for
// .env loading, gopkg.in/yaml.v3 for the structured parts, thin os.Getenv
// fallbacks for secrets and paths. Production secret management and the rest
// of a full service's config (DB DSNs, API keys for a real venue) stay an
// external concern; this loader only hydrates the structs the core itself
// consumes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fundingarb/internal/execution"
	"fundingarb/internal/freshness"
	"fundingarb/internal/model"
	"fundingarb/internal/reconciliation"
	"fundingarb/internal/requestpolicy"
	"fundingarb/internal/risk"
	"fundingarb/internal/strategy"
	"fundingarb/internal/units"
)

// Config is the full set of tunables the worker wires into the core.
type Config struct {
	Asset         model.AssetConfig
	Freshness     freshness.Config
	Risk          risk.Config
	Strategy      strategy.Config
	Execution     execution.Config
	Reconciler    reconciliation.Config
	RequestPolicy requestpolicy.Config

	EvaluatorInterval time.Duration
	DBPath            string
	AuditDBPath       string
	UseSQLiteAudit    bool
	DryRun            bool
}

// Default returns the conservative defaults every sub-package already ships,
// composed into one struct, with the single asset this core trades.
func Default() Config {
	return Config{
		Asset: model.AssetConfig{
			PerpSymbol:   "BTCUSDT",
			BaseAsset:    "BTC",
			QuoteAsset:   "USDT",
			BaseDecimals: 8,
		},
		Freshness: freshness.Config{
			MaxTickerAgeMs:  5_000,
			MaxFundingAgeMs: 120_000,
			MaxAccountAgeMs: 30_000,
		},
		Risk:          risk.DefaultConfig(),
		Strategy:      strategy.DefaultConfig(),
		Execution:     execution.DefaultConfig(),
		Reconciler:    reconciliation.DefaultConfig(),
		RequestPolicy: requestpolicy.DefaultConfig(),

		EvaluatorInterval: 2 * time.Second,
		DBPath:            "./data/fundingarb.db",
		AuditDBPath:       "./data/audit.db",
		UseSQLiteAudit:    false,
		DryRun:            true,
	}
}

// fileOverlay is the YAML-facing shape of the config file. Its fields are
// plain numeric/string types rather than the *Base/*Quote/*Bps wrappers the
// runtime configs use internally, since those wrap an unexported *big.Int
// and have no YAML codec of their own; applyOverlay converts each present
// field onto the typed Config it overlays.
type fileOverlay struct {
	Asset *struct {
		PerpSymbol   string `yaml:"perp_symbol"`
		BaseAsset    string `yaml:"base_asset"`
		QuoteAsset   string `yaml:"quote_asset"`
		BaseDecimals int    `yaml:"base_decimals"`
	} `yaml:"asset"`

	Risk *struct {
		MaxPositionSizeQuote    *int64 `yaml:"max_position_size_quote"`
		MaxLeverageBps          *int64 `yaml:"max_leverage_bps"`
		MaxDailyLossQuote       *int64 `yaml:"max_daily_loss_quote"`
		MaxDrawdownBps          *int64 `yaml:"max_drawdown_bps"`
		MinLiquidationBufferBps *int64 `yaml:"min_liquidation_buffer_bps"`
		MaxMarginUtilizationBps *int64 `yaml:"max_margin_utilization_bps"`
	} `yaml:"risk"`

	Strategy *struct {
		MinFundingRateBps   *int64 `yaml:"min_funding_rate_bps"`
		MinPredictedRateBps *int64 `yaml:"min_predicted_rate_bps"`
		ExitFundingRateBps  *int64 `yaml:"exit_funding_rate_bps"`
		TargetYieldBps      *int64 `yaml:"target_yield_bps"`
	} `yaml:"strategy"`

	Execution *struct {
		MaxSlippageBps   *int64 `yaml:"max_slippage_bps"`
		MaxHedgeDriftBps *int64 `yaml:"max_hedge_drift_bps"`
		AckTimeoutMs     *int   `yaml:"ack_timeout_ms"`
		FillTimeoutMs    *int   `yaml:"fill_timeout_ms"`
	} `yaml:"execution"`

	Reconciler *struct {
		IntervalSeconds *int `yaml:"interval_seconds"`
	} `yaml:"reconciler"`

	EvaluatorIntervalMs *int    `yaml:"evaluator_interval_ms"`
	DBPath              *string `yaml:"db_path"`
	AuditDBPath         *string `yaml:"audit_db_path"`
	UseSQLiteAudit      *bool   `yaml:"use_sqlite_audit"`
	DryRun              *bool   `yaml:"dry_run"`
}

func applyOverlay(cfg Config, o fileOverlay) Config {
	if o.Asset != nil {
		if o.Asset.PerpSymbol != "" {
			cfg.Asset.PerpSymbol = o.Asset.PerpSymbol
		}
		if o.Asset.BaseAsset != "" {
			cfg.Asset.BaseAsset = o.Asset.BaseAsset
		}
		if o.Asset.QuoteAsset != "" {
			cfg.Asset.QuoteAsset = o.Asset.QuoteAsset
		}
		if o.Asset.BaseDecimals > 0 {
			cfg.Asset.BaseDecimals = o.Asset.BaseDecimals
		}
	}
	// Execution's notional math needs the same base-asset decimals as the
	// asset config; keep them in sync regardless of which one the overlay set.
	cfg.Execution.BaseDecimals = cfg.Asset.BaseDecimals
	if o.Risk != nil {
		r := o.Risk
		setQuote(&cfg.Risk.MaxPositionSizeQuote, r.MaxPositionSizeQuote)
		setBps(&cfg.Risk.MaxLeverageBps, r.MaxLeverageBps)
		setQuote(&cfg.Risk.MaxDailyLossQuote, r.MaxDailyLossQuote)
		setBps(&cfg.Risk.MaxDrawdownBps, r.MaxDrawdownBps)
		setBps(&cfg.Risk.MinLiquidationBufferBps, r.MinLiquidationBufferBps)
		setBps(&cfg.Risk.MaxMarginUtilizationBps, r.MaxMarginUtilizationBps)
	}
	if o.Strategy != nil {
		s := o.Strategy
		setBps(&cfg.Strategy.MinFundingRateBps, s.MinFundingRateBps)
		setBps(&cfg.Strategy.MinPredictedRateBps, s.MinPredictedRateBps)
		setBps(&cfg.Strategy.ExitFundingRateBps, s.ExitFundingRateBps)
		setBps(&cfg.Strategy.TargetYieldBps, s.TargetYieldBps)
	}
	if o.Execution != nil {
		e := o.Execution
		setBps(&cfg.Execution.MaxSlippageBps, e.MaxSlippageBps)
		setBps(&cfg.Execution.MaxHedgeDriftBps, e.MaxHedgeDriftBps)
		if e.AckTimeoutMs != nil {
			cfg.Execution.AckTimeout = time.Duration(*e.AckTimeoutMs) * time.Millisecond
		}
		if e.FillTimeoutMs != nil {
			cfg.Execution.FillTimeout = time.Duration(*e.FillTimeoutMs) * time.Millisecond
		}
	}
	if o.Reconciler != nil && o.Reconciler.IntervalSeconds != nil {
		cfg.Reconciler.Interval = time.Duration(*o.Reconciler.IntervalSeconds) * time.Second
	}
	if o.EvaluatorIntervalMs != nil && *o.EvaluatorIntervalMs > 0 {
		cfg.EvaluatorInterval = time.Duration(*o.EvaluatorIntervalMs) * time.Millisecond
	}
	if o.DBPath != nil {
		cfg.DBPath = *o.DBPath
	}
	if o.AuditDBPath != nil {
		cfg.AuditDBPath = *o.AuditDBPath
	}
	if o.UseSQLiteAudit != nil {
		cfg.UseSQLiteAudit = *o.UseSQLiteAudit
	}
	if o.DryRun != nil {
		cfg.DryRun = *o.DryRun
	}
	return cfg
}

func setBps(dst *units.Bps, v *int64) {
	if v != nil {
		*dst = units.NewBps(*v)
	}
}

func setQuote(dst *units.Quote, v *int64) {
	if v != nil {
		*dst = units.NewQuote(*v)
	}
}

// Load reads an optional YAML file at path over Default(), then applies
// environment overrides for the perp symbol, the DB and audit DB paths, the
// sqlite-audit and dry-run switches, and the evaluator interval. Ignores a
// missing .env file so the process still starts without one.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			var overlay fileOverlay
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg = applyOverlay(cfg, overlay)
		}
	}

	if v := os.Getenv("FUNDINGARB_PERP_SYMBOL"); v != "" {
		cfg.Asset.PerpSymbol = v
	}
	if v := os.Getenv("FUNDINGARB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FUNDINGARB_AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("FUNDINGARB_USE_SQLITE_AUDIT"); v != "" {
		cfg.UseSQLiteAudit = v == "true"
	}
	if v := os.Getenv("FUNDINGARB_DRY_RUN"); v != "" {
		cfg.DryRun = v == "true"
	}
	if v := os.Getenv("FUNDINGARB_EVALUATOR_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.EvaluatorInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg, nil
}
