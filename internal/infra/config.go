package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"whale_go/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on every exchange request
	DefaultUserAgent = "whale_go/1.0 (+order-book tracker)"
)

// AlgorithmConfig is one named coefficient set.
type AlgorithmConfig struct {
	Name       string  `yaml:"name"`
	Time       float64 `yaml:"time"`
	Size       float64 `yaml:"size"`
	RoundLevel float64 `yaml:"round_level"`
	Volatility float64 `yaml:"volatility"`
	TimeOfDay  float64 `yaml:"time_of_day"`
	Weekend    float64 `yaml:"weekend"`
}

// Sum returns the total weight of the nonzero terms.
func (a AlgorithmConfig) Sum() float64 {
	return a.Time + a.Size + a.RoundLevel + a.Volatility + a.TimeOfDay + a.Weekend
}

// PoolConfig bounds one adaptive worker pool.
type PoolConfig struct {
	MinWorkers       int           `yaml:"min_workers"`
	MaxWorkers       int           `yaml:"max_workers"`
	SymbolsPerWorker int           `yaml:"symbols_per_worker"`
	MinScanInterval  time.Duration `yaml:"min_scan_interval"`
	ReconcileEvery   time.Duration `yaml:"reconcile_every"`
	SlowFetch        time.Duration `yaml:"slow_fetch"`
	RequestsPerSec   float64       `yaml:"requests_per_sec"`
	Burst            int           `yaml:"burst"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		RestURL         string        `yaml:"rest_url"`
		Timeout         time.Duration `yaml:"timeout"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"exchange"`

	Scan struct {
		Workers          int           `yaml:"workers"`
		TopSymbols       int           `yaml:"top_symbols"`
		Depth            int           `yaml:"depth"`
		TopLevels        int           `yaml:"top_levels"`
		LargeMultiplier  float64       `yaml:"large_order_multiplier"`
		ExcludedSuffixes []string      `yaml:"excluded_suffixes"`
		ExcludedPrefixes []string      `yaml:"excluded_prefixes"`
		RetryBudget      int           `yaml:"retry_budget"`
		Interval         time.Duration `yaml:"interval"`
		RequestsPerSec   float64       `yaml:"requests_per_sec"`
		Burst            int           `yaml:"burst"`
	} `yaml:"scan"`

	Lifecycle struct {
		HotPoolLifetime   time.Duration `yaml:"hot_pool_lifetime"`
		SurvivalThreshold float64       `yaml:"survival_threshold"`
		DeadRetention     time.Duration `yaml:"dead_retention"`
		SweepEvery        time.Duration `yaml:"sweep_every"`
	} `yaml:"lifecycle"`

	Observer PoolConfig `yaml:"observer"`
	HotPool  PoolConfig `yaml:"hot_pool"`

	Weights struct {
		Recommended string            `yaml:"recommended"`
		Algorithms  []AlgorithmConfig `yaml:"algorithms"`
		TimeFactors struct {
			LinearHorizon time.Duration `yaml:"linear_horizon"`
			HalfLife      time.Duration `yaml:"half_life"`
			LogHorizon    time.Duration `yaml:"log_horizon"`
			AdaptiveTau   time.Duration `yaml:"adaptive_tau"`
			Weights       struct {
				Linear             float64 `yaml:"linear"`
				Exponential        float64 `yaml:"exponential"`
				Logarithmic        float64 `yaml:"logarithmic"`
				AdaptiveVolatility float64 `yaml:"adaptive_volatility"`
			} `yaml:"weights"`
		} `yaml:"time_factors"`
		MaxSizeMultiplier float64 `yaml:"max_size_multiplier"`
		MaxVolatility     float64 `yaml:"max_volatility"`
		RoundProximityPct float64 `yaml:"round_proximity_pct"`
		VolatilityWindow  int     `yaml:"volatility_window"`
	} `yaml:"weights"`

	Significance struct {
		ScoreDelta       float64 `yaml:"score_delta"`
		USDRelativeDelta float64 `yaml:"usd_value_delta"`
	} `yaml:"significance"`

	Alerts struct {
		Enabled     bool    `yaml:"enabled"`
		MinCategory string  `yaml:"min_category"`
		MinUSDValue float64 `yaml:"min_usd_value"`
	} `yaml:"alerts"`

	Broadcast struct {
		ListenAddr   string        `yaml:"listen_addr"`
		PrivateToken string        `yaml:"private_token"`
		VIPKeys      []string      `yaml:"vip_keys"`
		VIPKeysFile  string        `yaml:"vip_keys_file"`
		PublicDelay  time.Duration `yaml:"public_delay"`
		PublicRate   int           `yaml:"public_rate_limit"`
		PublicWindow time.Duration `yaml:"public_rate_window"`
		QueueSize    int           `yaml:"queue_size"`
		InboxSize    int           `yaml:"inbox_size"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"broadcast"`

	Storage struct {
		Path             string        `yaml:"path"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		IncludeTracked   bool          `yaml:"include_tracked"`
		OutcomeRetention time.Duration `yaml:"outcome_retention"`
	} `yaml:"storage"`

	Export struct {
		Enabled       bool          `yaml:"enabled"`
		OutboxDir     string        `yaml:"outbox_dir"`
		Brokers       []string      `yaml:"brokers"`
		Topic         string        `yaml:"topic"`
		RelayInterval time.Duration `yaml:"relay_interval"`
	} `yaml:"export"`

	Shutdown struct {
		Grace time.Duration `yaml:"grace"`
	} `yaml:"shutdown"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Debug struct {
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"debug"`
}

// DefaultConfig returns the configuration used when a key is absent from the file.
func DefaultConfig() *Config {
	var c Config
	c.App.Name = "whale_go"
	c.App.Version = "1.0.0"

	c.Exchange.RestURL = "https://fapi.binance.com"
	c.Exchange.Timeout = 10 * time.Second
	c.Exchange.BreakerFailures = 10
	c.Exchange.BreakerCooldown = 30 * time.Second

	c.Scan.Workers = 5
	c.Scan.TopSymbols = 100
	c.Scan.Depth = 100
	c.Scan.TopLevels = 10
	c.Scan.LargeMultiplier = 3.5
	c.Scan.ExcludedSuffixes = []string{"BUSD", "USDC", "FDUSD", "TUSD", "USDP", "DAI"}
	c.Scan.ExcludedPrefixes = nil
	c.Scan.RetryBudget = 3
	c.Scan.Interval = 5 * time.Minute
	c.Scan.RequestsPerSec = 10
	c.Scan.Burst = 5

	c.Lifecycle.HotPoolLifetime = 60 * time.Second
	c.Lifecycle.SurvivalThreshold = 0.7
	c.Lifecycle.DeadRetention = 5 * time.Minute
	c.Lifecycle.SweepEvery = 30 * time.Second

	c.Observer = PoolConfig{
		MinWorkers:       1,
		MaxWorkers:       3,
		SymbolsPerWorker: 10,
		MinScanInterval:  2 * time.Second,
		ReconcileEvery:   time.Second,
		SlowFetch:        time.Second,
		RequestsPerSec:   10,
		Burst:            5,
	}
	c.HotPool = PoolConfig{
		MinWorkers:       1,
		MaxWorkers:       8,
		SymbolsPerWorker: 4,
		MinScanInterval:  500 * time.Millisecond,
		ReconcileEvery:   time.Second,
		SlowFetch:        500 * time.Millisecond,
		RequestsPerSec:   20,
		Burst:            10,
	}

	c.Weights.Recommended = "hybrid"
	c.Weights.Algorithms = []AlgorithmConfig{
		{Name: "conservative", Time: 0.4, Size: 0.25, RoundLevel: 0.15, Volatility: 0.1, TimeOfDay: 0.05, Weekend: 0.05},
		{Name: "aggressive", Time: 0.2, Size: 0.3, RoundLevel: 0.2, Volatility: 0.15, TimeOfDay: 0.1, Weekend: 0.05},
		{Name: "volume_weighted", Time: 0.25, Size: 0.4, RoundLevel: 0.1, Volatility: 0.15, TimeOfDay: 0.05, Weekend: 0.05},
		{Name: "time_weighted", Time: 0.5, Size: 0.2, RoundLevel: 0.1, Volatility: 0.1, TimeOfDay: 0.05, Weekend: 0.05},
		{Name: "hybrid", Time: 0.3, Size: 0.25, RoundLevel: 0.2, Volatility: 0.15, TimeOfDay: 0.05, Weekend: 0.05},
	}
	c.Weights.TimeFactors.LinearHorizon = time.Hour
	c.Weights.TimeFactors.HalfLife = 30 * time.Minute
	c.Weights.TimeFactors.LogHorizon = 2 * time.Hour
	c.Weights.TimeFactors.AdaptiveTau = 30 * time.Minute
	c.Weights.TimeFactors.Weights.Linear = 0.2
	c.Weights.TimeFactors.Weights.Exponential = 0.3
	c.Weights.TimeFactors.Weights.Logarithmic = 0.2
	c.Weights.TimeFactors.Weights.AdaptiveVolatility = 0.3
	c.Weights.MaxSizeMultiplier = 10
	c.Weights.MaxVolatility = 0.2
	c.Weights.RoundProximityPct = 0.1
	c.Weights.VolatilityWindow = 120

	c.Significance.ScoreDelta = 0.05
	c.Significance.USDRelativeDelta = 0.05

	c.Alerts.Enabled = true
	c.Alerts.MinCategory = string(domain.CategoryDiamond)
	c.Alerts.MinUSDValue = 0

	c.Broadcast.ListenAddr = ":8765"
	c.Broadcast.PublicDelay = 5 * time.Second
	c.Broadcast.PublicRate = 10
	c.Broadcast.PublicWindow = time.Second
	c.Broadcast.QueueSize = 256
	c.Broadcast.InboxSize = 1024
	c.Broadcast.WriteTimeout = 5 * time.Second
	c.Broadcast.PingInterval = 30 * time.Second

	c.Storage.Path = "data/whale.db"
	c.Storage.SnapshotInterval = time.Minute
	c.Storage.IncludeTracked = true
	c.Storage.OutcomeRetention = 7 * 24 * time.Hour

	c.Export.OutboxDir = "data/outbox"
	c.Export.Topic = "whale.orders"
	c.Export.RelayInterval = 250 * time.Millisecond

	c.Shutdown.Grace = 10 * time.Second

	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	c.Logging.File = "app.log"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28

	c.Debug.PprofAddr = "localhost:6060"
	return &c
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// 파일에 없는 값은 DefaultConfig의 값을 유지합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Exchange.RestURL, "http://") && !strings.HasPrefix(c.Exchange.RestURL, "https://") {
		return configErr("exchange.rest_url", "invalid REST URL: %q", c.Exchange.RestURL)
	}

	// Scan
	if c.Scan.Workers <= 0 {
		return configErr("scan.workers", "must be positive")
	}
	if c.Scan.TopSymbols <= 0 {
		return configErr("scan.top_symbols", "must be positive")
	}
	if c.Scan.TopLevels <= 0 || c.Scan.Depth < c.Scan.TopLevels {
		return configErr("scan.depth", "depth %d must cover top_levels %d", c.Scan.Depth, c.Scan.TopLevels)
	}
	if c.Scan.LargeMultiplier <= 0 {
		return configErr("scan.large_order_multiplier", "must be positive")
	}
	if c.Scan.RetryBudget < 0 {
		return configErr("scan.retry_budget", "must not be negative")
	}

	// Lifecycle
	if c.Lifecycle.SurvivalThreshold <= 0 || c.Lifecycle.SurvivalThreshold > 1 {
		return configErr("lifecycle.survival_threshold", "must be in (0, 1], got %v", c.Lifecycle.SurvivalThreshold)
	}
	if c.Lifecycle.HotPoolLifetime <= 0 {
		return configErr("lifecycle.hot_pool_lifetime", "must be positive")
	}

	if err := c.Observer.validate("observer"); err != nil {
		return err
	}
	if err := c.HotPool.validate("hot_pool"); err != nil {
		return err
	}

	// Weights
	if len(c.Weights.Algorithms) == 0 {
		return configErr("weights.algorithms", "at least one algorithm is required")
	}
	seen := make(map[string]bool, len(c.Weights.Algorithms))
	for _, a := range c.Weights.Algorithms {
		if a.Name == "" || a.Name == "recommended" {
			return configErr("weights.algorithms", "invalid algorithm name %q", a.Name)
		}
		if seen[a.Name] {
			return configErr("weights.algorithms", "duplicate algorithm %q", a.Name)
		}
		seen[a.Name] = true
		if a.Sum() > 1+1e-9 {
			return configErr("weights.algorithms", "%s coefficients sum to %.3f > 1", a.Name, a.Sum())
		}
	}
	if !seen[c.Weights.Recommended] {
		return configErr("weights.recommended", "unknown algorithm %q", c.Weights.Recommended)
	}
	tf := c.Weights.TimeFactors
	if tf.LinearHorizon <= 0 || tf.HalfLife <= 0 || tf.LogHorizon <= 0 || tf.AdaptiveTau <= 0 {
		return configErr("weights.time_factors", "horizons must be positive")
	}
	w := tf.Weights
	if sum := w.Linear + w.Exponential + w.Logarithmic + w.AdaptiveVolatility; sum <= 0 || sum > 1+1e-9 {
		return configErr("weights.time_factors.weights", "must sum to (0, 1], got %.3f", sum)
	}

	// Broadcast
	if c.Broadcast.PublicRate <= 0 || c.Broadcast.PublicWindow <= 0 {
		return configErr("broadcast.public_rate_limit", "rate and window must be positive")
	}
	if c.Broadcast.QueueSize <= 0 || c.Broadcast.InboxSize <= 0 {
		return configErr("broadcast.queue_size", "queues must be bounded and positive")
	}

	if c.Storage.Path == "" {
		return configErr("storage.path", "required")
	}
	if c.Export.Enabled && (len(c.Export.Brokers) == 0 || c.Export.Topic == "") {
		return configErr("export.brokers", "brokers and topic required when export is enabled")
	}

	return nil
}

func (p PoolConfig) validate(name string) error {
	if p.MinWorkers < 1 || p.MaxWorkers < p.MinWorkers {
		return configErr(name+".workers", "need 1 <= min (%d) <= max (%d)", p.MinWorkers, p.MaxWorkers)
	}
	if p.SymbolsPerWorker <= 0 {
		return configErr(name+".symbols_per_worker", "must be positive")
	}
	if p.MinScanInterval <= 0 || p.ReconcileEvery <= 0 {
		return configErr(name+".min_scan_interval", "intervals must be positive")
	}
	if p.RequestsPerSec <= 0 || p.Burst <= 0 {
		return configErr(name+".requests_per_sec", "rate limit must be positive")
	}
	return nil
}

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("WHALE_PRIVATE_TOKEN"); token != "" {
		cfg.Broadcast.PrivateToken = token
	}
	if keys := os.Getenv("WHALE_VIP_KEYS"); keys != "" {
		cfg.Broadcast.VIPKeys = splitList(keys)
	}
	if url := os.Getenv("WHALE_BINANCE_URL"); url != "" {
		cfg.Exchange.RestURL = url
	}
	if brokers := os.Getenv("WHALE_KAFKA_BROKERS"); brokers != "" {
		cfg.Export.Brokers = splitList(brokers)
	}
	if level := os.Getenv("WHALE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
