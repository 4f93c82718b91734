package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ParameterSpec struct {
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	MaxStep      float64 `yaml:"max_step"`
	RiskRelevant bool    `yaml:"risk_relevant"`
}

type Strategy struct {
	Name           string                   `yaml:"name"`
	Symbol         string                   `yaml:"symbol"`
	Speed          string                   `yaml:"speed"`
	MinWinRate     float64                  `yaml:"min_win_rate"`
	MaxDrawdown    float64                  `yaml:"max_drawdown"`
	ReviewInterval time.Duration            `yaml:"review_interval"`
	Parameters     map[string]float64       `yaml:"parameters"`
	Specs          map[string]ParameterSpec `yaml:"specs"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Engine struct {
		TickInterval    time.Duration `yaml:"tick_interval"`
		SummaryWindow   time.Duration `yaml:"summary_window"`
		MinSample       int           `yaml:"min_sample"`
		StoreTimeout    time.Duration `yaml:"store_timeout"`
		SnapshotTTLDays int           `yaml:"snapshot_ttl_days"`
	} `yaml:"engine"`
	Classifier struct {
		HighVolThreshold float64 `yaml:"high_vol_threshold"`
		LowVolThreshold  float64 `yaml:"low_vol_threshold"`
		TrendThreshold   float64 `yaml:"trend_threshold"`
		MomentumFlip     float64 `yaml:"momentum_flip"`
		CompressionTight float64 `yaml:"compression_tight"`
		ExpansionRatio   float64 `yaml:"expansion_ratio"`
		Lookback         int     `yaml:"lookback"`
		ConfidenceFloor  float64 `yaml:"confidence_floor"`
	} `yaml:"classifier"`
	Safety struct {
		PreBuffer            time.Duration `yaml:"pre_buffer"`
		PostBuffer           time.Duration `yaml:"post_buffer"`
		CalendarHorizon      time.Duration `yaml:"calendar_horizon"`
		MetricWindow         time.Duration `yaml:"metric_window"`
		DrawdownEmergencyPct float64       `yaml:"drawdown_emergency_pct"`
		LossStreakHalt       int           `yaml:"loss_streak_halt"`
		VolMonitorThreshold  float64       `yaml:"vol_monitor_threshold"`
		ReduceFraction       float64       `yaml:"reduce_fraction"`
	} `yaml:"safety"`
	Strategies []Strategy `yaml:"strategies"`
	Kafka      struct {
		Brokers       []string `yaml:"brokers"`
		OutcomesTopic string   `yaml:"outcomes_topic"`
		AuditTopic    string   `yaml:"audit_topic"`
		LogsTopic     string   `yaml:"logs_topic"`
		RequiredAcks  int      `yaml:"required_acks"`
		Compression   string   `yaml:"compression"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Features struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		MaxRPS         int           `yaml:"max_rps"`
		BufferSize     int           `yaml:"buffer_size"`
	} `yaml:"features"`
	Collaborators struct {
		CalendarURL     string        `yaml:"calendar_url"`
		RiskMetricsURL  string        `yaml:"risk_metrics_url"`
		Timeout         time.Duration `yaml:"timeout"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		CacheTTL        time.Duration `yaml:"cache_ttl"`
	} `yaml:"collaborators"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Features.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("FEATURES_API_KEY"); v != "" {
		c.Features.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CALENDAR_URL"); v != "" {
		c.Collaborators.CalendarURL = v
	}
	if v := os.Getenv("RISK_METRICS_URL"); v != "" {
		c.Collaborators.RiskMetricsURL = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("strategies cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" || s.Symbol == "" {
			return fmt.Errorf("strategy name and symbol are required")
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate strategy name '%s'", s.Name)
		}
		seen[s.Name] = struct{}{}
		switch s.Speed {
		case "SLOW", "MEDIUM", "FAST", "REACTIVE":
		default:
			return fmt.Errorf("strategy %s: speed must be SLOW, MEDIUM, FAST or REACTIVE, got '%s'", s.Name, s.Speed)
		}
		for name, spec := range s.Specs {
			if spec.Min >= spec.Max {
				return fmt.Errorf("strategy %s: parameter %s min must be below max", s.Name, name)
			}
		}
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	if c.Collaborators.CalendarURL == "" {
		return fmt.Errorf("collaborators.calendar_url is required")
	}
	return nil
}
