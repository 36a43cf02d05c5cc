// Package config 统一的剖析器配置：报告、分析阈值、归档与仪表板。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProfilerConfig 剖析器配置根结构
type ProfilerConfig struct {
	Meta      MetaConfig      `yaml:"meta" mapstructure:"meta"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Archive   ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Workloads WorkloadsConfig `yaml:"workloads" mapstructure:"workloads"`
}

// MetaConfig 元信息
type MetaConfig struct {
	Project       string `yaml:"project" mapstructure:"project"`
	ConfigVersion string `yaml:"config_version" mapstructure:"config_version"`
}

// ReportConfig 报告渲染配置
type ReportConfig struct {
	Unit   string `yaml:"unit" mapstructure:"unit"`     // ns/us/ms/s
	Format string `yaml:"format" mapstructure:"format"` // table/json
	Output string `yaml:"output" mapstructure:"output"` // 空表示stdout
}

// AnalyzerConfig 分析阈值配置
type AnalyzerConfig struct {
	HotLinePercent      float64       `yaml:"hot_line_percent" mapstructure:"hot_line_percent"`
	DominantCallPercent float64       `yaml:"dominant_call_percent" mapstructure:"dominant_call_percent"`
	TightLoopHits       int64         `yaml:"tight_loop_hits" mapstructure:"tight_loop_hits"`
	TightLoopPerHit     time.Duration `yaml:"tight_loop_per_hit" mapstructure:"tight_loop_per_hit"`
}

// ArchiveConfig 会话归档配置
type ArchiveConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend"` // memory/badger/postgres
	Badger   BadgerConfig   `yaml:"badger" mapstructure:"badger"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// BadgerConfig 本地嵌入式归档配置
type BadgerConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PostgresConfig PostgreSQL归档配置
type PostgresConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	User           string        `yaml:"user" mapstructure:"user"`
	Password       string        `yaml:"password" mapstructure:"password"`
	DBName         string        `yaml:"dbname" mapstructure:"dbname"`
	SSLMode        string        `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns       int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32         `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// DSN 拼接连接串
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// DashboardConfig 仪表板配置
type DashboardConfig struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// WorkloadsConfig 演示工作负载配置
type WorkloadsConfig struct {
	Iterations     int           `yaml:"iterations" mapstructure:"iterations"`
	BadCallDelay   time.Duration `yaml:"bad_call_delay" mapstructure:"bad_call_delay"`
	WorseCallDelay time.Duration `yaml:"worse_call_delay" mapstructure:"worse_call_delay"`
}

// LoadProfilerConfig 用Viper加载配置。path为空时按默认路径搜索；
// 配置文件不存在则使用默认值。
func LoadProfilerConfig(path string) (*ProfilerConfig, *viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("profiler-config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath(".")
	}

	// 环境变量覆盖：LINEPROF_REPORT_UNIT 等
	v.SetEnvPrefix("LINEPROF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失不算错误，使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ProfilerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, v, nil
}

// setDefaultValues 默认配置值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("meta.project", "GoLineProfiler")
	v.SetDefault("meta.config_version", "1.0.0")

	v.SetDefault("report.unit", "us")
	v.SetDefault("report.format", "table")
	v.SetDefault("report.output", "")

	v.SetDefault("analyzer.hot_line_percent", 40.0)
	v.SetDefault("analyzer.dominant_call_percent", 80.0)
	v.SetDefault("analyzer.tight_loop_hits", 100)
	v.SetDefault("analyzer.tight_loop_per_hit", "1ms")

	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.badger.dir", "./data/sessions")
	v.SetDefault("archive.postgres.host", "localhost")
	v.SetDefault("archive.postgres.port", 5432)
	v.SetDefault("archive.postgres.user", "postgres")
	v.SetDefault("archive.postgres.password", "postgres")
	v.SetDefault("archive.postgres.dbname", "lineprof")
	v.SetDefault("archive.postgres.sslmode", "disable")
	v.SetDefault("archive.postgres.max_conns", 25)
	v.SetDefault("archive.postgres.min_conns", 5)
	v.SetDefault("archive.postgres.connect_timeout", "5s")

	v.SetDefault("dashboard.addr", ":18080")
	v.SetDefault("dashboard.allowed_origins", []string{"*"})
	v.SetDefault("dashboard.read_timeout", "10s")
	v.SetDefault("dashboard.write_timeout", "10s")

	v.SetDefault("workloads.iterations", 150)
	v.SetDefault("workloads.bad_call_delay", "500ms")
	v.SetDefault("workloads.worse_call_delay", "1s")
}

// validateConfig 配置合法性检查
func validateConfig(cfg *ProfilerConfig) error {
	switch cfg.Report.Format {
	case "table", "json":
	default:
		return fmt.Errorf("unknown report format: %q", cfg.Report.Format)
	}

	switch cfg.Archive.Backend {
	case "memory", "badger", "postgres":
	default:
		return fmt.Errorf("unknown archive backend: %q", cfg.Archive.Backend)
	}

	if cfg.Analyzer.HotLinePercent <= 0 || cfg.Analyzer.HotLinePercent > 100 {
		return fmt.Errorf("analyzer.hot_line_percent out of range: %v", cfg.Analyzer.HotLinePercent)
	}
	if cfg.Analyzer.DominantCallPercent <= 0 || cfg.Analyzer.DominantCallPercent > 100 {
		return fmt.Errorf("analyzer.dominant_call_percent out of range: %v", cfg.Analyzer.DominantCallPercent)
	}

	if cfg.Workloads.Iterations <= 0 {
		return fmt.Errorf("workloads.iterations must be positive: %d", cfg.Workloads.Iterations)
	}

	return nil
}
