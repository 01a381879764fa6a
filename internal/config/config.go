// Package config 提供配置管理
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // 容器内可能没有系统时区数据

	"github.com/joho/godotenv"
	"github.com/paiban/classplan/pkg/occupancy"
	"github.com/paiban/classplan/pkg/validator"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// APIConfig API配置
type APIConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"` // 每秒请求数，0 表示不限流
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// SchedulerConfig 排课引擎配置
type SchedulerConfig struct {
	Timeout      time.Duration       `yaml:"timeout"`       // 单次求解的时间预算
	MaxNodes     int                 `yaml:"max_nodes"`     // 分支定界节点上限，0 表示不限制
	BypassCutoff time.Duration       `yaml:"bypass_cutoff"` // 资质禁排窗口半宽
	Inclusion    occupancy.Inclusion `yaml:"inclusion"`
	OpenHour     int                 `yaml:"open_hour"`
	CloseHour    int                 `yaml:"close_hour"`
	Timezone     string              `yaml:"timezone"`
	USHolidays   bool                `yaml:"us_holidays"`
	OrgHolidays  string              `yaml:"org_holidays"` // 见 validator.ParseOrgHolidays
	StopAtFirst  bool                `yaml:"stop_at_first"`
	SavePlans    bool                `yaml:"save_plans"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 从环境变量加载配置，存在 .env 时先加载
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:     getEnv("APP_NAME", "classplan"),
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnvInt("APP_PORT", 7012),
			LogLevel: getEnv("APP_LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "classplan"),
			User:            getEnv("DB_USER", "classplan"),
			Password:        getEnv("DB_PASSWORD", "classplan"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		API: APIConfig{
			Timeout:   getEnvDuration("API_TIMEOUT", 90*time.Second),
			RateLimit: getEnvInt("API_RATE_LIMIT", 100),
			CORS: CORSConfig{
				Enabled: getEnvBool("API_CORS_ENABLED", true),
				Origins: getEnvList("API_CORS_ORIGINS", []string{"*"}),
			},
		},
		Scheduler: SchedulerConfig{
			Timeout:      getEnvDuration("SCHEDULER_TIMEOUT", 60*time.Second),
			MaxNodes:     getEnvInt("SCHEDULER_MAX_NODES", 0),
			BypassCutoff: getEnvDuration("SCHEDULER_BYPASS_CUTOFF", occupancy.DefaultBypassCutoff),
			Inclusion:    occupancy.Inclusion(getEnv("SCHEDULER_EXCLUSION_INCLUSION", string(occupancy.InclusionOverlap))),
			OpenHour:     getEnvInt("SCHEDULER_OPEN_HOUR", 10),
			CloseHour:    getEnvInt("SCHEDULER_CLOSE_HOUR", 22),
			Timezone:     getEnv("SCHEDULER_TIMEZONE", "America/New_York"),
			USHolidays:   getEnvBool("SCHEDULER_US_HOLIDAYS", true),
			OrgHolidays:  getEnv("SCHEDULER_ORG_HOLIDAYS", ""),
			StopAtFirst:  getEnvBool("SCHEDULER_STOP_AT_FIRST", false),
			SavePlans:    getEnvBool("SCHEDULER_SAVE_PLANS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否自洽
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.OpenHour < 0 || s.CloseHour > 24 || s.OpenHour >= s.CloseHour {
		return fmt.Errorf("营业时间配置无效: %d-%d", s.OpenHour, s.CloseHour)
	}
	if s.Inclusion != occupancy.InclusionOverlap && s.Inclusion != occupancy.InclusionLegacyAny {
		return fmt.Errorf("未知的禁排窗口判定方式: %q", s.Inclusion)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("限流配置不能为负: %d", c.API.RateLimit)
	}
	if s.BypassCutoff < 0 {
		return fmt.Errorf("资质禁排半宽不能为负: %s", s.BypassCutoff)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("时区无效: %w", err)
	}
	return nil
}

// Location 返回排课使用的时区
func (s *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// OccupancyOptions 返回占用环境构建选项
func (s *SchedulerConfig) OccupancyOptions() occupancy.Options {
	return occupancy.Options{BypassCutoff: s.BypassCutoff, Inclusion: s.Inclusion}
}

// ValidatorConfig 返回校验器配置
func (s *SchedulerConfig) ValidatorConfig() *validator.Config {
	return &validator.Config{
		OpenHour:    s.OpenHour,
		CloseHour:   s.CloseHour,
		Location:    s.Location(),
		StopAtFirst: s.StopAtFirst,
	}
}

// Calendar 根据配置构建节假日日历
func (s *SchedulerConfig) Calendar() (*validator.Calendar, error) {
	cal := validator.NewCalendar()
	if s.USHolidays {
		cal = validator.NewUSCalendar()
	}
	if err := validator.ParseOrgHolidays(cal, s.OrgHolidays); err != nil {
		return nil, err
	}
	return cal, nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
