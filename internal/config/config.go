// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	Panel                   `yaml:"panel"`
	Referral                `yaml:"referral"`
	Trial                   `yaml:"trial"`
	Scheduler               `yaml:"scheduler"`
	YooKassa                `yaml:"yookassa"`
	Telegram                `yaml:"telegram"`
	ServiceAuth             `yaml:"service_auth"`
	Secrets                 `yaml:"secrets"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP    string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP    time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
	RateLimit      float64       `yaml:"rate_limit" env-default:"5"`
	RateBurst      int           `yaml:"rate_burst" env-default:"10"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	ProfileTTL   time.Duration `yaml:"profile_ttl" env-default:"10m"`
}

// RabbitMQ структура для настройки подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Panel настройки клиента панели 3x-ui
type Panel struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"30s"`
	RetryAttempts  int           `yaml:"retry_attempts" env-default:"3"`
	RetryDelay     time.Duration `yaml:"retry_delay" env-default:"2s"`
	Flow           string        `yaml:"flow"`
	LimitIP        int           `yaml:"limit_ip"`
}

// Referral проценты комиссий, бонус за активацию приглашённого
// и стартовый бонус приглашённому (в копейках)
type Referral struct {
	L1Percent           int64 `yaml:"l1_percent" env-default:"30"`
	L2Percent           int64 `yaml:"l2_percent" env-default:"5"`
	ActivationBonusDays int   `yaml:"activation_bonus_days" env-default:"15"`
	JoinBonusKopecks    int64 `yaml:"join_bonus_kopecks" env-default:"10000"`
}

// Trial параметры пробного периода
type Trial struct {
	Days         int   `yaml:"days" env-default:"3"`
	TrafficCapGB int64 `yaml:"traffic_cap_gb" env-default:"10"`
}

// Scheduler расписание и параметры сверки истекающих ключей
type Scheduler struct {
	ReminderSpec     string        `yaml:"reminder_spec" env-default:"0 9 * * *"`
	DeactivationSpec string        `yaml:"deactivation_spec" env-default:"5 0 * * *"`
	Lookahead        time.Duration `yaml:"lookahead" env-default:"72h"`
	Window           time.Duration `yaml:"window" env-default:"24h"`
	Workers          int           `yaml:"workers" env-default:"8"`
	LockTTL          time.Duration `yaml:"lock_ttl" env-default:"30m"`
}

// YooKassa настройки провайдера платежей
type YooKassa struct {
	ShopID             string        `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey          string        `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	APIURL             string        `yaml:"api_url" env-default:"https://api.yookassa.ru/v3"`
	ReturnURL          string        `yaml:"return_url"`
	WebhookSecret      string        `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	SignatureTolerance time.Duration `yaml:"signature_tolerance" env-default:"5m"`
	TrustedNetworks    []string      `yaml:"trusted_networks"`
}

// Telegram настройки бота
type Telegram struct {
	BotToken    string        `yaml:"bot_token" env:"BOT_TOKEN"`
	PollTimeout time.Duration `yaml:"poll_timeout" env-default:"10s"`
	AdminIDs    []int64       `yaml:"admin_ids"`
}

// ServiceAuth секрет для внутренних запросов от бота
type ServiceAuth struct {
	JWTSecretKey string `yaml:"jwt_secret_key" env:"SERVICE_JWT_SECRET"`
}

// Secrets ключ шифрования паролей панелей (32 байта в hex)
type Secrets struct {
	PanelKey string `yaml:"panel_key" env:"PANEL_SECRET_KEY"`
}

// MaxTrafficCapGB наибольший лимит трафика, который помещается в int64 байт.
const MaxTrafficCapGB = math.MaxInt64 >> 30

// DefaultTrustedNetworks опубликованные адреса уведомлений ЮKassa.
var DefaultTrustedNetworks = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.154.128/25",
	"77.75.156.11",
	"77.75.156.35",
	"2a02:5180::/32",
}

// Load читает конфиг из файла и переменных окружения.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(cfg.TrustedNetworks) == 0 {
		cfg.TrustedNetworks = DefaultTrustedNetworks
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет значения, которые cleanenv не ограничивает.
func (c *Config) Validate() error {
	var errs []error
	if c.Trial.TrafficCapGB < 0 || c.Trial.TrafficCapGB > MaxTrafficCapGB {
		errs = append(errs, fmt.Errorf("trial.traffic_cap_gb must be in [0, %d], got %d", int64(MaxTrafficCapGB), c.Trial.TrafficCapGB))
	}
	if c.Trial.Days <= 0 {
		errs = append(errs, fmt.Errorf("trial.days must be positive, got %d", c.Trial.Days))
	}
	if c.L1Percent < 0 || c.L1Percent > 100 || c.L2Percent < 0 || c.L2Percent > 100 {
		errs = append(errs, fmt.Errorf("referral percents must be in [0, 100], got %d and %d", c.L1Percent, c.L2Percent))
	}
	if c.JoinBonusKopecks < 0 {
		errs = append(errs, fmt.Errorf("referral.join_bonus_kopecks must not be negative, got %d", c.JoinBonusKopecks))
	}
	return errors.Join(errs...)
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"Panel:\n"+
			"  RequestTimeout: %s\n"+
			"  RetryAttempts: %d\n"+
			"Referral:\n"+
			"  L1: %d%%\n"+
			"  L2: %d%%\n"+
			"Scheduler:\n"+
			"  Reminder: %s\n"+
			"  Deactivation: %s\n"+
			"  Workers: %d\n",
		c.Env,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.AddressRedis,
		c.DB,
		c.RequestTimeout,
		c.RetryAttempts,
		c.L1Percent,
		c.L2Percent,
		c.ReminderSpec,
		c.DeactivationSpec,
		c.Workers,
	)
}
