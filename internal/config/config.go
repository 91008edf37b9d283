package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Government support-program catalog (기업마당 스타일 공고 API)
	CatalogBaseURL    string
	CatalogAPIKey     string
	CatalogTimeoutSec int
	CatalogPageSize   int

	// KakaoTalk delivery
	KakaoAPIBaseURL string
	KakaoAppKey     string // empty = simulated delivery
	KakaoTimeoutSec int
	KakaoRateLimit  int // outbound messages per minute, 0 = unlimited

	// Matching defaults
	MinMatchScore  int
	RegionWeight   int
	CategoryWeight int

	// Message queue drain
	QueueBatchSize     int
	DeliveryMaxRetries int

	// Task orchestration
	TaskMaxRetries    int
	TaskRetentionDays int

	// Internal scheduler (optional; external cron can drive /v1/scheduler instead)
	SchedulerEnabled     bool
	SchedulerIntervalMin int
	SchedulerDrainMax    int

	// Scheduler endpoint auth
	CronSecret string

	// SQS pipeline event stream (optional)
	SQSRegion         string
	SQSEventsQueueURL string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "bizalim",
		DBPassword: "",
		DBName:     "bizalim",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		CatalogBaseURL:    "https://api.bizinfo.go.kr/v1",
		CatalogTimeoutSec: 10,
		CatalogPageSize:   50,

		KakaoAPIBaseURL: "https://kapi.kakao.com",
		KakaoTimeoutSec: 10,
		KakaoRateLimit:  0,

		MinMatchScore:  50,
		RegionWeight:   50,
		CategoryWeight: 50,

		QueueBatchSize:     50,
		DeliveryMaxRetries: 3,

		TaskMaxRetries:    3,
		TaskRetentionDays: 7,

		SchedulerIntervalMin: 60,
		SchedulerDrainMax:    20,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if url := os.Getenv("CATALOG_BASE_URL"); url != "" {
		cfg.CatalogBaseURL = url
	}

	if key := os.Getenv("CATALOG_API_KEY"); key != "" {
		cfg.CatalogAPIKey = key
	}

	if timeout := os.Getenv("CATALOG_TIMEOUT_SEC"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CATALOG_TIMEOUT_SEC: %w", err)
		}
		cfg.CatalogTimeoutSec = t
	}

	if size := os.Getenv("CATALOG_PAGE_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid CATALOG_PAGE_SIZE: %w", err)
		}
		cfg.CatalogPageSize = s
	}

	if url := os.Getenv("KAKAO_API_BASE_URL"); url != "" {
		cfg.KakaoAPIBaseURL = url
	}

	if key := os.Getenv("KAKAO_APP_KEY"); key != "" {
		cfg.KakaoAppKey = key
	}

	if timeout := os.Getenv("KAKAO_TIMEOUT_SEC"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid KAKAO_TIMEOUT_SEC: %w", err)
		}
		cfg.KakaoTimeoutSec = t
	}

	if limit := os.Getenv("KAKAO_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid KAKAO_RATE_LIMIT: %w", err)
		}
		cfg.KakaoRateLimit = l
	}

	if score := os.Getenv("MIN_MATCH_SCORE"); score != "" {
		s, err := strconv.Atoi(score)
		if err != nil {
			return nil, fmt.Errorf("invalid MIN_MATCH_SCORE: %w", err)
		}
		cfg.MinMatchScore = s
	}

	if weight := os.Getenv("REGION_WEIGHT"); weight != "" {
		w, err := strconv.Atoi(weight)
		if err != nil {
			return nil, fmt.Errorf("invalid REGION_WEIGHT: %w", err)
		}
		cfg.RegionWeight = w
	}

	if weight := os.Getenv("CATEGORY_WEIGHT"); weight != "" {
		w, err := strconv.Atoi(weight)
		if err != nil {
			return nil, fmt.Errorf("invalid CATEGORY_WEIGHT: %w", err)
		}
		cfg.CategoryWeight = w
	}

	if size := os.Getenv("QUEUE_BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid QUEUE_BATCH_SIZE: %w", err)
		}
		cfg.QueueBatchSize = s
	}

	if retries := os.Getenv("DELIVERY_MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_MAX_RETRIES: %w", err)
		}
		cfg.DeliveryMaxRetries = r
	}

	if retries := os.Getenv("TASK_MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid TASK_MAX_RETRIES: %w", err)
		}
		cfg.TaskMaxRetries = r
	}

	if days := os.Getenv("TASK_RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid TASK_RETENTION_DAYS: %w", err)
		}
		cfg.TaskRetentionDays = d
	}

	if enabled := os.Getenv("SCHEDULER_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
		}
		cfg.SchedulerEnabled = b
	}

	if interval := os.Getenv("SCHEDULER_INTERVAL_MIN"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_INTERVAL_MIN: %w", err)
		}
		cfg.SchedulerIntervalMin = i
	}

	if max := os.Getenv("SCHEDULER_DRAIN_MAX"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_DRAIN_MAX: %w", err)
		}
		cfg.SchedulerDrainMax = m
	}

	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		cfg.CronSecret = secret
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	}

	if url := os.Getenv("SQS_EVENTS_QUEUE_URL"); url != "" {
		cfg.SQSEventsQueueURL = url
	}

	return cfg, nil
}
