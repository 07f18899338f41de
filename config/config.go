package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL  string
	OpsDBPath    string
	HTTPAddr     string
	LogLevel     string
	LogFile      string
	BlobBackend  string // supabase, s3, memory
	Supabase     SupabaseConfig
	S3           S3Config
	Storage      StorageConfig
	Reconcile    ReconcileConfig
	Sweep        SweepConfig
	Notification NotificationConfig
	Legacy       LegacyConfig
}

type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
}

type StorageConfig struct {
	ListingPrefix string
	StagingPrefix string
	CallTimeout   time.Duration
	RPS           float64 // 0 disables throttling
	Burst         int
}

type ReconcileConfig struct {
	PageSize    int
	DeleteBatch int
	MaxPages    int
	Cron        string
	Interval    time.Duration
}

type SweepConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type NotificationConfig struct {
	DefaultLink string
}

// LegacyConfig drives the root-bucket reference scan. It is read from
// config/legacy.yaml and is disabled unless that file enables it.
type LegacyConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Root              string   `yaml:"root"`
	PublicURLPrefixes []string `yaml:"public_url_prefixes"`
	MediaPattern      string   `yaml:"media_pattern"`
	MaxDepth          int      `yaml:"max_depth"`
}

const legacyConfigPath = "config/legacy.yaml"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		OpsDBPath:   getEnv("OPS_DB_PATH", "ops.db"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", "propmarket.log"),
		BlobBackend: strings.ToLower(getEnv("BLOB_BACKEND", "supabase")),
		Supabase: SupabaseConfig{
			URL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
			Bucket:     getEnv("STORAGE_BUCKET", "media"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Storage: StorageConfig{
			ListingPrefix: getEnv("LISTING_PREFIX", "properties"),
			StagingPrefix: getEnv("STAGING_PREFIX", "staging"),
			CallTimeout:   getEnvDuration("STORAGE_CALL_TIMEOUT", 30*time.Second),
			RPS:           getEnvFloat("STORAGE_RPS", 0),
			Burst:         getEnvInt("STORAGE_BURST", 5),
		},
		Reconcile: ReconcileConfig{
			PageSize:    getEnvInt("RECONCILE_PAGE_SIZE", 100),
			DeleteBatch: getEnvInt("RECONCILE_DELETE_BATCH", 100),
			MaxPages:    getEnvInt("RECONCILE_MAX_PAGES", 1000),
			Cron:        os.Getenv("RECONCILE_CRON"),
			Interval:    getEnvDuration("RECONCILE_INTERVAL", 0),
		},
		Sweep: SweepConfig{
			Interval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
			BatchSize:   getEnvInt("SWEEP_BATCH", 20),
			MaxAttempts: getEnvInt("SWEEP_MAX_ATTEMPTS", 5),
		},
		Notification: NotificationConfig{
			DefaultLink: getEnv("NOTIFICATION_LINK", "/dashboard/listings"),
		},
		Legacy: LegacyConfig{
			Root:         "media/",
			MediaPattern: `media/[A-Za-z0-9._/-]+`,
			MaxDepth:     4,
		},
	}

	if err := cfg.loadLegacyConfig(legacyConfigPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings a running process cannot do without
func (c *Config) Validate() error {
	if c.Reconcile.PageSize <= 0 || c.Reconcile.PageSize > 1000 {
		return fmt.Errorf("RECONCILE_PAGE_SIZE must be in 1..1000, got %d", c.Reconcile.PageSize)
	}
	if c.Reconcile.DeleteBatch <= 0 || c.Reconcile.DeleteBatch > 1000 {
		return fmt.Errorf("RECONCILE_DELETE_BATCH must be in 1..1000, got %d", c.Reconcile.DeleteBatch)
	}
	if c.Reconcile.MaxPages <= 0 {
		return fmt.Errorf("RECONCILE_MAX_PAGES must be positive, got %d", c.Reconcile.MaxPages)
	}
	switch c.BlobBackend {
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("BLOB_BACKEND=supabase needs SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("BLOB_BACKEND=s3 needs S3_BUCKET")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	if c.Legacy.Enabled {
		if err := CheckLegacyRoot(c.Legacy.Root, c.Storage.ListingPrefix, c.Storage.StagingPrefix); err != nil {
			return err
		}
	}
	return nil
}

// CheckLegacyRoot rejects a legacy scan root that would reach listing media
// or staged uploads: an empty root, or one that contains or sits inside
// either prefix.
func CheckLegacyRoot(root, listingPrefix, stagingPrefix string) error {
	r := strings.Trim(root, "/")
	if r == "" {
		return fmt.Errorf("legacy root must not be the bucket root")
	}
	for _, p := range []string{listingPrefix, stagingPrefix} {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if strings.HasPrefix(r+"/", p+"/") || strings.HasPrefix(p+"/", r+"/") {
			return fmt.Errorf("legacy root %q overlaps %q", root, p)
		}
	}
	return nil
}

func (c *Config) loadLegacyConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, &c.Legacy); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if c.Legacy.Root != "" && !strings.HasSuffix(c.Legacy.Root, "/") {
		c.Legacy.Root += "/"
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
