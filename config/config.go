package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3 (exports)
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port          string
	AppEnv        string
	PublicBaseURL string

	// School
	SchoolName     string
	SchoolTimezone string
	LateThreshold  string // HH:MM, check-ins after this are "late"

	// Exports
	ExportDir string

	// Logging
	LogLevel string
	LogFile  string

	// Dashboard cache
	StatsCacheTTL time.Duration

	// Jobs
	AutoAbsentCron string // empty disables the job
	ReminderCron   string // empty disables the job
	LogArchiveDays int

	// LINE
	LineChannelSecret string
	LineChannelToken  string

	// Feature Toggles
	SkipMigrate bool
	Seed        bool
}

func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

// Location returns the school's timezone, falling back to UTC when the name is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchoolTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	// Stage & base path for SSM (allows multi-env without code changes)
	basePath := getEnv("SSM_BASE_PATH", "/absenku")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "ap-southeast-3"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	getVal := func(key, def string) string {
		if useSSM {
			if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
				return v
			}
		}
		return getEnv(strings.ToUpper(key), def)
	}

	getIntVal := func(key string, def int) int {
		n, err := strconv.Atoi(getVal(key, strconv.Itoa(def)))
		if err != nil {
			log.Fatalf("Invalid %s: %v", key, err)
		}
		return n
	}

	jwtExpires, err := ParseDuration(getVal("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		log.Fatal("Invalid JWT_EXPIRES_IN format:", err)
	}

	statsTTL, err := ParseDuration(getVal("STATS_CACHE_TTL", "60s"))
	if err != nil {
		log.Fatal("Invalid STATS_CACHE_TTL format:", err)
	}

	AppConfig = &Config{
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "sekolah_absenku"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret:    getVal("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: jwtExpires,

		AWSRegion:          getVal("AWS_REGION", ""),
		AWSAccessKeyID:     getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       getVal("S3_BUCKET_NAME", ""),

		Port:          getVal("PORT", "3000"),
		AppEnv:        getVal("APP_ENV", "development"),
		PublicBaseURL: strings.TrimRight(getVal("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		SchoolName:     getVal("SCHOOL_NAME", "Sekolah Absenku"),
		SchoolTimezone: getVal("SCHOOL_TIMEZONE", "Asia/Jakarta"),
		LateThreshold:  getVal("LATE_THRESHOLD", "07:15"),

		ExportDir: getVal("EXPORT_DIR", "exports"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		StatsCacheTTL: statsTTL,

		AutoAbsentCron: getVal("AUTO_ABSENT_CRON", ""),
		ReminderCron:   getVal("ATTENDANCE_REMINDER_CRON", "0 9 * * 1-5"),
		LogArchiveDays: getIntVal("LOG_ARCHIVE_DAYS", 30),

		LineChannelSecret: getVal("LINE_CHANNEL_SECRET", ""),
		LineChannelToken:  getVal("LINE_CHANNEL_ACCESS_TOKEN", ""),

		SkipMigrate: strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
		Seed:        strings.ToLower(getVal("SEED", "false")) == "true",
	}

	if err := validateConfig(AppConfig, useSSM); err != nil {
		log.Fatal(err)
	}
}

// ParseDuration accepts time.ParseDuration syntax plus day ("7d") and week ("2w") shorthands.
func ParseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	v := strings.TrimSpace(strings.ToLower(s))
	if len(v) > 1 {
		unit := v[len(v)-1]
		if n, convErr := strconv.Atoi(v[:len(v)-1]); convErr == nil && n > 0 {
			switch unit {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fetchSSMParameters reads all parameters under prefix and returns a map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	var next *string
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      next,
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			key := *p.Name
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				key = key[idx+1:]
			}
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) error {
	if _, _, err := ParseClock(c.LateThreshold); err != nil {
		return fmt.Errorf("invalid LATE_THRESHOLD %q: %w", c.LateThreshold, err)
	}
	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return nil
	}
	required := []struct{ key, value string }{
		{"DB_PASSWORD", c.DBPassword},
		{"JWT_SECRET", c.JWTSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required secret %s in production (SSM=%v)", r.key, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET too short (min 16 chars)")
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
