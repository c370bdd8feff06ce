package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		DisableReqLogs            bool
	}

	AuthConfig struct {
		// StaffEmailDomain is the mandatory email domain of admins and teachers. Empty disables the check.
		StaffEmailDomain string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string // empty: in-process cache
		Password string
		DB       int
		CacheTTL time.Duration
	}

	EmailConfig struct {
		Provider       string // console | sendgrid | resend
		SendgridAPIKey string
		ResendAPIKey   string
	}

	StorageConfig struct {
		Root          string
		PublicBaseURL string
	}

	GradingConfig struct {
		WrittenWorkWeight         float64
		PerformanceTaskWeight     float64
		QuarterlyAssessmentWeight float64
		PassingGrade              float64
		HonorsThreshold           float64
		HighHonorsThreshold       float64
		HighestHonorsThreshold    float64
	}

	Config struct {
		AppName                   string
		Env                       string
		Build                     string
		Debug                     bool
		TestMode                  bool
		SecretKey                 string
		DefaultFromEmail          mail.Address
		FrontendBaseURL           string
		RollbarToken              string
		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Auth     AuthConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Email    EmailConfig
		Storage  StorageConfig
		Grading  GradingConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig loads the configuration of the current ENV (DEV by default).
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	loadDotEnv(env)

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetTypeByDefaultValue(true)
	setDefaults(v, env)

	conf := &Config{
		AppName:  v.GetString("appName"),
		Env:      env,
		Build:    v.GetString("build"),
		Debug:    v.GetBool("debug"),
		TestMode: v.GetBool("testMode"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:              v.GetString("rollbarToken"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
		},
		Auth: AuthConfig{
			StaffEmailDomain: strings.TrimPrefix(v.GetString("auth.staffEmailDomain"), "@"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cacheTTL"),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(v.GetString("email.provider")),
			SendgridAPIKey: v.GetString("email.sendgridAPIKey"),
			ResendAPIKey:   v.GetString("email.resendAPIKey"),
		},
		Storage: StorageConfig{
			Root:          v.GetString("storage.root"),
			PublicBaseURL: strings.TrimRight(v.GetString("storage.publicBaseURL"), "/"),
		},
		Grading: GradingConfig{
			WrittenWorkWeight:         v.GetFloat64("grading.writtenWorkWeight"),
			PerformanceTaskWeight:     v.GetFloat64("grading.performanceTaskWeight"),
			QuarterlyAssessmentWeight: v.GetFloat64("grading.quarterlyAssessmentWeight"),
			PassingGrade:              v.GetFloat64("grading.passingGrade"),
			HonorsThreshold:           v.GetFloat64("grading.honorsThreshold"),
			HighHonorsThreshold:       v.GetFloat64("grading.highHonorsThreshold"),
			HighestHonorsThreshold:    v.GetFloat64("grading.highestHonorsThreshold"),
		},
	}
	return conf
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("appName", "Gradebook")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("secretKey", "k3v9-q!t0x#w2m$7hz&rpe4(b)l^n8u%c5fa+dj1sgo6yi")
	v.SetDefault("defaultFromName", "Gradebook")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", env == "TEST")

	v.SetDefault("auth.staffEmailDomain", "deped.gov.ph")

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "gradebook")
	v.SetDefault("database.user", "gradebook")
	v.SetDefault("database.password", "gradebook")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cacheTTL", 10*time.Minute)

	v.SetDefault("email.provider", "console")
	v.SetDefault("email.sendgridAPIKey", "")
	v.SetDefault("email.resendAPIKey", "")

	v.SetDefault("storage.root", filepath.Join(os.TempDir(), "gradebook-storage"))
	v.SetDefault("storage.publicBaseURL", "http://localhost:8000/files")

	v.SetDefault("grading.writtenWorkWeight", 30.0)
	v.SetDefault("grading.performanceTaskWeight", 50.0)
	v.SetDefault("grading.quarterlyAssessmentWeight", 20.0)
	v.SetDefault("grading.passingGrade", 75.0)
	v.SetDefault("grading.honorsThreshold", 90.0)
	v.SetDefault("grading.highHonorsThreshold", 95.0)
	v.SetDefault("grading.highestHonorsThreshold", 98.0)
}

// loadDotEnv loads config/.env.<env> if it exists (ignored if it does not).
func loadDotEnv(env string) {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
}
