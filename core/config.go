package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		FrontendBaseURL  string
		WorkDir          string
		DefaultFromEmail mail.Address

		Server   ServerConfig
		Database DatabaseConfig
		Billing  BillingConfig
		Enroll   EnrollConfig

		SendgridApiKey string
		RollbarToken   string
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
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

	BillingConfig struct {
		StripeSecretKey     string
		StripeWebhookSecret string
		Currency            string
		SuccessURL          string
		CancelURL           string
	}

	EnrollConfig struct {
		// TestMode bypasses the payment provider and confirms priced
		// enrollments with the TEST status.
		TestMode bool
		// PendingTTL is how long a PENDING enrollment/registration may wait
		// for its checkout session to resolve before the sweeper cancels it.
		// Zero disables the sweep.
		PendingTTL    time.Duration
		SweepInterval time.Duration
		// ReleaseSeatOnLeave decrements the seat counter when a CONFIRMED
		// enrollment/registration is left. Off by default: a paid seat stays
		// counted until an admin reopens it.
		ReleaseSeatOnLeave bool
	}
)

func (dc DatabaseConfig) Address() string {
	return dc.Host + ":" + dc.Port
}

func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Shule")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "y2x)#*c2(#yg4h^$cegm2emypoq5-wer)enb$+57=dz&uoxh2(h!")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")

	conf.SetDefault("serverHost", "0.0.0.0:8000")
	conf.SetDefault("serverDebugHost", "0.0.0.0:4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", "5432")
	conf.SetDefault("databaseName", "shule")
	conf.SetDefault("databaseUser", "shule")
	conf.SetDefault("databasePassword", "")
	conf.SetDefault("databaseAdminUser", "")
	conf.SetDefault("databaseAdminPassword", "")
	conf.SetDefault("databaseDisableTLS", true)

	conf.SetDefault("stripeSecretKey", "")
	conf.SetDefault("stripeWebhookSecret", "")
	conf.SetDefault("billingCurrency", "usd")
	conf.SetDefault("billingSuccessURL", "")
	conf.SetDefault("billingCancelURL", "")

	conf.SetDefault("enrollTestMode", false)
	conf.SetDefault("enrollPendingTTL", 24*time.Hour)
	conf.SetDefault("enrollSweepInterval", 10*time.Minute)
	conf.SetDefault("enrollReleaseSeatOnLeave", false)

	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")

	env := os.Getenv("ENV")
	var testMode bool
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         testMode,
		SecretKey:        conf.GetString("secretKey"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		WorkDir:          wd,
		DefaultFromEmail: mail.Address{Address: conf.GetString("defaultFromEmail")},
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			DebugHost:                 conf.GetString("serverDebugHost"),
			ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("databaseEngine"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetString("databasePort"),
			Name:          conf.GetString("databaseName"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			DisableTLS:    conf.GetBool("databaseDisableTLS"),
		},
		Billing: BillingConfig{
			StripeSecretKey:     conf.GetString("stripeSecretKey"),
			StripeWebhookSecret: conf.GetString("stripeWebhookSecret"),
			Currency:            conf.GetString("billingCurrency"),
			SuccessURL:          conf.GetString("billingSuccessURL"),
			CancelURL:           conf.GetString("billingCancelURL"),
		},
		Enroll: EnrollConfig{
			TestMode:           conf.GetBool("enrollTestMode"),
			PendingTTL:         conf.GetDuration("enrollPendingTTL"),
			SweepInterval:      conf.GetDuration("enrollSweepInterval"),
			ReleaseSeatOnLeave: conf.GetBool("enrollReleaseSeatOnLeave"),
		},
		SendgridApiKey: conf.GetString("sendgridApiKey"),
		RollbarToken:   conf.GetString("rollbarToken"),
	}
	if c.Billing.SuccessURL == "" {
		c.Billing.SuccessURL = c.FrontendBaseURL + "/checkout/success"
	}
	if c.Billing.CancelURL == "" {
		c.Billing.CancelURL = c.FrontendBaseURL + "/checkout/cancelled"
	}
	return c
}
