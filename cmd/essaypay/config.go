package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/essaypay/internal/handlers/merchant"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/service/account"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProduction
	defaultMerchantLogin = merchant.DefaultLogin
	defaultFreeCredits   = account.DefaultFreeCredits
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Service tokens of the front-end API are signed with it
	SecretKey string

	// Environment
	Environment string

	// Credentials the gateway uses when calling us back
	MerchantLogin string
	MerchantKey   string

	// Merchant id we present to the gateway
	MerchantID string

	// Gateway merchant API endpoint
	GatewayURL string

	// Where the payer is sent after paying
	ReturnURL string

	// Credits every new account starts with
	FreeCredits int64
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		ListenAddr:    defaultListenAddr,
		Environment:   defaultEnvironment,
		MerchantLogin: defaultMerchantLogin,
		FreeCredits:   defaultFreeCredits,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt64 := func(o *int64) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":    setString(&c.ListenAddr),
		"DATABASE_URI":   setString(&c.DatabaseDSN),
		"SECRET_KEY":     setString(&c.SecretKey),
		"LOG_LEVEL":      setString(&c.LogLevel),
		"ENVIRONMENT":    setString(&c.Environment),
		"MERCHANT_LOGIN": setString(&c.MerchantLogin),
		"MERCHANT_KEY":   setString(&c.MerchantKey),
		"MERCHANT_ID":    setString(&c.MerchantID),
		"GATEWAY_URL":    setString(&c.GatewayURL),
		"RETURN_URL":     setString(&c.ReturnURL),
		"FREE_CREDITS":   setInt64(&c.FreeCredits),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("essaypay", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.MerchantLogin, "merchant-login", c.MerchantLogin, "Login the gateway authenticates callbacks with")
	fs.StringVar(&c.MerchantKey, "merchant-key", c.MerchantKey, "Merchant key shared with the gateway")
	fs.StringVar(&c.MerchantID, "merchant-id", c.MerchantID, "Merchant id at the gateway")
	fs.StringVarP(&c.GatewayURL, "gateway", "g", c.GatewayURL, "Gateway merchant API URL")
	fs.StringVar(&c.ReturnURL, "return-url", c.ReturnURL, "Where the payer lands after paying")
	fs.Int64Var(&c.FreeCredits, "free-credits", c.FreeCredits, "Credits every new account starts with")

	return fs.Parse(args)
}

// Check options the service can't start without
func (c *Config) Validate() error {
	var errs []error

	required := map[string]string{
		"database":     c.DatabaseDSN,
		"secret-key":   c.SecretKey,
		"merchant-key": c.MerchantKey,
		"gateway":      c.GatewayURL,
	}
	for name, value := range required {
		if value == "" {
			errs = append(errs, fmt.Errorf("option %q must be set", name))
		}
	}

	if c.FreeCredits < 0 {
		errs = append(errs, fmt.Errorf("free credits must not be negative, got %d", c.FreeCredits))
	}

	return errors.Join(errs...)
}
