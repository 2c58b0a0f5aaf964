// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Operating modes. Sandbox short-circuits all provider calls; live talks to
// the real provider and requires credentials. The mode is an explicit switch:
// a live configuration with missing credentials is a startup error, never a
// silent fallback to sandbox behaviour.
const (
	ModeLive    = "live"
	ModeSandbox = "sandbox"
)

// Provider holds payment-provider endpoints and credentials.
type Provider struct {
	TokenURL     string
	APIURL       string
	ClientID     string
	ClientSecret string
	Resource     string
	Currency     string
}

// EmailJS holds email-delivery API credentials. ServiceID or PublicKey left
// empty disables the email sink.
type EmailJS struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
}

// Config is the full service configuration.
type Config struct {
	Port        string
	Mode        string
	DBPath      string
	OrderFormID string
	Provider    Provider
	EmailJS     EmailJS
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("TICKETPAY_MODE", ModeSandbox),
		DBPath:      getEnv("DB_PATH", ""),
		OrderFormID: getEnv("ORDER_FORM_ID", ""),
		Provider: Provider{
			TokenURL:     getEnv("PROVIDER_TOKEN_URL", "https://login.microsoftonline.com/appypaydev.onmicrosoft.com/oauth2/token"),
			APIURL:       getEnv("PROVIDER_API_URL", "https://gwy-api-tst.appypay.co.ao/v1"),
			ClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
			Resource:     getEnv("PROVIDER_RESOURCE", "https://appypaydev.onmicrosoft.com/appypay-payment-gateway"),
			Currency:     getEnv("PROVIDER_CURRENCY", "AOA"),
		},
		EmailJS: EmailJS{
			ServiceID:  getEnv("EMAILJS_SERVICE_ID", ""),
			TemplateID: getEnv("EMAILJS_TEMPLATE_ID", "template_ticket"),
			PublicKey:  getEnv("EMAILJS_PUBLIC_KEY", ""),
			PrivateKey: getEnv("EMAILJS_PRIVATE_KEY", ""),
		},
	}

	if cfg.Mode != ModeLive && cfg.Mode != ModeSandbox {
		return nil, fmt.Errorf("config: TICKETPAY_MODE must be %q or %q, got %q", ModeLive, ModeSandbox, cfg.Mode)
	}
	if cfg.Mode == ModeLive && (cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "") {
		return nil, fmt.Errorf("config: live mode requires PROVIDER_CLIENT_ID and PROVIDER_CLIENT_SECRET")
	}

	return cfg, nil
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
