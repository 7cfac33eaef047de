package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/assignx/assignx-backend/pkg/models"
)

// Config holds the business knobs of the lifecycle engine. Everything here
// is configuration, not code: commission and platform rates intentionally
// come from config per quote and are snapshotted onto the Quote row.
type Config struct {
	RatePerWordCents int64
	RatePerPageCents int64

	CommissionRate  float64
	PlatformFeeRate float64

	UrgencyMultipliers map[models.UrgencyTier]float64

	MaxRevisions      int
	AutoApproveWindow time.Duration

	PaymentWebhookSecret string
	AdminSecret          string
	NotifyWebhookURL     string
}

// Load reads configuration from the environment (ASSIGNX_* keys), optionally
// merged over an assignx.yaml in the working directory. Missing keys fall
// back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("assignx")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("pricing.rate_per_word_cents", 50)
	v.SetDefault("pricing.rate_per_page_cents", 15000)
	v.SetDefault("pricing.commission_rate", 0.15)
	v.SetDefault("pricing.platform_fee_rate", 0.20)
	v.SetDefault("pricing.urgency.24h", 1.5)
	v.SetDefault("pricing.urgency.48h", 1.3)
	v.SetDefault("pricing.urgency.72h", 1.15)
	v.SetDefault("pricing.urgency.standard", 1.0)

	v.SetDefault("revisions.max", 3)
	v.SetDefault("delivery.auto_approve_hours", 72)

	v.SetConfigName("assignx")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		RatePerWordCents: v.GetInt64("pricing.rate_per_word_cents"),
		RatePerPageCents: v.GetInt64("pricing.rate_per_page_cents"),
		CommissionRate:   v.GetFloat64("pricing.commission_rate"),
		PlatformFeeRate:  v.GetFloat64("pricing.platform_fee_rate"),
		UrgencyMultipliers: map[models.UrgencyTier]float64{
			models.Urgency24h:      v.GetFloat64("pricing.urgency.24h"),
			models.Urgency48h:      v.GetFloat64("pricing.urgency.48h"),
			models.Urgency72h:      v.GetFloat64("pricing.urgency.72h"),
			models.UrgencyStandard: v.GetFloat64("pricing.urgency.standard"),
		},
		MaxRevisions:         v.GetInt("revisions.max"),
		AutoApproveWindow:    time.Duration(v.GetInt("delivery.auto_approve_hours")) * time.Hour,
		PaymentWebhookSecret: v.GetString("payment.webhook_secret"),
		AdminSecret:          v.GetString("admin.secret"),
		NotifyWebhookURL:     v.GetString("notify.webhook_url"),
	}
	return cfg, nil
}
