/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the donation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string  `mapstructure:"SERVER_PORT"`
	DatabaseURL            string  `mapstructure:"DATABASE_URL"`
	RedisURL               string  `mapstructure:"REDIS_URL"`
	RedisClaimPrefix       string  `mapstructure:"REDIS_CLAIM_PREFIX"`
	RedisClaimTTLMinutes   int     `mapstructure:"REDIS_CLAIM_TTL_MINUTES"`
	RabbitMQURL            string  `mapstructure:"RABBITMQ_URL"`
	DonationEventQueue     string  `mapstructure:"DONATION_EVENT_QUEUE"`
	AdminJWKSURL           string  `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey         string  `mapstructure:"INTERNAL_API_KEY"`
	NotificationServiceURL string  `mapstructure:"NOTIFICATION_SERVICE_URL"`
	PersonalPercent        float64 `mapstructure:"COMMISSION_PERSONAL_PERCENT"`
	VolunteerParentPercent float64 `mapstructure:"COMMISSION_VOLUNTEER_PARENT_PERCENT"`
	AncestorLevelPercent   float64 `mapstructure:"COMMISSION_ANCESTOR_LEVEL_PERCENT"`
	MaxHierarchyDepth      int     `mapstructure:"MAX_HIERARCHY_DEPTH"`
	SyntheticRootID        string  `mapstructure:"SYNTHETIC_ROOT_ID"`
	ReconcileJobSchedule   string  `mapstructure:"BALANCE_RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DONATION_EVENT_QUEUE", "donation_service.payment_verified")
	viper.SetDefault("REDIS_CLAIM_PREFIX", "sahyog:donation_claim")
	viper.SetDefault("REDIS_CLAIM_TTL_MINUTES", 1440)
	viper.SetDefault("COMMISSION_PERSONAL_PERCENT", 15.0)
	viper.SetDefault("COMMISSION_VOLUNTEER_PARENT_PERCENT", 5.0)
	viper.SetDefault("COMMISSION_ANCESTOR_LEVEL_PERCENT", 2.0)
	viper.SetDefault("MAX_HIERARCHY_DEPTH", 20)
	viper.SetDefault("BALANCE_RECONCILE_SCHEDULE", "0 3 * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DONATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_CLAIM_PREFIX")
	_ = viper.BindEnv("REDIS_CLAIM_TTL_MINUTES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DONATION_EVENT_QUEUE")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "DONATION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("NOTIFICATION_SERVICE_URL")
	_ = viper.BindEnv("COMMISSION_PERSONAL_PERCENT")
	_ = viper.BindEnv("COMMISSION_VOLUNTEER_PARENT_PERCENT")
	_ = viper.BindEnv("COMMISSION_ANCESTOR_LEVEL_PERCENT")
	_ = viper.BindEnv("MAX_HIERARCHY_DEPTH")
	_ = viper.BindEnv("SYNTHETIC_ROOT_ID")
	_ = viper.BindEnv("BALANCE_RECONCILE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("DONATION_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisClaimPrefix = strings.TrimSpace(config.RedisClaimPrefix)
	if config.RedisClaimPrefix == "" {
		config.RedisClaimPrefix = "sahyog:donation_claim"
	}
	if config.RedisClaimTTLMinutes <= 0 {
		config.RedisClaimTTLMinutes = 1440
	}

	if config.MaxHierarchyDepth <= 0 || config.MaxHierarchyDepth > 100 {
		log.Printf("level=warn component=config msg=\"hierarchy depth out of range; using default\" depth=%d", config.MaxHierarchyDepth)
		config.MaxHierarchyDepth = 20
	}

	config.PersonalPercent = clampPercent("COMMISSION_PERSONAL_PERCENT", config.PersonalPercent, 15.0)
	config.VolunteerParentPercent = clampPercent("COMMISSION_VOLUNTEER_PARENT_PERCENT", config.VolunteerParentPercent, 5.0)
	config.AncestorLevelPercent = clampPercent("COMMISSION_ANCESTOR_LEVEL_PERCENT", config.AncestorLevelPercent, 2.0)

	// A distribution whose shares could exceed the donation would make the
	// organization fund negative; fall back to the standard rates.
	if config.PersonalPercent+float64(config.MaxHierarchyDepth)*config.AncestorLevelPercent > 100 ||
		config.VolunteerParentPercent+float64(config.MaxHierarchyDepth-1)*config.AncestorLevelPercent > 100 {
		log.Printf("level=warn component=config msg=\"configured rates could exceed 100%% of a donation; using defaults\" personal=%.1f volunteer_parent=%.1f ancestor=%.1f depth=%d",
			config.PersonalPercent, config.VolunteerParentPercent, config.AncestorLevelPercent, config.MaxHierarchyDepth)
		config.PersonalPercent = 15.0
		config.VolunteerParentPercent = 5.0
		config.AncestorLevelPercent = 2.0
	}

	if strings.TrimSpace(config.ReconcileJobSchedule) == "" {
		config.ReconcileJobSchedule = "0 3 * * *"
	}

	return
}

// clampPercent keeps a commission percentage inside [0, 100], falling back to
// the standard rate when the configured value is unusable.
func clampPercent(name string, value, fallback float64) float64 {
	if value < 0 || value > 100 {
		log.Printf("level=warn component=config msg=\"percentage out of range; using default\" key=%s value=%.2f default=%.2f", name, value, fallback)
		return fallback
	}
	return value
}
