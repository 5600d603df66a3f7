package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	FixturePath    string        `mapstructure:"FIXTURE_PATH"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	GeocoderURL        string        `mapstructure:"GEOCODER_URL"`
	GeocoderUserAgent  string        `mapstructure:"GEOCODER_USER_AGENT"`
	GeocoderRatePerSec float64       `mapstructure:"GEOCODER_RATE_PER_SEC"`
	GeocoderTimeout    time.Duration `mapstructure:"GEOCODER_TIMEOUT"`
	GeocodeBatchSize   int           `mapstructure:"GEOCODE_BATCH_SIZE"`
	GeocodeBatchPause  time.Duration `mapstructure:"GEOCODE_BATCH_PAUSE"`

	RoutingURL       string        `mapstructure:"ROUTING_URL"`
	RoutingAPIKey    string        `mapstructure:"ROUTING_API_KEY"`
	RoutingTimeout   time.Duration `mapstructure:"ROUTING_TIMEOUT"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	DistanceCacheTTL time.Duration `mapstructure:"DISTANCE_CACHE_TTL"`
	TrafficCacheTTL  time.Duration `mapstructure:"TRAFFIC_CACHE_TTL"`
	MatrixChunkPause time.Duration `mapstructure:"MATRIX_CHUNK_PAUSE"`

	SkillAliasesPath string `mapstructure:"SKILL_ALIASES_PATH"`
	SkillMatchMode   string `mapstructure:"SKILL_MATCH_MODE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("FIXTURE_PATH", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("GEOCODER_USER_AGENT", "fieldcrew-dispatch/1.0 (ops@fieldcrew.example)")
	v.SetDefault("GEOCODER_RATE_PER_SEC", 5)
	v.SetDefault("GEOCODER_TIMEOUT", "10s")
	v.SetDefault("GEOCODE_BATCH_SIZE", 5)
	v.SetDefault("GEOCODE_BATCH_PAUSE", "1s")

	v.SetDefault("ROUTING_URL", "https://maps.googleapis.com/maps/api/distancematrix/json")
	v.SetDefault("ROUTING_API_KEY", "")
	v.SetDefault("ROUTING_TIMEOUT", "10s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DISTANCE_CACHE_TTL", "24h")
	v.SetDefault("TRAFFIC_CACHE_TTL", "15m")
	v.SetDefault("MATRIX_CHUNK_PAUSE", "200ms")

	v.SetDefault("SKILL_ALIASES_PATH", "")
	v.SetDefault("SKILL_MATCH_MODE", "exact")
}
