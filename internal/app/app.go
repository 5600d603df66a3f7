package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fieldcrew/backend/internal/config"
	"github.com/fieldcrew/backend/internal/db"
	"github.com/fieldcrew/backend/internal/distance"
	"github.com/fieldcrew/backend/internal/geocode"
	"github.com/fieldcrew/backend/internal/models"
	"github.com/fieldcrew/backend/internal/service"
)

// ProposalStore persists and reads back scheduling proposals.
type ProposalStore interface {
	service.ProposalSink
	GetProposal(ctx context.Context, id string) (models.Proposal, error)
}

// Repository is everything the dispatch service needs from storage.
type Repository interface {
	service.JobRepository
	service.WorkerRepository
	service.CrewRepository
	ProposalStore
}

var (
	_ Repository = (*db.Store)(nil)
	_ Repository = (*db.Memory)(nil)
)

// App holds the wired components shared by the HTTP server and the CLI.
type App struct {
	Config config.Config
	Logger zerolog.Logger

	Repo Repository
	// Store is nil when running on the in-memory repository.
	Store  *db.Store
	Memory *db.Memory
	Redis  redis.UniversalClient

	Geocoder     *geocode.Nominatim
	Distance     *distance.Estimator
	Availability *service.AvailabilityChecker
	Scheduler    *service.Engine
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	aliases, err := service.LoadSkillAliases(cfg.SkillAliasesPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	mode, err := service.ParseMatchMode(cfg.SkillMatchMode)
	if err != nil {
		a.Close()
		return nil, err
	}

	driving, traffic := a.openCaches(ctx)
	a.Geocoder = geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderTimeout, cfg.GeocoderRatePerSec, logger)
	a.Distance = distance.NewEstimator(distance.Options{
		BaseURL:      cfg.RoutingURL,
		APIKey:       cfg.RoutingAPIKey,
		Client:       &http.Client{Timeout: cfg.RoutingTimeout},
		DrivingCache: driving,
		TrafficCache: traffic,
		DrivingTTL:   cfg.DistanceCacheTTL,
		TrafficTTL:   cfg.TrafficCacheTTL,
		ChunkPause:   cfg.MatrixChunkPause,
		Logger:       logger,
	})
	a.Availability = service.NewAvailabilityChecker(a.Repo, logger)
	a.Scheduler = &service.Engine{
		Jobs:             a.Repo,
		Workers:          a.Repo,
		Crews:            a.Repo,
		Proposals:        a.Repo,
		Availability:     a.Availability,
		Scoring:          service.NewScoringEngine(aliases, mode),
		Geocoder:         a.Geocoder,
		Logger:           logger,
		GeocodeBatchSize: cfg.GeocodeBatchSize,
	}

	logger.Info().
		Bool("postgres", a.Store != nil).
		Bool("redis", a.Redis != nil).
		Bool("routing_provider", a.Distance.HasProvider()).
		Int("skill_alias_version", aliases.Version).
		Str("skill_match_mode", string(mode)).
		Msg("dispatch components ready")
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		m := db.NewMemory()
		if a.Config.FixturePath != "" {
			var err error
			m, err = db.LoadFixtureFile(a.Config.FixturePath)
			if err != nil {
				return err
			}
		}
		a.Memory = m
		a.Repo = m
		a.Logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return nil
	}

	store, err := db.New(ctx, a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("migrate db: %w", err)
	}
	a.Store = store
	a.Repo = store
	return nil
}

// openCaches returns Redis-backed caches when REDIS_URL is set and reachable,
// in-process caches otherwise.
func (a *App) openCaches(ctx context.Context) (distance.Cache, distance.Cache) {
	if a.Config.RedisURL == "" {
		return distance.NewMemoryCache(), distance.NewMemoryCache()
	}
	client, err := distance.DialRedis(ctx, a.Config.RedisURL)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable, using in-process distance caches")
		return distance.NewMemoryCache(), distance.NewMemoryCache()
	}
	a.Redis = client
	return distance.NewRedisCache(client, "dist:"), distance.NewRedisCache(client, "traffic:")
}

// Ping reports whether the backing stores are reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
