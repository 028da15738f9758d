package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/authority"
	"github.com/rbaliyan/inbox/store"
	"github.com/rbaliyan/inbox/store/bolt"
	"github.com/rbaliyan/inbox/store/memory"
	mongostore "github.com/rbaliyan/inbox/store/mongo"
	otelstore "github.com/rbaliyan/inbox/store/otel"
	"github.com/rbaliyan/inbox/store/postgres"
	redisstore "github.com/rbaliyan/inbox/store/redis"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// config is the resolved command configuration.
type config struct {
	Backend       string
	BoltPath      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
	Caller        string
	Migrator      string
	Authority     string
	Events        string
	OTel          bool
	LogLevel      string
}

func loadConfig(v *viper.Viper) *config {
	return &config{
		Backend:       strings.ToLower(v.GetString("backend")),
		BoltPath:      v.GetString("bolt.path"),
		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),
		PostgresDSN:   v.GetString("postgres.dsn"),
		MongoURI:      v.GetString("mongo.uri"),
		MongoDatabase: v.GetString("mongo.database"),
		Caller:        v.GetString("caller"),
		Migrator:      v.GetString("migrator"),
		Authority:     strings.ToLower(v.GetString("authority")),
		Events:        strings.ToLower(v.GetString("events")),
		OTel:          v.GetBool("otel"),
		LogLevel:      v.GetString("log_level"),
	}
}

func (c *config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// env holds the connected service and everything that must be released
// with it.
type env struct {
	cfg       *config
	svc       inbox.Service
	authority interface {
		inbox.Authority
		SetMigrator(ctx context.Context, account inbox.Account) error
	}
	closers []func(context.Context) error
}

func (e *env) Close(ctx context.Context) error {
	var errs []error
	if e.svc != nil {
		errs = append(errs, e.svc.Close(ctx))
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (e *env) redisClient() *redis.Client {
	c := redis.NewClient(&redis.Options{
		Addr:     e.cfg.RedisAddr,
		Password: e.cfg.RedisPassword,
		DB:       e.cfg.RedisDB,
	})
	e.closers = append(e.closers, func(context.Context) error { return c.Close() })
	return c
}

// open builds the store, authority and service described by v and connects.
func open(ctx context.Context, v *viper.Viper) (*env, error) {
	cfg := loadConfig(v)
	logger := cfg.logger()
	e := &env{cfg: cfg}

	s, err := e.openStore(ctx, logger)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}

	if err := e.openAuthority(logger); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}

	opts := []inbox.Option{
		inbox.WithStore(s),
		inbox.WithAuthority(e.authority),
		inbox.WithLogger(logger),
		inbox.WithServiceName("inboxctl"),
		inbox.WithOTel(cfg.OTel),
	}
	switch cfg.Events {
	case "", "noop":
	case "redis":
		opts = append(opts, inbox.WithRedisClient(e.redisClient()))
	default:
		_ = e.Close(ctx)
		return nil, fmt.Errorf("unknown event transport %q", cfg.Events)
	}

	svc, err := inbox.NewService(opts...)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	if err := svc.Connect(ctx); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	e.svc = svc
	return e, nil
}

func (e *env) openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	var s store.Store
	switch e.cfg.Backend {
	case "", "memory":
		s = memory.New()
	case "bolt":
		s = bolt.New(e.cfg.BoltPath, bolt.WithLogger(logger))
	case "redis":
		s = redisstore.New(e.redisClient(), redisstore.WithLogger(logger))
	case "postgres":
		if e.cfg.PostgresDSN == "" {
			return nil, errors.New("--postgres-dsn is required for the postgres backend")
		}
		db, err := sqlx.ConnectContext(ctx, "postgres", e.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		e.closers = append(e.closers, func(context.Context) error { return db.Close() })
		s = postgres.New(db, postgres.WithLogger(logger))
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(e.cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		e.closers = append(e.closers, client.Disconnect)
		s = mongostore.New(client, mongostore.WithDatabase(e.cfg.MongoDatabase), mongostore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown backend %q", e.cfg.Backend)
	}

	if e.cfg.OTel {
		return otelstore.New(s, otelstore.WithServiceName("inboxctl"))
	}
	return s, nil
}

func (e *env) openAuthority(logger *slog.Logger) error {
	switch e.cfg.Authority {
	case "", "static":
		var migrators []inbox.Account
		if e.cfg.Migrator != "" {
			m, err := store.ParseAccount(e.cfg.Migrator)
			if err != nil {
				return fmt.Errorf("--migrator: %w", err)
			}
			migrators = append(migrators, m)
		}
		e.authority = authority.NewStatic(migrators...)
	case "redis":
		e.authority = authority.NewRedis(e.redisClient(), authority.WithLogger(logger))
	default:
		return fmt.Errorf("unknown authority %q", e.cfg.Authority)
	}
	return nil
}

// caller parses the --caller account.
func (e *env) caller() (inbox.Account, error) {
	return requireAccount("--caller", e.cfg.Caller)
}

// migrator parses the --migrator account.
func (e *env) migrator() (inbox.Account, error) {
	return requireAccount("--migrator", e.cfg.Migrator)
}

func requireAccount(name, value string) (inbox.Account, error) {
	if value == "" {
		return inbox.Account{}, fmt.Errorf("%s is required", name)
	}
	a, err := store.ParseAccount(value)
	if err != nil {
		return inbox.Account{}, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}
