package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sparrow-api/internal/cache"
	"sparrow-api/internal/config"
	"sparrow-api/internal/engine"
	"sparrow-api/internal/keys"
	"sparrow-api/internal/middleware"
	"sparrow-api/internal/routers"
	"sparrow-api/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	var port int
	flag.IntVar(&port, "port", shared.DefaultPort, "Port to listen on")
	flag.IntVar(&port, "p", shared.DefaultPort, "Port to listen on (shorthand)")
	configPath := flag.String("config", shared.DefaultConfigPath, "Path to the YAML config file")
	engineURL := flag.String("engine-url", "", "Inference engine endpoint")
	ingestURL := flag.String("ingest-url", "", "Ingest engine endpoint")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for the answer cache, empty disables")
	dsn := flag.String("dsn", "", "MySQL DSN for the request audit log, empty disables")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed loading config: %s", err))
	}

	// Valid access keys are read once; restart to pick up new keys.
	keySet := keys.FromEnvironment(shared.AccessKeyPrefix)

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	// Optional answer cache
	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
	}

	// Optional audit log
	var db *sql.DB
	if *dsn != "" {
		db, err = sql.Open("mysql", *dsn)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		if err := db.Ping(); err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}
	}

	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}()

	client := engine.NewClient(*engineURL, *ingestURL, log)

	e := echo.New()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	err = routers.RegisterSparrowRoutes(base, routers.SparrowRouterConfig{
		InferenceRunner: client,
		IngestRunner:    client,
		Keys:            keySet,
		Protected:       cfg.ProtectedAccess,
		Cache:           cache.New(redisClient, shared.AnswerCacheTTL, log),
		DB:              db,
	})
	if err != nil {
		panic(err)
	}
	log.Infow("Sparrow LLM API starting", "port", port, "protected_access", cfg.ProtectedAccess, "keys_loaded", keySet.Len())

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
