// Package routers
package routers

import (
	"database/sql"

	"sparrow-api/internal/cache"
	"sparrow-api/internal/engine"
	"sparrow-api/internal/handlers/inference"
	"sparrow-api/internal/handlers/ingest"
	"sparrow-api/internal/keys"
	"sparrow-api/internal/shared"

	"github.com/labstack/echo/v4"
)

type SparrowRouterConfig struct {
	InferenceRunner engine.InferenceRunner
	IngestRunner    engine.IngestRunner
	Keys            *keys.Set
	Protected       bool
	Cache           *cache.AnswerCache
	DB              *sql.DB
}

func RegisterSparrowRoutes(e *echo.Group, cfg SparrowRouterConfig) error {
	ih := inference.NewInferenceHandler(cfg.InferenceRunner, cfg.Keys, cfg.Protected, cfg.Cache, cfg.DB)
	gh := ingest.NewIngestHandler(cfg.IngestRunner, cfg.Keys, cfg.Protected, cfg.DB)

	e.GET("/", Root)
	v1 := e.Group("/api/v1/sparrow-llm")
	v1.POST("/inference", ih.Inference)
	v1.POST("/ingest", gh.Ingest)
	return nil
}

func Root(cc echo.Context) error {
	return cc.JSON(200, shared.MessageResponse{Message: "Sparrow LLM API"})
}
