// Package ingest implements the gateway's ingest operation.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"sparrow-api/internal/database"
	"sparrow-api/internal/engine"
	"sparrow-api/internal/keys"
	"sparrow-api/internal/metrics"
	"sparrow-api/internal/setup"
	"sparrow-api/internal/shared"

	"github.com/labstack/echo/v4"
)

const endpoint = "ingest"

type IngestHandler struct {
	Runner    engine.IngestRunner
	Keys      *keys.Set
	Protected bool
	DB        *sql.DB
}

func NewIngestHandler(runner engine.IngestRunner, keySet *keys.Set, protected bool, db *sql.DB) *IngestHandler {
	return &IngestHandler{
		Runner:    runner,
		Keys:      keySet,
		Protected: protected,
		DB:        db,
	}
}

func (h *IngestHandler) Ingest(cc echo.Context) error {
	c := cc.(*setup.Context)
	start := time.Now()

	agent := c.FormValue("agent")
	indexName := c.FormValue("index_name")
	if agent == "" {
		return respondError(c, shared.ErrMissingAgent)
	}
	if indexName == "" {
		return respondError(c, shared.ErrMissingIndexName)
	}

	if h.Protected && !h.Keys.Contains(c.FormValue("sparrow_key")) {
		metrics.EngineErrors.WithLabelValues(endpoint, "forbidden").Inc()
		return respondError(c, shared.ErrForbiddenAccess)
	}

	file, err := readUpload(c)
	if err != nil {
		c.Log.Errorw("Failed reading uploaded file", "error", err)
		return respondError(c, shared.ErrBadRequest)
	}
	if file == nil {
		return respondError(c, shared.ErrMissingFile)
	}
	metrics.IngestFileBytes.Observe(float64(len(file.Content)))

	// The trailing debug flag is always false here, matching the upstream
	// pipeline's call contract.
	raw, runErr := h.Runner.RunIngest(c.Request().Context(), engine.IngestParams{
		Agent:     agent,
		IndexName: indexName,
		File:      file,
		Debug:     false,
	})
	if runErr != nil {
		if verr, ok := engine.AsValueError(runErr); ok {
			metrics.EngineErrors.WithLabelValues(endpoint, "value_error").Inc()
			h.audit(c, agent, indexName, 418, start)
			return c.JSON(418, shared.ErrorResponse{Detail: verr.Msg})
		}
		c.Log.Errorw("Ingest delegate failed", "error", runErr)
		metrics.EngineErrors.WithLabelValues(endpoint, "engine_error").Inc()
		h.audit(c, agent, indexName, 500, start)
		return respondError(c, shared.ErrInternalServerError)
	}

	var answer any
	if err := json.Unmarshal(raw, &answer); err != nil {
		metrics.EngineErrors.WithLabelValues(endpoint, "unparsable").Inc()
		h.audit(c, agent, indexName, 418, start)
		return c.JSON(418, shared.ErrorResponse{Detail: string(raw)})
	}

	metrics.RequestCount.WithLabelValues(endpoint, "success").Inc()
	h.audit(c, agent, indexName, 200, start)
	return c.JSON(200, shared.MessageResponse{Message: answer})
}

func (h *IngestHandler) audit(c *setup.Context, agent, indexName string, status int, start time.Time) {
	if h.DB == nil {
		return
	}
	rec := database.RequestRecord{
		RequestID: c.Reqid,
		Endpoint:  endpoint,
		Agent:     agent,
		IndexName: indexName,
		Status:    status,
		Duration:  time.Since(start),
		CreatedAt: start,
	}
	go database.SaveRequest(context.Background(), h.DB, rec, c.Log)
}

func respondError(c *setup.Context, rerr *shared.RequestError) error {
	metrics.RequestCount.WithLabelValues(endpoint, "error").Inc()
	return c.JSON(rerr.StatusCode, shared.ErrorResponse{Detail: rerr.Err.Error()})
}

func readUpload(c *setup.Context) (*engine.Upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()
	content, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &engine.Upload{Filename: fh.Filename, Content: content}, nil
}
