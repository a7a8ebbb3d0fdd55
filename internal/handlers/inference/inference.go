// Package inference implements the gateway's inference operation: validate
// and normalize the multipart form, delegate to the inference runner, and
// translate the answer into a JSON response.
package inference

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"sparrow-api/internal/cache"
	"sparrow-api/internal/database"
	"sparrow-api/internal/engine"
	"sparrow-api/internal/keys"
	"sparrow-api/internal/metrics"
	"sparrow-api/internal/setup"
	"sparrow-api/internal/shared"

	"github.com/labstack/echo/v4"
)

const endpoint = "inference"

// AnswerCache is the handler's view of the answer cache, satisfied by
// *cache.AnswerCache.
type AnswerCache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, answer any)
}

type InferenceHandler struct {
	Runner    engine.InferenceRunner
	Keys      *keys.Set
	Protected bool
	Cache     AnswerCache
	DB        *sql.DB
}

func NewInferenceHandler(runner engine.InferenceRunner, keySet *keys.Set, protected bool, answerCache AnswerCache, db *sql.DB) *InferenceHandler {
	return &InferenceHandler{
		Runner:    runner,
		Keys:      keySet,
		Protected: protected,
		Cache:     answerCache,
		DB:        db,
	}
}

// Query builds the delegate query from the fields and types parameters.
// When types is present the query gets a "retrieve " prefix and both
// parameters are tokenized; when absent, fields is passed through verbatim
// and both token slices stay empty. The downstream pipeline depends on this
// asymmetry.
func Query(fields, types string) (query string, fieldTokens, typeTokens []string) {
	if types == "" {
		return fields, []string{}, []string{}
	}
	return "retrieve " + fields, shared.SplitTrimmed(fields), shared.SplitTrimmed(types)
}

func (h *InferenceHandler) Inference(cc echo.Context) error {
	c := cc.(*setup.Context)
	start := time.Now()

	fields := c.FormValue("fields")
	agent := c.FormValue("agent")
	if fields == "" {
		return respondError(c, shared.ErrMissingFields)
	}
	if agent == "" {
		return respondError(c, shared.ErrMissingAgent)
	}

	if h.Protected && !h.Keys.Contains(c.FormValue("sparrow_key")) {
		metrics.EngineErrors.WithLabelValues(endpoint, "forbidden").Inc()
		return respondError(c, shared.ErrForbiddenAccess)
	}

	indexName := c.FormValue("index_name")
	query, fieldTokens, typeTokens := Query(fields, c.FormValue("types"))
	keywordTokens := shared.SplitTrimmed(c.FormValue("keywords"))
	optionTokens := shared.SplitTrimmed(c.FormValue("options"))
	debug := shared.ParseBool(c.FormValue("debug"), false)

	file, err := readUpload(c)
	if err != nil {
		c.Log.Errorw("Failed reading uploaded file", "error", err)
		return respondError(c, shared.ErrBadRequest)
	}

	params := engine.InferenceParams{
		Agent:         agent,
		Fields:        fieldTokens,
		Types:         typeTokens,
		Keywords:      keywordTokens,
		Query:         query,
		IndexName:     indexName,
		Options:       optionTokens,
		File:          file,
		GroupByRows:   shared.ParseBool(c.FormValue("group_by_rows"), true),
		UpdateTargets: shared.ParseBool(c.FormValue("update_targets"), true),
		Debug:         debug,
	}

	cacheKey := cache.Key(params)
	if file == nil && h.Cache != nil {
		if answer, ok := h.Cache.Get(c.Request().Context(), cacheKey); ok {
			metrics.CacheHits.WithLabelValues(endpoint).Inc()
			if debug {
				c.Log.Infow("JSON response", "answer", answer)
			}
			metrics.RequestCount.WithLabelValues(endpoint, "success").Inc()
			h.audit(c, agent, indexName, 200, start)
			return c.JSON(200, shared.MessageResponse{Message: answer})
		}
	}

	raw, runErr := h.Runner.RunInference(c.Request().Context(), params)
	if runErr != nil {
		if verr, ok := engine.AsValueError(runErr); ok {
			metrics.EngineErrors.WithLabelValues(endpoint, "value_error").Inc()
			h.audit(c, agent, indexName, 418, start)
			return c.JSON(418, shared.ErrorResponse{Detail: verr.Msg})
		}
		c.Log.Errorw("Inference delegate failed", "error", runErr)
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

	if debug {
		c.Log.Infow("JSON response", "answer", answer)
	}

	if file == nil && h.Cache != nil {
		h.Cache.Set(c.Request().Context(), cacheKey, answer)
	}

	metrics.RequestCount.WithLabelValues(endpoint, "success").Inc()
	h.audit(c, agent, indexName, 200, start)
	return c.JSON(200, shared.MessageResponse{Message: answer})
}

func (h *InferenceHandler) audit(c *setup.Context, agent, indexName string, status int, start time.Time) {
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

// readUpload pulls the optional file part from the form. Absence is not an
// error; anything else while opening or reading is.
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
