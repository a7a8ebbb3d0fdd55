package inference

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"sparrow-api/internal/engine"
	"sparrow-api/internal/keys"
	"sparrow-api/internal/metrics"
	"sparrow-api/internal/setup"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	answer []byte
	err    error
	called bool
	got    engine.InferenceParams
}

func (f *fakeRunner) RunInference(_ context.Context, p engine.InferenceParams) ([]byte, error) {
	f.called = true
	f.got = p
	return f.answer, f.err
}

type fakeCache struct {
	answer  any
	hit     bool
	getKeys []string
	setKeys []string
}

func (f *fakeCache) Get(_ context.Context, key string) (any, bool) {
	f.getKeys = append(f.getKeys, key)
	return f.answer, f.hit
}

func (f *fakeCache) Set(_ context.Context, key string, _ any) {
	f.setKeys = append(f.setKeys, key)
}

func newHandler(runner engine.InferenceRunner, keySet *keys.Set, protected bool) *InferenceHandler {
	return NewInferenceHandler(runner, keySet, protected, nil, nil)
}

func doInference(t *testing.T, h *InferenceHandler, form map[string]string, file *engine.Upload) *httptest.ResponseRecorder {
	t.Helper()
	return doInferenceWithLog(t, h, form, file, zap.NewNop().Sugar())
}

func doInferenceWithLog(t *testing.T, h *InferenceHandler, form map[string]string, file *engine.Upload, log *zap.SugaredLogger) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range form {
		require.NoError(t, mw.WriteField(key, value))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", file.Filename)
		require.NoError(t, err)
		_, err = part.Write(file.Content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sparrow-llm/inference", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()

	c := echo.New().NewContext(req, rec)
	cc := &setup.Context{Context: c, Log: log, Reqid: "test"}
	require.NoError(t, h.Inference(cc))
	return rec
}

func TestQueryConstruction(t *testing.T) {
	t.Run("types present adds retrieve prefix", func(t *testing.T) {
		query, fields, types := Query("a, b", "string, string")
		assert.Equal(t, "retrieve a, b", query)
		assert.Equal(t, []string{"a", "b"}, fields)
		assert.Equal(t, []string{"string", "string"}, types)
	})

	t.Run("types absent passes fields through verbatim", func(t *testing.T) {
		query, fields, types := Query("a, b", "")
		assert.Equal(t, "a, b", query)
		assert.Empty(t, fields)
		assert.Empty(t, types)
	})
}

func TestInferenceForbiddenWhenProtected(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	keySet := keys.FromEnviron("SPARROW_KEY_", []string{"SPARROW_KEY_A=valid"})
	h := newHandler(runner, keySet, true)

	tests := []struct {
		name string
		form map[string]string
	}{
		{"no key", map[string]string{"fields": "a", "agent": "sparrow"}},
		{"wrong key", map[string]string{"fields": "a", "agent": "sparrow", "sparrow_key": "invalid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doInference(t, h, tt.form, nil)
			assert.Equal(t, 403, rec.Code)
			assert.JSONEq(t, `{"detail": "Protected access. Agent not allowed."}`, rec.Body.String())
			assert.False(t, runner.called)
		})
	}
}

func TestInferenceValidKeyWhenProtected(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	keySet := keys.FromEnviron("SPARROW_KEY_", []string{"SPARROW_KEY_A=valid"})
	h := newHandler(runner, keySet, true)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow", "sparrow_key": "valid"}, nil)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, runner.called)
}

func TestInferenceKeyCheckSkippedWhenUnprotected(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow", "sparrow_key": "whatever"}, nil)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, runner.called)
}

func TestInferenceDelegateParams(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	doInference(t, h, map[string]string{
		"fields":     "a, b",
		"types":      "string, string",
		"agent":      "sparrow",
		"index_name": "invoices",
		"keywords":   "total, due",
		"options":    "tables, text",
	}, nil)

	require.True(t, runner.called)
	assert.Equal(t, "sparrow", runner.got.Agent)
	assert.Equal(t, "retrieve a, b", runner.got.Query)
	assert.Equal(t, []string{"a", "b"}, runner.got.Fields)
	assert.Equal(t, []string{"string", "string"}, runner.got.Types)
	assert.Equal(t, []string{"total", "due"}, runner.got.Keywords)
	assert.Equal(t, []string{"tables", "text"}, runner.got.Options)
	assert.Equal(t, "invoices", runner.got.IndexName)
	assert.True(t, runner.got.GroupByRows)
	assert.True(t, runner.got.UpdateTargets)
	assert.False(t, runner.got.Debug)
}

func TestInferenceOptionalParamsAbsent(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	doInference(t, h, map[string]string{"fields": "a, b", "agent": "sparrow"}, nil)

	require.True(t, runner.called)
	assert.Equal(t, "a, b", runner.got.Query)
	assert.Empty(t, runner.got.Fields)
	assert.Empty(t, runner.got.Types)
	assert.Nil(t, runner.got.Keywords)
	assert.Nil(t, runner.got.Options)
}

func TestInferenceBoolFlagsParsed(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	doInference(t, h, map[string]string{
		"fields":         "a",
		"agent":          "sparrow",
		"group_by_rows":  "false",
		"update_targets": "false",
		"debug":          "true",
	}, nil)

	require.True(t, runner.called)
	assert.False(t, runner.got.GroupByRows)
	assert.False(t, runner.got.UpdateTargets)
	assert.True(t, runner.got.Debug)
}

func TestInferenceFileForwarded(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"},
		&engine.Upload{Filename: "invoice.pdf", Content: []byte("%PDF-1.4")})

	require.True(t, runner.called)
	require.NotNil(t, runner.got.File)
	assert.Equal(t, "invoice.pdf", runner.got.File.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), runner.got.File.Content)
}

func TestInferenceValueError(t *testing.T) {
	runner := &fakeRunner{err: &engine.ValueError{Msg: "bad input"}}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"}, nil)
	assert.Equal(t, 418, rec.Code)
	assert.JSONEq(t, `{"detail": "bad input"}`, rec.Body.String())
}

func TestInferenceUnparsableAnswer(t *testing.T) {
	runner := &fakeRunner{answer: []byte("not json")}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"}, nil)
	assert.Equal(t, 418, rec.Code)
	assert.JSONEq(t, `{"detail": "not json"}`, rec.Body.String())
}

func TestInferenceValidAnswer(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{"x":1}`)}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"}, nil)
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"message": {"x": 1}}`, rec.Body.String())
}

func TestInferenceMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		form map[string]string
	}{
		{"missing fields", map[string]string{"agent": "sparrow"}},
		{"missing agent", map[string]string{"fields": "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{answer: []byte(`{}`)}
			h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

			rec := doInference(t, h, tt.form, nil)
			assert.Equal(t, 400, rec.Code)
			assert.False(t, runner.called)
		})
	}
}

func TestInferenceCacheHit(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{"fresh": true}`)}
	cached := &fakeCache{answer: map[string]any{"x": float64(1)}, hit: true}
	h := NewInferenceHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false, cached, nil)

	before := testutil.ToFloat64(metrics.RequestCount.WithLabelValues("inference", "success"))
	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"}, nil)
	after := testutil.ToFloat64(metrics.RequestCount.WithLabelValues("inference", "success"))

	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"message": {"x": 1}}`, rec.Body.String())
	assert.False(t, runner.called)
	// A hit counts as a success just like a delegate round trip.
	assert.Equal(t, before+1, after)
}

func TestInferenceCacheHitDebugEcho(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	cached := &fakeCache{answer: map[string]any{"x": float64(1)}, hit: true}
	h := NewInferenceHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false, cached, nil)

	core, logs := observer.New(zapcore.InfoLevel)
	doInferenceWithLog(t, h,
		map[string]string{"fields": "a", "agent": "sparrow", "debug": "true"},
		nil, zap.New(core).Sugar())

	assert.Equal(t, 1, logs.FilterMessage("JSON response").Len())
}

func TestInferenceCacheKeyVariesWithDelegateParams(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	cached := &fakeCache{}
	h := NewInferenceHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false, cached, nil)

	base := map[string]string{"fields": "a, b", "agent": "sparrow"}
	doInference(t, h, base, nil)

	variants := []map[string]string{
		{"fields": "a, b", "agent": "sparrow", "keywords": "total"},
		{"fields": "a, b", "agent": "sparrow", "types": "string, string"},
		{"fields": "a, b", "agent": "sparrow", "group_by_rows": "false"},
		{"fields": "a, b", "agent": "sparrow", "update_targets": "false"},
	}
	for _, form := range variants {
		doInference(t, h, form, nil)
	}

	require.Len(t, cached.getKeys, len(variants)+1)
	seen := map[string]bool{}
	for _, key := range cached.getKeys {
		assert.False(t, seen[key], "cache key reused across differing delegate params")
		seen[key] = true
	}
}

func TestInferenceCacheSkippedWithFile(t *testing.T) {
	runner := &fakeRunner{answer: []byte(`{}`)}
	cached := &fakeCache{hit: true, answer: map[string]any{"stale": true}}
	h := NewInferenceHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false, cached, nil)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"},
		&engine.Upload{Filename: "doc.pdf", Content: []byte("%PDF")})

	assert.Equal(t, 200, rec.Code)
	assert.True(t, runner.called)
	assert.Empty(t, cached.getKeys)
	assert.Empty(t, cached.setKeys)
}

func TestInferenceDelegateFailure(t *testing.T) {
	runner := &fakeRunner{err: assert.AnError}
	h := newHandler(runner, keys.FromEnviron("SPARROW_KEY_", nil), false)

	rec := doInference(t, h, map[string]string{"fields": "a", "agent": "sparrow"}, nil)
	assert.Equal(t, 500, rec.Code)
}
