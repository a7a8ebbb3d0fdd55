package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Client forwards delegate calls to the upstream sparrow pipeline services as
// multipart POSTs. No timeout is imposed here; a slow pipeline call holds its
// request until the client disconnects and the request context is canceled.
type Client struct {
	EngineURL string
	IngestURL string
	Log       *zap.SugaredLogger

	httpClients  map[string]*http.Client
	clientsMutex sync.RWMutex
}

func NewClient(engineURL, ingestURL string, log *zap.SugaredLogger) *Client {
	return &Client{
		EngineURL:   engineURL,
		IngestURL:   ingestURL,
		Log:         log,
		httpClients: make(map[string]*http.Client),
	}
}

func (cl *Client) getHTTPClient(rawURL string) *http.Client {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		cl.Log.Warnw("Failed to parse upstream URL, using full URL as key", "url", rawURL, "error", err)
		parsedURL = &url.URL{Host: rawURL}
	}
	host := parsedURL.Host

	cl.clientsMutex.RLock()
	if client, exists := cl.httpClients[host]; exists {
		cl.clientsMutex.RUnlock()
		return client
	}
	cl.clientsMutex.RUnlock()

	cl.clientsMutex.Lock()
	defer cl.clientsMutex.Unlock()
	if client, exists := cl.httpClients[host]; exists {
		return client
	}
	client := &http.Client{}
	cl.httpClients[host] = client
	return client
}

func (cl *Client) RunInference(ctx context.Context, p InferenceParams) ([]byte, error) {
	form := map[string]string{
		"agent":          p.Agent,
		"fields":         strings.Join(p.Fields, ","),
		"types":          strings.Join(p.Types, ","),
		"query":          p.Query,
		"index_name":     p.IndexName,
		"group_by_rows":  strconv.FormatBool(p.GroupByRows),
		"update_targets": strconv.FormatBool(p.UpdateTargets),
		"debug":          strconv.FormatBool(p.Debug),
	}
	if p.Keywords != nil {
		form["keywords"] = strings.Join(p.Keywords, ",")
	}
	if p.Options != nil {
		form["options"] = strings.Join(p.Options, ",")
	}
	return cl.post(ctx, cl.EngineURL, form, p.File)
}

func (cl *Client) RunIngest(ctx context.Context, p IngestParams) ([]byte, error) {
	form := map[string]string{
		"agent":      p.Agent,
		"index_name": p.IndexName,
		"debug":      strconv.FormatBool(p.Debug),
	}
	return cl.post(ctx, cl.IngestURL, form, p.File)
}

func (cl *Client) post(ctx context.Context, upstream string, form map[string]string, file *Upload) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range form {
		if err := mw.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed writing form field %s: %w", key, err)
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", file.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed creating file part: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("failed writing file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed finalizing form: %w", err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, &body)
	if err != nil {
		return nil, errors.Join(errors.New("failed building upstream request"), err)
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("Connection", "keep-alive")

	res, err := cl.getHTTPClient(upstream).Do(r)
	if err != nil {
		return nil, errors.Join(errors.New("failed upstream request"), err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			cl.Log.Warnw("Failed to close upstream response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Join(errors.New("failed reading upstream response"), err)
	}

	// Upstream 4xx means the pipeline rejected the request's values.
	if res.StatusCode >= 400 && res.StatusCode < 500 {
		return nil, &ValueError{Msg: strings.TrimSpace(string(raw))}
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream responded with status %d", res.StatusCode)
	}
	return raw, nil
}
