// Package engine defines the boundary to the external inference and ingest
// collaborators. The gateway depends only on the two runner interfaces; their
// internals are opaque and answers are raw bytes normalized at the boundary.
package engine

import (
	"context"
	"errors"
)

// Upload carries a file received on the gateway's multipart surface, forwarded
// verbatim to the delegate.
type Upload struct {
	Filename string
	Content  []byte
}

// InferenceParams mirrors the delegate call
// (agent, fields, types, keywords?, query, index_name, options?, file?,
// group_by_rows, update_targets, debug).
type InferenceParams struct {
	Agent         string
	Fields        []string
	Types         []string
	Keywords      []string // nil when the parameter was absent
	Query         string
	IndexName     string
	Options       []string // nil when the parameter was absent
	File          *Upload
	GroupByRows   bool
	UpdateTargets bool
	Debug         bool
}

type IngestParams struct {
	Agent     string
	IndexName string
	File      *Upload
	// Debug is always false at the gateway's call site. The upstream pipeline
	// accepts it but its effect is unclear; needs upstream clarification.
	Debug bool
}

type InferenceRunner interface {
	RunInference(ctx context.Context, p InferenceParams) ([]byte, error)
}

type IngestRunner interface {
	RunIngest(ctx context.Context, p IngestParams) ([]byte, error)
}

// ValueError signals the delegate rejected the request's values. The gateway
// maps it to HTTP 418 with the message as detail.
type ValueError struct {
	Msg string
}

func (e *ValueError) Error() string {
	return e.Msg
}

func AsValueError(err error) (*ValueError, bool) {
	var verr *ValueError
	ok := errors.As(err, &verr)
	return verr, ok
}
