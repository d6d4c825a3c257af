package logger

import (
	"context"
	"strings"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	fileKey
	requestIDKey
)

// WithRunID tags ctx with an ingestion run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, strings.TrimSpace(runID))
}

// RunIDFromContext returns the ingestion run identifier, if any.
func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// WithFile tags ctx with the source file being processed.
func WithFile(ctx context.Context, filename string) context.Context {
	return context.WithValue(ctx, fileKey, strings.TrimSpace(filename))
}

// FileFromContext returns the source file being processed, if any.
func FileFromContext(ctx context.Context) string {
	v, _ := ctx.Value(fileKey).(string)
	return v
}

// WithRequestID tags ctx with an HTTP request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the HTTP request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
