// Package api provides the REST API server: a Gin-based HTTP shell around a
// single internal/core.Core instance, exposing claim ingestion, ranked
// retrieval, segment lifecycle, and placement routing endpoints under
// /api/v1 with a standard response envelope, CORS, and optional API-key
// auth.
package api
