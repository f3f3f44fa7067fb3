package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dashlabs/dash/internal/core"
	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/logging"
	"github.com/dashlabs/dash/internal/placement"
	"github.com/dashlabs/dash/internal/retrieval"
	"github.com/dashlabs/dash/internal/wal"
	"github.com/dashlabs/dash/pkg/config"
)

// Server represents the REST API server, a thin HTTP shell around a single
// *core.Core instance.
type Server struct {
	router     *gin.Engine
	core       *core.Core
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates a new REST API server wrapping the given core instance.
func NewServer(c *core.Core, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		log.Debug("enabling CORS")
		corsConfig := cors.Config{
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
			ExposeHeaders: []string{"Content-Length", "Retry-After"},
			MaxAge:        12 * time.Hour,
		}
		if cfg.RestAPI.APIKey != "" {
			corsConfig.AllowOrigins = []string{
				"http://localhost:*",
				"http://127.0.0.1:*",
				"https://localhost:*",
				"https://127.0.0.1:*",
			}
			corsConfig.AllowWildcard = true
		} else {
			corsConfig.AllowAllOrigins = true
		}
		router.Use(cors.New(corsConfig))
	}

	if cfg.RestAPI.APIKey != "" {
		log.Info("API key authentication enabled")
		router.Use(APIKeyAuthMiddleware(cfg.RestAPI.APIKey))
	}

	router.Use(MaxBodySizeMiddleware(DefaultBodyLimit))

	server := &Server{
		router: router,
		core:   c,
		config: cfg,
		log:    log,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthHandler)
		api.GET("/stats", s.indexStats)

		// Ingestion
		api.POST("/claims", MaxBodySizeMiddleware(IngestBodyLimit), s.ingestClaim)
		api.POST("/claims/:id/vector", s.upsertVector)

		// Retrieval
		api.POST("/retrieve", s.retrieve)
		api.GET("/claims/:id/graph", s.claimGraph)

		// Segment lifecycle
		api.POST("/tenants/:tenant/segments/publish", s.publishSegments)
		api.POST("/tenants/:tenant/segments/compact", s.compactSegments)
		api.GET("/segments/health", s.segmentHealth)

		// Placement routing
		api.GET("/tenants/:tenant/route/write", s.routeWrite)
		api.GET("/tenants/:tenant/route/read", s.routeRead)
		api.POST("/tenants/:tenant/shards/:shard/promote", s.promoteReplica)
		api.GET("/placement/reload-stats", s.placementReloadStats)

		// Follower replication (pull-based WAL shipping)
		api.GET("/replication/delta", s.replicationDelta)
		api.GET("/replication/export", s.replicationExport)
	}
}

// healthHandler reports liveness only; deeper state lives behind
// /segments/health and /placement/reload-stats.
func (s *Server) healthHandler(c *gin.Context) {
	SuccessResponse(c, "ok", gin.H{"status": "ok"})
}

// indexStats reports store index sizes and the ANN tuning in effect.
func (s *Server) indexStats(c *gin.Context) {
	stats, tuning := s.core.IndexStats()
	SuccessResponse(c, "index stats", gin.H{"index": stats, "ann_tuning": tuning})
}

// ingestClaimRequest is the wire shape for POST /claims.
type ingestClaimRequest struct {
	Claim     *domain.Claim       `json:"claim" binding:"required"`
	Evidences []*domain.Evidence  `json:"evidences"`
	Edges     []*domain.ClaimEdge `json:"edges"`
}

func (s *Server) ingestClaim(c *gin.Context) {
	var req ingestClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateCanonicalText(req.Claim.CanonicalText); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateEntityFilters(req.Claim.Entities); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := s.core.Ingest(req.Claim, req.Evidences, req.Edges); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	CreatedResponse(c, "claim ingested", gin.H{"claim_id": req.Claim.ClaimID})
}

type upsertVectorRequest struct {
	Vector []float32 `json:"vector" binding:"required"`
}

func (s *Server) upsertVector(c *gin.Context) {
	claimID := c.Param("id")
	var req upsertVectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := s.core.UpsertVector(claimID, req.Vector); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "vector upserted", nil)
}

// retrieveRequest is the wire shape for POST /retrieve, mirroring
// retrieval.Request per spec.md §4.8.
type retrieveRequest struct {
	TenantID           string            `json:"tenant_id" binding:"required"`
	QueryText          string            `json:"query_text"`
	TopK               int               `json:"top_k"`
	StanceMode         domain.StanceMode `json:"stance_mode"`
	FromUnix           *int64            `json:"from_unix"`
	ToUnix             *int64            `json:"to_unix"`
	EntityFilters      []string          `json:"entity_filters"`
	EmbeddingIDFilters []string          `json:"embedding_id_filters"`
	QueryVector        []float32         `json:"query_vector"`
	ReadConsistency    string            `json:"read_consistency"`
}

func (s *Server) retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateQueryText(req.QueryText); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateEntityFilters(req.EntityFilters); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	resp, err := s.core.Retrieve(retrieval.Request{
		TenantID:           req.TenantID,
		QueryText:          req.QueryText,
		TopK:               clampTopK(req.TopK),
		StanceMode:         req.StanceMode,
		FromUnix:           req.FromUnix,
		ToUnix:             req.ToUnix,
		EntityFilters:      req.EntityFilters,
		EmbeddingIDFilters: req.EmbeddingIDFilters,
		QueryVector:        req.QueryVector,
		ReadConsistency:    req.ReadConsistency,
	})
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "retrieved", resp)
}

// claimGraph walks the claim's outbound edge graph up to max_hops.
func (s *Server) claimGraph(c *gin.Context) {
	claimID := c.Param("id")
	maxHops, err := strconv.Atoi(c.DefaultQuery("max_hops", "2"))
	if err != nil || maxHops < 1 {
		BadRequestError(c, "max_hops must be a positive integer")
		return
	}
	edges, summary := s.core.TraverseGraph([]string{claimID}, maxHops)
	SuccessResponse(c, "graph", gin.H{"edges": edges, "summary": summary})
}

func (s *Server) publishSegments(c *gin.Context) {
	tenantID := c.Param("tenant")
	manifest, err := s.core.PublishSegments(tenantID)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "segments published", manifest)
}

func (s *Server) compactSegments(c *gin.Context) {
	tenantID := c.Param("tenant")
	manifest, err := s.core.CompactSegments(tenantID)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "segments compacted", manifest)
}

func (s *Server) segmentHealth(c *gin.Context) {
	health, err := s.core.SegmentHealth()
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	SuccessResponse(c, "segment health", health)
}

func (s *Server) routeWrite(c *gin.Context) {
	tenantID := c.Param("tenant")
	entityKey := c.Query("entity_key")
	replica, err := s.core.RouteWrite(tenantID, entityKey)
	if err != nil {
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "routed", replica)
}

func (s *Server) routeRead(c *gin.Context) {
	tenantID := c.Param("tenant")
	entityKey := c.Query("entity_key")
	pref := placement.ReadPreference(c.DefaultQuery("preference", string(placement.ReadAnyHealthy)))
	replica, err := s.core.RouteRead(tenantID, entityKey, pref)
	if err != nil {
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "routed", replica)
}

type promoteReplicaRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

func (s *Server) promoteReplica(c *gin.Context) {
	tenantID := c.Param("tenant")
	var shardID uint32
	if _, err := fmt.Sscanf(c.Param("shard"), "%d", &shardID); err != nil {
		BadRequestError(c, "invalid shard id")
		return
	}
	var req promoteReplicaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	epoch, err := s.core.PromoteReplica(tenantID, shardID, req.NodeID)
	if err != nil {
		BadRequestError(c, err.Error())
		return
	}
	SuccessResponse(c, "promoted", gin.H{"epoch": epoch})
}

func (s *Server) placementReloadStats(c *gin.Context) {
	SuccessResponse(c, "reload stats", s.core.PlacementReloadStats())
}

// replicationDelta ships WAL records from a follower's offset as the
// line-oriented delta wire frame.
func (s *Server) replicationDelta(c *gin.Context) {
	fromOffset, err := strconv.Atoi(c.DefaultQuery("from_offset", "0"))
	if err != nil || fromOffset < 0 {
		BadRequestError(c, "from_offset must be a non-negative integer")
		return
	}
	maxRecords, err := strconv.Atoi(c.DefaultQuery("max_records", "1000"))
	if err != nil || maxRecords < 0 {
		BadRequestError(c, "max_records must be a non-negative integer")
		return
	}
	delta, err := s.core.ReplicationDelta(fromOffset, maxRecords)
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	c.String(http.StatusOK, strings.Join(wal.EncodeDeltaFrame(delta), "\n")+"\n")
}

// replicationExport ships the full-state follower bootstrap as the
// line-oriented export wire frame.
func (s *Server) replicationExport(c *gin.Context) {
	export, err := s.core.ExportForFollowers()
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	c.String(http.StatusOK, strings.Join(wal.EncodeExportFrame(export), "\n")+"\n")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.log.Info("starting REST API server", "address", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithContext starts the HTTP server with graceful shutdown support.
// It blocks until the context is cancelled or the server encounters an error.
func (s *Server) StartWithContext(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.Info("starting REST API server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping REST API server")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("server shutdown error", "error", err)
			return err
		}
		s.log.Info("REST API server stopped")
	}
	return nil
}

// Router returns the underlying Gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
