package router

import (
	"github.com/erp/catalog-exchange/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// Handlers are the endpoints of the catalog exchange API. A nil handler
// leaves its group out.
type Handlers struct {
	Sync        *handler.SyncHandler
	Imports     *handler.CatalogImportHandler
	Credentials *handler.CredentialHandler
	System      *handler.SystemHandler
}

// Guards are the middleware chains in front of the protected groups.
// Connector guards sync and catalog routes (API key, rate limit);
// Admin guards key management.
type Guards struct {
	Connector []gin.HandlerFunc
	Admin     []gin.HandlerFunc
}

// SyncGroup serves the connector sync protocol for one entity type
//
//	GET  /sync/:entity/page
//	GET  /sync/:entity/delta
//	POST /sync/:entity/batch
//	GET  /sync/:entity/stream
func SyncGroup(h *handler.SyncHandler, guards ...gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("sync", "/sync/:entity").
		Use(guards...).
		GET("/page", h.Page).
		GET("/delta", h.Delta).
		POST("/batch", h.Batch).
		GET("/stream", h.Stream)
}

// CatalogGroup serves catalog uploads, staged sessions and the import
// history. Static segments are registered before /imports/:id.
func CatalogGroup(h *handler.CatalogImportHandler, guards ...gin.HandlerFunc) *DomainGroup {
	g := NewDomainGroup("catalog", "/catalog").Use(guards...)
	g.GET("/formats", h.Formats)
	g.POST("/detect", h.Detect)

	imports := g.Group("imports", "/imports")
	imports.POST("", h.Import)
	imports.GET("", h.List)
	imports.POST("/stage", h.Stage)
	imports.GET("/sessions", h.ListSessions)
	imports.GET("/sessions/:id", h.GetSession)
	imports.DELETE("/sessions/:id", h.DiscardSession)
	imports.POST("/:id/commit", h.Commit)
	imports.GET("/:id", h.Get)
	return g
}

// CredentialGroup serves API key management
func CredentialGroup(h *handler.CredentialHandler, guards ...gin.HandlerFunc) *DomainGroup {
	return NewDomainGroup("credentials", "/credentials").
		Use(guards...).
		POST("/api-keys", h.Create).
		GET("/api-keys", h.List).
		DELETE("/api-keys/:id", h.Revoke)
}

// SystemGroup serves build information below the API prefix
func SystemGroup(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").GET("/info", h.Info)
}

// RegisterHealthChecks mounts the liveness and readiness checks at the root,
// outside the API prefix and its middleware
func RegisterHealthChecks(engine *gin.Engine, h *handler.SystemHandler) {
	engine.GET("/health", h.Health)
	engine.GET("/ready", h.Ready)
}

// Setup wires every configured handler onto engine and returns the Router
func Setup(engine *gin.Engine, h Handlers, guards Guards, opts ...RouterOption) *Router {
	r := NewRouter(engine, opts...)
	if h.System != nil {
		RegisterHealthChecks(engine, h.System)
		r.Register(SystemGroup(h.System))
	}
	if h.Sync != nil {
		r.Register(SyncGroup(h.Sync, guards.Connector...))
	}
	if h.Imports != nil {
		r.Register(CatalogGroup(h.Imports, guards.Connector...))
	}
	if h.Credentials != nil {
		r.Register(CredentialGroup(h.Credentials, guards.Admin...))
	}
	r.Setup()
	return r
}
