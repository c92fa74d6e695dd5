package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// openAPIDocument is a minimal machine-readable description of the public
// surface, served at /openapi.json for client generators.
var openAPIDocument = gin.H{
	"openapi": "3.0.3",
	"info": gin.H{
		"title":       "logsink",
		"description": "Issue sink with blacklist admission, exact and semantic deduplication, and lifecycle management.",
		"version":     "1.0.0",
	},
	"paths": gin.H{
		"/health": gin.H{"get": gin.H{"summary": "Service health"}},
		"/log":    gin.H{"post": gin.H{"summary": "Submit a log entry"}},
		"/log/{app}": gin.H{
			"get":    gin.H{"summary": "List all entries for an application"},
			"delete": gin.H{"summary": "Purge all entries for an application"},
		},
		"/log/{app}/open":        gin.H{"get": gin.H{"summary": "List open entries (revert first)"}},
		"/log/{app}/pending":     gin.H{"get": gin.H{"summary": "List pending entries"}},
		"/log/{app}/in-progress": gin.H{"get": gin.H{"summary": "List in-progress entries"}},
		"/log/{app}/done":        gin.H{"get": gin.H{"summary": "List done entries"}},
		"/log/{app}/statistics":  gin.H{"get": gin.H{"summary": "Per-application statistics"}},
		"/log/{app}/closed":      gin.H{"delete": gin.H{"summary": "Purge closed entries"}},
		"/log/{app}/img/{filename}": gin.H{
			"get": gin.H{"summary": "Stream an extracted screenshot"},
		},
		"/log/{app}/{id}": gin.H{
			"put":    gin.H{"summary": "Mark an entry done"},
			"post":   gin.H{"summary": "Force-reopen an entry"},
			"delete": gin.H{"summary": "Close an entry"},
		},
		"/log/{app}/{id}/in-progress":  gin.H{"patch": gin.H{"summary": "Start progress"}},
		"/log/{app}/{id}/revert":       gin.H{"patch": gin.H{"summary": "Revert a done entry"}},
		"/log/{app}/{id}/plan":         gin.H{"patch": gin.H{"summary": "Attach a plan"}},
		"/log/{app}/{id}/issue-fields": gin.H{"patch": gin.H{"summary": "Update issue fields"}},
		"/blacklist": gin.H{
			"get":    gin.H{"summary": "List blacklist patterns"},
			"post":   gin.H{"summary": "Create a blacklist pattern"},
			"delete": gin.H{"summary": "Clear all blacklist patterns"},
		},
		"/blacklist/{id}": gin.H{
			"put":    gin.H{"summary": "Update a blacklist pattern"},
			"delete": gin.H{"summary": "Delete a blacklist pattern"},
		},
		"/blacklist/test":       gin.H{"post": gin.H{"summary": "Dry-run a message against the blacklist"}},
		"/blacklist/statistics": gin.H{"get": gin.H{"summary": "Blacklist cache statistics"}},
		"/blacklist/refresh":    gin.H{"post": gin.H{"summary": "Rebuild the blacklist cache"}},
		"/cleanup/status":       gin.H{"get": gin.H{"summary": "Cleanup scheduler status"}},
		"/cleanup/config":       gin.H{"get": gin.H{"summary": "Cleanup configuration"}},
		"/cleanup/run":          gin.H{"post": gin.H{"summary": "Run cleanup now"}},
		"/embedding/status":  gin.H{"get": gin.H{"summary": "Embedding worker status"}},
		"/embedding/pending": gin.H{"get": gin.H{"summary": "List pending entries awaiting embedding"}},
		"/embedding/process": gin.H{"post": gin.H{"summary": "Run one embedding tick now"}},
		"/embedding/process/{id}": gin.H{
			"post": gin.H{"summary": "Process one pending entry now"},
		},
		"/embedding/similar/{app}/{id}": gin.H{
			"get": gin.H{"summary": "Nearest neighbors of an embedded entry"},
		},
		"/embedding/search/{app}": gin.H{
			"post": gin.H{"summary": "Semantic free-text search"},
		},
	},
}

// OpenAPIHandler serves the OpenAPI document.
func OpenAPIHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, openAPIDocument)
	}
}
