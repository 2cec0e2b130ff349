package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, stats StatsFunc) {
	router.GET("/healthz", handleHealth(db))
	router.GET("/api/stats", handleStats(db, stats))
	router.GET("/api/clones", handleClones(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStats(db *gorm.DB, stats StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := stats()
		snapshot.CloneRecords = cloneCount(db)
		c.JSON(http.StatusOK, snapshot)
	}
}

func handleClones(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := CloneSummary(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"clones": rows})
	}
}
