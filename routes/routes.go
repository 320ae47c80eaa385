package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/catalog-service/common/middleware"
	"github.com/yashrajoria/catalog-service/controllers"
)

// RegisterImportRoutes mounts the bulk import endpoints behind the per-IP
// rate limiter.
func RegisterImportRoutes(r *gin.Engine, imports *controllers.ImportHandler, staged *controllers.StagedAssetHandler, limiter *middleware.RateLimiter) {
	importRoutes := r.Group("/imports")
	importRoutes.Use(middleware.RateLimitMiddleware(limiter))
	{
		importRoutes.POST("/validate", imports.ValidateImport)
		importRoutes.POST("/commit", imports.CommitImport)
		importRoutes.GET("/jobs/:id", imports.GetImportJob)
		importRoutes.GET("/template", imports.DownloadTemplate)
		importRoutes.POST("/staged-assets", staged.CreateStagedAsset)
	}
}
