package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StagedAssetHandler issues presigned uploads for images referenced by
// import rows.
type StagedAssetHandler struct {
	imports   ImportServiceAPI
	validator *RequestValidator
	timeout   time.Duration
}

func NewStagedAssetHandler(imports ImportServiceAPI, validator *RequestValidator) *StagedAssetHandler {
	return &StagedAssetHandler{
		imports:   imports,
		validator: validator,
		timeout:   DefaultContextTimeout,
	}
}

// CreateStagedAsset registers a staged asset and returns its temp key and
// a presigned PUT URL.
func (h *StagedAssetHandler) CreateStagedAsset(c *gin.Context) {
	var req StageAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.validator.IsAllowedImageContentType(req.ContentType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid content type. Allowed: %v", allowedImageTypeList()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	upload, err := h.imports.StageAsset(ctx, req.Filename, req.ContentType)
	if err != nil {
		zap.L().Error("Failed to stage asset", zap.String("filename", req.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate presigned upload"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"temp_key":   upload.TempKey,
		"upload_url": upload.UploadURL,
		"method":     "PUT",
		"expires_at": upload.ExpiresAt,
	})
}
