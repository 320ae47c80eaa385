package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/catalog-service/common/errors"
	"github.com/yashrajoria/catalog-service/models"
	"github.com/yashrajoria/catalog-service/services"
)

// ImportHandler serves the bulk import endpoints.
type ImportHandler struct {
	imports       ImportServiceAPI
	jobs          JobQueue
	validator     *RequestValidator
	timeout       time.Duration
	commitTimeout time.Duration
}

func NewImportHandler(imports ImportServiceAPI, jobs JobQueue, validator *RequestValidator, commitTimeout time.Duration) *ImportHandler {
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	return &ImportHandler{
		imports:       imports,
		jobs:          jobs,
		validator:     validator,
		timeout:       DefaultContextTimeout,
		commitTimeout: commitTimeout,
	}
}

// ValidateImport reports every problem in a batch without writing anything.
func (h *ImportHandler) ValidateImport(c *gin.Context) {
	rows, err := h.readRows(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report, err := h.imports.ValidateImport(ctx, rows)
	if err != nil {
		zap.L().Error("Import validation failed", zap.Error(err))
		_ = c.Error(apperrors.ErrServiceUnavailable.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

// CommitImport commits a batch, or queues it when async=true.
func (h *ImportHandler) CommitImport(c *gin.Context) {
	rows, err := h.readRows(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if strings.EqualFold(strings.TrimSpace(c.Query("async")), "true") {
		h.enqueue(c, rows)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.commitTimeout)
	defer cancel()

	result, err := h.imports.CommitImport(ctx, rows)
	if err != nil {
		_ = c.Error(commitError(err))
		return
	}
	zap.L().Info("Import committed",
		zap.Int("products_created", result.Created.Products),
		zap.Int("products_updated", result.Updated.Products),
		zap.Bool("transactional", result.Transactional),
	)
	c.JSON(http.StatusOK, result)
}

// GetImportJob returns the status record of an async commit.
func (h *ImportHandler) GetImportJob(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job ID required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	job, err := h.jobs.Get(ctx, id)
	if errors.Is(err, services.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		zap.L().Error("Failed to get import job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job status"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// DownloadTemplate serves an empty import file with one column per
// registered attribute.
func (h *ImportHandler) DownloadTemplate(c *gin.Context) {
	format := services.FileFormat(strings.ToLower(c.DefaultQuery("format", string(services.FormatCSV))))
	var contentType string
	switch format {
	case services.FormatCSV:
		contentType = "text/csv"
	case services.FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	codes, err := h.imports.AttributeCodes(ctx)
	if err != nil {
		zap.L().Error("Failed to load attribute registry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build template"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="catalog-import.%s"`, format))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := services.WriteTemplate(c.Writer, format, codes); err != nil {
		zap.L().Error("Failed to write import template", zap.Error(err))
	}
}

func (h *ImportHandler) enqueue(c *gin.Context, rows []models.ImportRow) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	job, err := h.jobs.Enqueue(ctx, rows)
	if err != nil {
		zap.L().Error("Failed to enqueue import job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue import job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Import queued for processing",
	})
}

// readRows accepts either a JSON {rows:[...]} body or a multipart CSV/XLSX
// file field.
func (h *ImportHandler) readRows(c *gin.Context) ([]models.ImportRow, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return h.readFile(c)
	}

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return req.Rows, nil
}

func (h *ImportHandler) readFile(c *gin.Context) ([]models.ImportRow, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	if err := h.validator.ValidateImportFile(file); err != nil {
		return nil, err
	}
	format, err := services.FormatFromFilename(file.Filename)
	if err != nil {
		return nil, err
	}

	fh, err := file.Open()
	if err != nil {
		return nil, errors.New("failed to open file")
	}
	defer fh.Close()

	return services.ParseImportFile(fh, format)
}

// commitError maps a failed commit to the response the client sees.
func commitError(err error) *apperrors.Error {
	if vf, ok := services.AsValidationFailure(err); ok {
		return apperrors.ErrValidation.WithDetails(vf.Report)
	}

	var cf *services.CommitFailure
	if errors.As(err, &cf) {
		details := gin.H{
			"error":        cf.Err.Error(),
			"failed_state": cf.State,
		}
		if !cf.RolledBackCleanly() {
			zap.L().Error("Import rollback incomplete, manual reconciliation required",
				zap.String("state", string(cf.State)),
				zap.Error(cf.Compensation),
			)
			details["manual_reconciliation_required"] = true
			details["unreversed"] = compensationMessages(cf.Compensation)
			return apperrors.ErrCommitIncomplete.WithDetails(details).Wrap(err)
		}
		details["rolled_back"] = true
		var collision *services.IdentifierCollisionError
		if errors.As(cf.Err, &collision) {
			return apperrors.ErrIdentifierCollision.WithDetails(details).Wrap(err)
		}
		zap.L().Warn("Import commit rolled back", zap.String("state", string(cf.State)), zap.Error(cf.Err))
		return apperrors.ErrCommitRolledBack.WithDetails(details).Wrap(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrServiceUnavailable.Wrap(err)
	}
	zap.L().Error("Import commit failed", zap.Error(err))
	return apperrors.ErrInternalServer.Wrap(err)
}

func compensationMessages(p *services.PartialCompensationFailure) []string {
	msgs := make([]string, len(p.Failures))
	for i, f := range p.Failures {
		msgs[i] = f.Error()
	}
	return msgs
}
