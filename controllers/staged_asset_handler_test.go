package controllers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/yashrajoria/catalog-service/models"
)

func setupStagedRouter(svc *MockImportService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewStagedAssetHandler(svc, NewRequestValidator())
	router := gin.New()
	router.POST("/imports/staged-assets", handler.CreateStagedAsset)
	return router
}

func TestStagedAssetHandler_CreateStagedAsset(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockImportService)
		wantStatus int
		wantBody   string
	}{
		{
			name: "issues a presigned upload",
			body: `{"filename":"front.JPG","content_type":"image/jpeg"}`,
			setup: func(m *MockImportService) {
				m.On("StageAsset", mock.Anything, "front.JPG", "image/jpeg").Return(&models.StagedUpload{
					TempKey:   "tmp-1",
					UploadURL: "https://s3.test/staging/tmp-1.jpg?sig",
					ExpiresAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
				}, nil)
			},
			wantStatus: http.StatusCreated,
			wantBody:   `"temp_key":"tmp-1"`,
		},
		{
			name:       "missing filename",
			body:       `{"content_type":"image/png"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "filename is required",
		},
		{
			name:       "content type not an image",
			body:       `{"filename":"a.pdf","content_type":"application/pdf"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid content type",
		},
		{
			name: "signing failure",
			body: `{"filename":"a.png","content_type":"image/png"}`,
			setup: func(m *MockImportService) {
				m.On("StageAsset", mock.Anything, "a.png", "image/png").Return(nil, errors.New("no credentials"))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Failed to generate presigned upload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			svc := new(MockImportService)
			if tt.setup != nil {
				tt.setup(svc)
			}
			router := setupStagedRouter(svc)

			// Act
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/imports/staged-assets", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			svc.AssertExpectations(t)
		})
	}
}
