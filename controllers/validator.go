package controllers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const MaxUploadSize = 20 * 1024 * 1024 // 20MB

var (
	allowedImportExtensions = map[string]bool{
		".csv":  true,
		".txt":  true,
		".xlsx": true,
	}

	allowedImageTypes = map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
		"image/webp": true,
		"image/gif":  true,
	}
)

// RequestValidator handles all input validation
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validate: validator.New(),
	}
}

// ValidateStruct checks the validate tags of s and reports the first
// offending field by its JSON-ish lowercase name.
func (rv *RequestValidator) ValidateStruct(s any) error {
	err := rv.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "max":
			return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Errorf("%s is invalid", field)
	}
	return fmt.Errorf("validation failed: %w", err)
}

// ValidateImportFile checks the extension and size of an uploaded import
// file.
func (rv *RequestValidator) ValidateImportFile(file *multipart.FileHeader) error {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImportExtensions[ext] {
		return errors.New("invalid file type. Only CSV and XLSX files are allowed")
	}
	if file.Size > MaxUploadSize {
		return fmt.Errorf("file too large (max %dMB)", MaxUploadSize/(1024*1024))
	}
	return nil
}

// IsAllowedImageContentType reports whether staged uploads may use ct.
func (rv *RequestValidator) IsAllowedImageContentType(ct string) bool {
	return allowedImageTypes[strings.ToLower(strings.TrimSpace(ct))]
}

func allowedImageTypeList() []string {
	types := make([]string, 0, len(allowedImageTypes))
	for t := range allowedImageTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
