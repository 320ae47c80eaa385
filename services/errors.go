package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yashrajoria/catalog-service/models"
)

// Issue codes reported in validation results.
const (
	CodeRequired               = "REQUIRED"
	CodeInvalid                = "INVALID"
	CodeUnknownAttribute       = "UNKNOWN_ATTRIBUTE"
	CodeDuplicateAttribute     = "DUPLICATE_ATTRIBUTE"
	CodeDuplicateConfiguration = "DUPLICATE_CONFIGURATION"
	CodeDuplicateIdentifier    = "DUPLICATE_IDENTIFIER"
	CodeIdentifierExists       = "IDENTIFIER_EXISTS"
	CodeUnknownCategory        = "UNKNOWN_CATEGORY"
	CodeInactiveCategory       = "INACTIVE_CATEGORY"
	CodeUnknownCollection      = "UNKNOWN_COLLECTION"
	CodeBadgeNotInCollections  = "BADGE_NOT_IN_COLLECTIONS"
	CodeUnknownParent          = "UNKNOWN_PARENT"
	CodeUnknownProduct         = "UNKNOWN_PRODUCT"
	CodeMissingImages          = "MISSING_IMAGES"
	CodeIgnoredField           = "IGNORED_FIELD"
	CodeOfferNotDiscounted     = "OFFER_NOT_DISCOUNTED"
)

// ValidationFailure is returned by a commit whose batch does not validate.
// The report lists every problem, nothing was written.
type ValidationFailure struct {
	Report *models.ValidationReport
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("import batch has %d validation errors", len(e.Report.Errors))
}

type UnknownAttributeError struct {
	Key string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("unknown attribute %q", e.Key)
}

type DuplicateConfigurationError struct {
	Row      string
	FirstRow string
}

func (e *DuplicateConfigurationError) Error() string {
	return fmt.Sprintf("row %s repeats the attribute configuration of row %s", e.Row, e.FirstRow)
}

type IdentifierCollisionError struct {
	Kind     string
	Value    string
	Attempts int
}

func (e *IdentifierCollisionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %q still collides after %d attempts", e.Kind, e.Value, e.Attempts)
	}
	return fmt.Sprintf("%s %q is already in use", e.Kind, e.Value)
}

type AssetPromotionFailure struct {
	TempKey string
	Locator string
	Err     error
}

func (e *AssetPromotionFailure) Error() string {
	return fmt.Sprintf("promote staged asset %s (%s): %v", e.TempKey, e.Locator, e.Err)
}

func (e *AssetPromotionFailure) Unwrap() error { return e.Err }

// PartialCompensationFailure lists compensating actions that failed. The
// catalog or asset storage may be left inconsistent and needs an operator.
type PartialCompensationFailure struct {
	Failures []error
}

func (e *PartialCompensationFailure) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d compensating actions failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *PartialCompensationFailure) Unwrap() []error { return e.Failures }

// SharedResourceConflict is reported when a superseded asset is still
// referenced elsewhere in the catalog. It is never fatal.
type SharedResourceConflict struct {
	Locator    string
	References int64
}

func (e *SharedResourceConflict) Error() string {
	return fmt.Sprintf("asset %s is still referenced by %d catalog entities", e.Locator, e.References)
}

// CommitFailure is returned when a commit was rolled back. Compensation is
// nil when every side effect was reversed.
type CommitFailure struct {
	State        CommitState
	Err          error
	Compensation *PartialCompensationFailure
}

func (e *CommitFailure) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("import commit failed in %s and rollback was incomplete: %v; %v", e.State, e.Err, e.Compensation)
	}
	return fmt.Sprintf("import commit failed in %s and was rolled back: %v", e.State, e.Err)
}

func (e *CommitFailure) Unwrap() error { return e.Err }

// RolledBackCleanly reports whether every side effect was reversed.
func (e *CommitFailure) RolledBackCleanly() bool { return e.Compensation == nil }

// AsValidationFailure returns the validation report carried by err, if any.
func AsValidationFailure(err error) (*ValidationFailure, bool) {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf, true
	}
	return nil, false
}
