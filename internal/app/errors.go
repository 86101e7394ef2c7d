package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"synkdocs/api/internal/auth"
	"synkdocs/api/internal/export"
	"synkdocs/api/internal/gitrepo"
	"synkdocs/api/internal/prosemirror"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, prosemirror.ErrParse):
		return http.StatusBadRequest, "PARSE_ERROR", err.Error(), nil
	case errors.Is(err, prosemirror.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, prosemirror.ErrDepthExceeded):
		return http.StatusUnprocessableEntity, "DEPTH_EXCEEDED", err.Error(), nil
	case errors.Is(err, prosemirror.ErrSerialization):
		return http.StatusInternalServerError, "SERIALIZATION_ERROR", "Document could not be serialized", nil
	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, gitrepo.ErrRepoNotFound),
		errors.Is(err, gitrepo.ErrCommitNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
