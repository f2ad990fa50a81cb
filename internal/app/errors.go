package app

import (
	"fmt"
	"net/http"
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

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", message, details)
}

func quotaExceeded(violations []string) *DomainError {
	return domainError(http.StatusForbidden, "QUOTA_EXCEEDED", "Quota exceeded", map[string]any{
		"violations": violations,
	})
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
