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

const (
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeNotFound              = "NOT_FOUND"
	CodeForbidden             = "FORBIDDEN"
	CodeInvalidRange          = "INVALID_RANGE"
	CodeEmptyContent          = "EMPTY_CONTENT"
	CodeContentTooLong        = "CONTENT_TOO_LONG"
	CodeTooManyAnchors        = "TOO_MANY_ANCHORS"
	CodeInvalidAnchor         = "INVALID_ANCHOR"
	CodeInvalidBody           = "INVALID_BODY"
	CodeInvalidSize           = "INVALID_SIZE"
	CodeRateLimited           = "RATE_LIMITED"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeServerError           = "SERVER_ERROR"
)

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func errInvalidRange(from, to int) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidRange, "anchorTo must be greater than anchorFrom and anchorFrom at least 1",
		map[string]any{"anchorFrom": from, "anchorTo": to})
}

func errEmptyContent() *DomainError {
	return domainError(http.StatusBadRequest, CodeEmptyContent, "content is required", nil)
}

func errContentTooLong(length int) *DomainError {
	return domainError(http.StatusBadRequest, CodeContentTooLong,
		fmt.Sprintf("content exceeds %d characters", MaxContentLength),
		map[string]any{"length": length, "max": MaxContentLength})
}

func errTooManyAnchors(count int) *DomainError {
	return domainError(http.StatusBadRequest, CodeTooManyAnchors,
		fmt.Sprintf("at most %d anchors per request", MaxAnchorsPerSync),
		map[string]any{"count": count, "max": MaxAnchorsPerSync})
}

func errInvalidAnchor(index int) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidAnchor, "anchor id is required", map[string]any{"index": index})
}

func errInvalidSize(size int) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidSize, "size must not be negative", map[string]any{"size": size})
}

func errInvalidBody(err error) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidBody, "Invalid JSON body", map[string]any{"reason": err.Error()})
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

func errRateLimited() *DomainError {
	return domainError(http.StatusTooManyRequests, CodeRateLimited, "Too many anchor syncs, slow down", nil)
}

func errIdempotencyInProgress() *DomainError {
	return domainError(http.StatusConflict, CodeIdempotencyInProgress, "A request with this Idempotency-Key is still in progress", nil)
}
