package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
)

const (
	ErrorRemoteUnavailable = "SESSION_REMOTE_UNAVAILABLE"
	ErrorRemoteRejected    = "SESSION_REMOTE_REJECTED"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ErrorBadInput
	case goerrors.CategoryNotFound:
		return core.ErrorUserNotResolved
	case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryConflict:
		return ErrorRemoteRejected
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return ErrorRemoteUnavailable
	default:
		return core.ErrorInternal
	}
}

// categoryForStatus maps a remote HTTP status onto an error category.
func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return goerrors.CategoryBadInput
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	default:
		return goerrors.CategoryExternal
	}
}
