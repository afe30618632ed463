package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session-sync/core"
)

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func queryValidationError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.FromOzzoValidation(err, "query: validation failed").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}
