package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorProvider               = "SESSION_PROVIDER_ERROR"
	ErrorProviderMisconfigured  = "SESSION_PROVIDER_MISCONFIGURED"
	ErrorProvisioningFailed     = "SESSION_PROVISIONING_FAILED"
	ErrorFetchFailed            = "SESSION_FETCH_FAILED"
	ErrorAcknowledgeFailed      = "SESSION_ACKNOWLEDGE_FAILED"
	ErrorInvalidTransition      = "SESSION_INVALID_TRANSITION"
	ErrorBadInput               = "SESSION_BAD_INPUT"
	ErrorUserNotResolved        = "SESSION_USER_NOT_RESOLVED"
	ErrorInternal               = "SESSION_INTERNAL_ERROR"
	metadataKeyOperation        = "operation"
	defaultInternalErrorMessage = "An unexpected error occurred"
)

// ErrUserNotResolved is returned by UserResolver implementations when no
// backend user exists for an email.
var ErrUserNotResolved = errors.New("core: user not resolved")

// ErrProviderMisconfigured is the terminal initialization failure raised when
// the identity provider is missing a required startup parameter.
var ErrProviderMisconfigured = errors.New("core: identity provider misconfigured")

func ProviderError(err error, operation string) *goerrors.Error {
	if IsMisconfigured(err) {
		return MisconfiguredError(err, operation)
	}
	return wrapSessionError(err, goerrors.CategoryExternal, ErrorProvider, "identity provider "+operation+" failed", operation, nil)
}

func MisconfiguredError(err error, operation string) *goerrors.Error {
	if err == nil {
		err = ErrProviderMisconfigured
	}
	return wrapSessionError(err, goerrors.CategoryInternal, ErrorProviderMisconfigured, "identity provider is misconfigured", operation, nil).
		WithSeverity(goerrors.SeverityCritical)
}

func ProvisioningError(err error, email string) *goerrors.Error {
	return wrapSessionError(err, goerrors.CategoryExternal, ErrorProvisioningFailed, "user provisioning failed", "ensure_user",
		map[string]any{"email": NormalizeEmail(email)})
}

func FetchError(err error, resource string) *goerrors.Error {
	return wrapSessionError(err, goerrors.CategoryExternal, ErrorFetchFailed, resource+" fetch failed", "fetch_"+resource, nil)
}

func AcknowledgeError(err error, notificationID string) *goerrors.Error {
	return wrapSessionError(err, goerrors.CategoryExternal, ErrorAcknowledgeFailed, "notification acknowledge failed", "acknowledge_notification",
		map[string]any{"notification_id": strings.TrimSpace(notificationID)})
}

func InvalidTransitionError(from SessionState, operation string) *goerrors.Error {
	return goerrors.New("session: "+operation+" not allowed from "+string(from), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorInvalidTransition).
		WithMetadata(map[string]any{
			metadataKeyOperation: operation,
			"state":              string(from),
		})
}

func BadInputError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

func InternalError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

func wrapSessionError(
	source error,
	category goerrors.Category,
	textCode string,
	message string,
	operation string,
	metadata map[string]any,
) *goerrors.Error {
	var out *goerrors.Error
	if source == nil {
		out = goerrors.New(message, category)
	} else {
		out = goerrors.Wrap(source, category, message)
	}
	out = out.WithCode(sessionHTTPStatus(category)).WithTextCode(textCode)
	fields := map[string]any{}
	for key, value := range metadata {
		fields[key] = value
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		fields[metadataKeyOperation] = operation
	}
	if len(fields) > 0 {
		out.WithMetadata(fields)
	}
	return out
}

// IsMisconfigured reports whether err is the terminal provider misconfiguration.
func IsMisconfigured(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderMisconfigured) {
		return true
	}
	return HasTextCode(err, ErrorProviderMisconfigured)
}

// IsRecoverable reports whether the process may continue after err. Only a
// misconfigured provider is terminal.
func IsRecoverable(err error) bool {
	return err != nil && !IsMisconfigured(err)
}

func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

// MapError converts any error into the session error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSessionErrorEnvelope(richErr)
	}
	switch {
	case errors.Is(err, ErrProviderMisconfigured):
		return MisconfiguredError(err, "")
	case errors.Is(err, ErrUserNotResolved):
		return wrapSessionError(err, goerrors.CategoryNotFound, ErrorUserNotResolved, "user not resolved", "", nil)
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return BadInputError(err.Error())
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSessionErrorEnvelope(mapped)
}

func ensureSessionErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = sessionHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSessionTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = defaultInternalErrorMessage
	}
	return err
}

func defaultSessionTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryConflict:
		return ErrorInvalidTransition
	case goerrors.CategoryNotFound:
		return ErrorUserNotResolved
	case goerrors.CategoryExternal:
		return ErrorProvider
	default:
		return ErrorInternal
	}
}

func sessionHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
