// Package httperr translates the error taxonomy of spec.md §7 into HTTP
// status codes, the way the teacher's services/httpd handler inspects
// returned errors and picks a status before writing the response.
package httperr

import (
	"net/http"

	"github.com/dzhibas/flagfiled/lang"
	"github.com/dzhibas/flagfiled/store"
)

// AuthError is returned by the auth gate for a missing/invalid/unauthorized
// bearer token; the HTTP layer further distinguishes 401 vs 403 via Forbidden.
type AuthError struct {
	Forbidden bool
	Msg       string
}

func (e *AuthError) Error() string { return e.Msg }

// ReplicationError is returned when a write cannot be proposed or forwarded:
// no known leader, proposal timeout, or a failed forward RPC.
type ReplicationError struct {
	Msg string
}

func (e *ReplicationError) Error() string { return e.Msg }

// NotFoundError is returned for an unknown namespace or flag.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// ConfigError is returned for a malformed or invalid configuration value
// encountered at request time (e.g. an unsupported ff_output parameter).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// StatusFor maps an error produced anywhere in the stack to the HTTP status
// code the handler should respond with, per spec.md §7.
func StatusFor(err error) int {
	switch err.(type) {
	case *lang.ParseError:
		return http.StatusUnprocessableEntity
	case *store.StorageError:
		return http.StatusInternalServerError
	case *ReplicationError:
		return http.StatusServiceUnavailable
	case *AuthError:
		if err.(*AuthError).Forbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case *NotFoundError:
		return http.StatusNotFound
	case *lang.EvalError:
		return http.StatusUnprocessableEntity
	case *ConfigError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
