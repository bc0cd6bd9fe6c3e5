package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the status code the runs API responds with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
