package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	jsendSuccess = "success"
	jsendFail    = "fail"
	jsendError   = "error"
)

// jsendResponse is the envelope of every /api response: success carries data, fail carries a
// message and optional field details, error is reserved for server faults.
type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// page is the data of list endpoints.
type page[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, limit, offset int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Count: len(items), Limit: limit, Offset: offset}
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, jsendResponse{Status: jsendSuccess, Data: data})
}

func created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, jsendResponse{Status: jsendSuccess, Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, jsendResponse{Status: jsendFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

// failUnavailable answers 503 for a dependency that is down or a route whose collaborator is not
// configured in this process.
func failUnavailable(c echo.Context, message string, data any) error {
	return fail(c, http.StatusServiceUnavailable, message, data)
}

func internalError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, jsendResponse{
		Status:  jsendError,
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
