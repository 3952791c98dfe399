package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/oi-gatherer/internal/aggregate"
	"github.com/rickgao/oi-gatherer/internal/api"
	"github.com/rickgao/oi-gatherer/internal/metastore"
	"github.com/rickgao/oi-gatherer/internal/store"
)

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
	})
}

// failErr maps domain errors onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, aggregate.ErrInvalidArgument), errors.Is(err, metastore.ErrInvalidValue):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrFetchFailed), errors.Is(err, api.ErrMalformedPayload):
		status = http.StatusBadGateway
	}
	_ = c.Error(err)
	fail(c, status, err.Error())
}
