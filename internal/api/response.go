package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// Result is the envelope of every response.
type Result struct {
	OK    bool         `json:"ok"`
	Data  interface{}  `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries the stable error kind and a readable message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusByKind maps exception.Kind values to HTTP status codes.
var statusByKind = map[string]int{
	"already_planned":    http.StatusConflict,
	"invalid_filter":     http.StatusBadRequest,
	"invalid_transition": http.StatusConflict,
	"not_found":          http.StatusNotFound,
	"conflict":           http.StatusConflict,
	"source_unavailable": http.StatusBadGateway,
	"batch_fatal":        http.StatusBadGateway,
}

func respond(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Result{OK: true, Data: data})
}

func respondError(c *gin.Context, err error) {
	kind := exception.Kind(err)
	code, ok := statusByKind[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(code, Result{Error: &ErrorDetail{Kind: kind, Message: err.Error()}})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Result{Error: &ErrorDetail{Kind: "invalid_request", Message: msg}})
}
