// Package httperr writes the JSON error envelope used by the HTTP API.
package httperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq"
)

// Response is the error body returned to clients.
type Response struct {
	Status int `json:"-"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
	Detail any `json:"detail,omitempty"`
}

// AbortWithError records err on the context for the logging middleware and
// aborts with a JSON error body.
func AbortWithError(c *gin.Context, status int, err error, msg string, detail any) {
	if err == nil {
		panic("AbortWithError: err cannot be nil")
	}

	resp := Response{Status: status}
	resp.Error.Message = msg
	resp.Detail = detail

	_ = c.Error(gin.Error{
		Err:  err,
		Type: gin.ErrorTypePublic,
		Meta: resp,
	})
	c.AbortWithStatusJSON(status, resp)
}

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case renderq.IsNotFound(err):
		return http.StatusNotFound
	case renderq.IsConflict(err):
		return http.StatusConflict
	case renderq.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Abort maps err to a status and aborts. Internal errors are not echoed
// back to the client.
func Abort(c *gin.Context, err error, msg string) {
	status := StatusOf(err)
	var detail any
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	AbortWithError(c, status, err, msg, detail)
}

// BadRequest aborts with 400 and the error text as detail.
func BadRequest(c *gin.Context, err error, msg string) {
	AbortWithError(c, http.StatusBadRequest, err, msg, err.Error())
}
