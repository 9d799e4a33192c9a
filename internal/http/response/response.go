package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rocoloco/brandguard-backend/internal/platform/apierr"
	"github.com/rocoloco/brandguard-backend/internal/platform/ctxutil"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error:     APIError{Message: msg, Code: code},
		RequestID: ctxutil.RequestID(c.Request.Context()),
	})
}

// RespondServiceError maps an apierr-tagged error onto the wire.
func RespondServiceError(c *gin.Context, err error) {
	status, code := apierr.StatusOf(err)
	RespondError(c, status, code, err)
}

// RespondOK stamps the request id into the payload map and writes 200.
func RespondOK(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	if _, ok := payload["request_id"]; !ok {
		payload["request_id"] = ctxutil.RequestID(c.Request.Context())
	}
	c.JSON(http.StatusOK, payload)
}
