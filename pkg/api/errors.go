package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/services"
)

// errorBody is the serialized error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeServiceError maps a service-layer error to an HTTP error envelope.
// Internal causes are logged, never serialized.
func writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"}

	var reqErr *services.RequestError
	if errors.As(err, &reqErr) {
		body = errorBody{Code: reqErr.Code, Message: reqErr.UserMessage}
		switch reqErr.Code {
		case services.CodeInvalidRequest:
			status = http.StatusBadRequest
		case services.CodeSessionNotFound:
			status = http.StatusNotFound
		case services.CodeRequestTimeout:
			status = http.StatusGatewayTimeout
		case services.CodeRequestCancelled:
			status = http.StatusRequestTimeout
		default:
			if errors.Is(err, llm.ErrUnauthorized) || errors.Is(err, llm.ErrTimeout) {
				status = http.StatusBadGateway
			}
		}
	}

	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error", "error", err)
	}

	c.JSON(status, gin.H{
		"success":   false,
		"timestamp": time.Now().UTC(),
		"error":     body,
	})
}
