package utils

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playmate-chat/apperrors"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Error *apperrors.AppError `json:"error"`
}

func RespondSuccess(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// RespondError maps err onto its HTTP status. Internal causes are logged
// and replaced by a generic message.
func RespondError(c *gin.Context, log *zap.Logger, err error) {
	body := &apperrors.AppError{Code: apperrors.CodeInternal, Message: "internal error"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code != apperrors.CodeInternal {
		body = &apperrors.AppError{Code: appErr.Code, Message: appErr.Message}
	}
	if body.Code == apperrors.CodeInternal && log != nil {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(apperrors.HTTPStatus(body.Code), ErrorBody{Error: body})
}
