package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"go.uber.org/zap"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// business codes: first digits are the HTTP status, last two the kind.
var statusByCode = map[apperr.Code]struct {
	status int
	code   int
}{
	apperr.CodeInvalidArgument:    {http.StatusBadRequest, 40001},
	apperr.CodeFailedPrecondition: {http.StatusBadRequest, 40002},
	apperr.CodeUnauthenticated:    {http.StatusUnauthorized, 40101},
	apperr.CodePermissionDenied:   {http.StatusForbidden, 40301},
	apperr.CodeNotFound:           {http.StatusNotFound, 40401},
	apperr.CodeAlreadyExists:      {http.StatusConflict, 40901},
	apperr.CodeInternal:           {http.StatusInternalServerError, 50001},
}

// FailErr writes err using its apperr code. Anything that is not an AppError
// is logged and reported as a generic internal error.
func FailErr(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	m := statusByCode[code]
	msg := "internal error"
	var ae *apperr.AppError
	if code != apperr.CodeInternal && errors.As(err, &ae) {
		msg = ae.Message
	} else {
		logger.FromContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Fail(c, m.status, m.code, msg)
}
