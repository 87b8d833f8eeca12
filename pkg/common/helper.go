package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/xerr"
)

// Response 是对外 http 返回格式
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// SuccessList is Success with the number of returned rows attached.
func SuccessList(ctx *gin.Context, data interface{}, count int) {
	ctx.JSON(http.StatusOK, Response{Success: true, Data: data, Count: &count})
}

func Fail(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{Success: false, Message: message})
}

// FailErr maps an xerr code to an http status. Foreign errors become 500 and
// their text is only logged.
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	status := httpStatusOf(code)
	if status >= http.StatusInternalServerError {
		logger.Warn(c.Request.Context(), "http error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", code),
			zap.Error(err),
		)
	}
	Fail(c, status, xerr.MsgOf(err))
}

func httpStatusOf(code int) int {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest
	case xerr.RecordNotFound, xerr.NoData:
		return http.StatusNotFound
	case xerr.BusError, xerr.DbDisabled, xerr.DbError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
