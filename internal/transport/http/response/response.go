package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUnauthorized       = 40100
	CodeInternalServer     = 50000
	CodeUsernameExists     = 40001
	CodeEmailExists        = 40002
	CodeMessageEmpty       = 40003
	CodeInvalidCredentials = 40101
	CodeForbidden          = 40301
	CodeChatNotFound       = 40401
	CodeChatBusy           = 40901
	CodeNothingToRetry     = 40902
	CodeTriageUnavailable  = 50201
	CodeGenerationFailed   = 50202
	CodeStoreUnavailable   = 50301
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Code:    CodeOK,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
