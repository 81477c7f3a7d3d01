package handler

import (
	"net/http"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// chainErrorResponse 按错误分类映射HTTP状态码，校验错误归为客户端错误
func chainErrorResponse(c *gin.Context, err error) {
	if chain.IsValidation(err) {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
