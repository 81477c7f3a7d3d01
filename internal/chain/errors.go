package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 链上错误分类
type ErrorKind string

const (
	ErrorKindNetwork        ErrorKind = "network"         // 网络错误，可重试
	ErrorKindGas            ErrorKind = "gas"             // gas或余额不足，需补充后重试
	ErrorKindContractRevert ErrorKind = "contract_revert" // 合约回退，需修正输入后重试
	ErrorKindTimeout        ErrorKind = "timeout"         // 确认超时，不自动重新提交
	ErrorKindValidation     ErrorKind = "validation"      // 参数校验失败，不触链
	ErrorKindUnknown        ErrorKind = "unknown"         // 未知错误
)

// ChainError 链上操作错误
type ChainError struct {
	Kind    ErrorKind
	TxHash  string
	Message string
	Err     error
}

func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewValidationError 创建校验错误
func NewValidationError(message string) *ChainError {
	return &ChainError{Kind: ErrorKindValidation, Message: message}
}

// NewNetworkError 创建网络错误
func NewNetworkError(message string, err error) *ChainError {
	return &ChainError{Kind: ErrorKindNetwork, Message: message, Err: err}
}

// NewContractError 创建合约错误
func NewContractError(message string, err error) *ChainError {
	return &ChainError{Kind: ErrorKindContractRevert, Message: message, Err: err}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(txHash string, message string) *ChainError {
	return &ChainError{Kind: ErrorKindTimeout, TxHash: txHash, Message: message}
}

// Classify 将底层错误归入封闭的错误分类
//
// RPC层不会统一暴露结构化错误码，因此对错误文本做关键字匹配；
// 已携带分类的ChainError直接返回其分类。
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Kind
	}

	message := strings.ToLower(err.Error())

	switch {
	case strings.Contains(message, "timeout") || strings.Contains(message, "timed out"):
		return ErrorKindTimeout
	case strings.Contains(message, "connection") ||
		strings.Contains(message, "network") ||
		strings.Contains(message, "refused") ||
		strings.Contains(message, "no such host"):
		return ErrorKindNetwork
	case strings.Contains(message, "out of gas") ||
		strings.Contains(message, "gas") ||
		strings.Contains(message, "insufficient funds") ||
		strings.Contains(message, "insufficient balance"):
		return ErrorKindGas
	case strings.Contains(message, "revert") ||
		strings.Contains(message, "execution failed") ||
		strings.Contains(message, "execution reverted"):
		return ErrorKindContractRevert
	case strings.Contains(message, "invalid address"):
		return ErrorKindValidation
	default:
		return ErrorKindUnknown
	}
}

// Describe 生成面向运营人员的错误描述
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) && chainErr.Kind == ErrorKindValidation {
		return chainErr.Message
	}

	switch Classify(err) {
	case ErrorKindNetwork:
		return "网络连接错误: " + err.Error()
	case ErrorKindGas:
		return "gas或余额不足: " + err.Error()
	case ErrorKindContractRevert:
		return "合约执行回退: " + err.Error()
	case ErrorKindTimeout:
		return "交易确认超时: " + err.Error()
	case ErrorKindValidation:
		return "参数校验失败: " + err.Error()
	default:
		return "链上操作错误: " + err.Error()
	}
}

// Retryable 该分类是否允许直接重试
//
// gas和合约回退需运营人员处理后才能重试，超时不自动重新提交以避免重复上链。
func Retryable(kind ErrorKind) bool {
	return kind == ErrorKindNetwork || kind == ErrorKindTimeout
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	var chainErr *ChainError
	return errors.As(err, &chainErr) && chainErr.Kind == ErrorKindValidation
}
