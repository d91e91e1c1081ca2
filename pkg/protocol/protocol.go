package protocol

import (
	"encoding/json"
	"time"
)

// 响应状态码，沿用HTTP语义
const (
	CodeOK           = 200 // 成功
	CodeAccepted     = 202 // 已受理（对方离线，消息已入离线队列）
	CodeBadRequest   = 400 // 请求格式错误
	CodeUnauthorized = 401 // 未认证或token无效
	CodeForbidden    = 403 // 无权限
	CodeNotFound     = 404 // 资源或路由不存在
	CodeInternal     = 500 // 服务器内部错误
)

// Envelope 客户端发来的请求帧
// request_id 由客户端生成，响应原样带回以便匹配
type Envelope struct {
	Endpoint  string          `json:"endpoint"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response 服务端下发帧，包括请求响应和主动推送
// 推送帧没有 request_id
type Response struct {
	Endpoint  string      `json:"endpoint"`
	Data      interface{} `json:"data"`
	Code      int         `json:"code"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewResponse 构造响应帧，时间戳取当前秒级时间
func NewResponse(endpoint string, code int, data interface{}, requestID string) *Response {
	return &Response{
		Endpoint:  endpoint,
		Data:      data,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}

// NewPush 构造服务端主动推送帧
func NewPush(endpoint string, data interface{}) *Response {
	return &Response{
		Endpoint:  endpoint,
		Data:      data,
		Code:      CodeOK,
		Timestamp: time.Now().Unix(),
	}
}

// Marshal 序列化为线上JSON
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Error 业务错误，携带响应状态码
// 处理函数返回 *Error 时由分发器映射为对应 code 的错误响应
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError 自定义状态码错误
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrBadRequest 400错误
func ErrBadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

// ErrUnauthorized 401错误
func ErrUnauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

// ErrForbidden 403错误
func ErrForbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// ErrNotFound 404错误
func ErrNotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// ErrInternal 500错误
func ErrInternal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}
