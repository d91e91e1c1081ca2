package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/jwt"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HandlerFunc 端点处理函数
// 返回的data由分发器包成200响应；返回 *protocol.Response 则原样下发
// 返回 (nil, nil) 表示处理函数已自行发送，分发器不再响应
type HandlerFunc func(ctx *Context) (interface{}, error)

type route struct {
	handler     HandlerFunc
	requireAuth bool
}

// Context 单次请求上下文，只在处理函数执行期间有效
type Context struct {
	Server    *Server
	Conn      *Client
	Endpoint  string
	RequestID string
	Data      json.RawMessage

	// UserID 认证端点下为token对应的用户，未认证端点为0
	UserID uint
}

// Bind 解析请求data到目标结构
func (ctx *Context) Bind(v interface{}) error {
	if len(ctx.Data) == 0 {
		return protocol.ErrBadRequest("缺少请求数据")
	}
	if err := json.Unmarshal(ctx.Data, v); err != nil {
		return protocol.ErrBadRequest("请求数据格式错误")
	}
	return nil
}

// Reply 向当前连接发送响应帧
func (ctx *Context) Reply(code int, data interface{}) {
	ctx.Server.sendFrame(ctx.Conn, protocol.NewResponse(ctx.Endpoint, code, data, ctx.RequestID))
}

// register 注册端点
func (s *Server) register(endpoint string, requireAuth bool, handler HandlerFunc) {
	s.routes[endpoint] = route{handler: handler, requireAuth: requireAuth}
}

// dispatch 处理一帧入站消息
// 信封解析失败→400；未知端点→404；认证失败→401；处理异常→500
// 任何错误都只回响应，绝不中断连接的读循环
func (s *Server) dispatch(client *Client, raw []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Endpoint == "" {
		s.sendFrame(client, protocol.NewResponse("/error", protocol.CodeBadRequest,
			map[string]interface{}{"error": "无法解析请求"}, ""))
		return
	}

	client.TouchActivity()

	rt, ok := s.routes[envelope.Endpoint]
	if !ok {
		s.sendFrame(client, protocol.NewResponse(envelope.Endpoint, protocol.CodeNotFound,
			map[string]interface{}{"error": "未知的端点"}, envelope.RequestID))
		return
	}

	ctx := &Context{
		Server:    s,
		Conn:      client,
		Endpoint:  envelope.Endpoint,
		RequestID: envelope.RequestID,
		Data:      envelope.Data,
	}

	if rt.requireAuth {
		userID, err := s.authenticateRequest(ctx)
		if err != nil {
			ctx.Reply(protocol.CodeUnauthorized, map[string]interface{}{"error": err.Error()})
			return
		}
		ctx.UserID = userID
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("处理端点请求时panic",
				zap.String("endpoint", envelope.Endpoint),
				zap.String("connection_id", client.ConnectionID),
				zap.Any("panic", r))
			ctx.Reply(protocol.CodeInternal, map[string]interface{}{"error": "服务器内部错误"})
		}
	}()

	result, err := rt.handler(ctx)
	if err != nil {
		code, message := errorToCode(err)
		if code == protocol.CodeInternal {
			logger.Error("端点处理失败",
				zap.String("endpoint", envelope.Endpoint),
				zap.Uint("user_id", ctx.UserID),
				zap.Error(err))
			message = "服务器内部错误"
		}
		ctx.Reply(code, map[string]interface{}{"error": message})
		return
	}
	if result == nil {
		return
	}
	if resp, ok := result.(*protocol.Response); ok {
		resp.RequestID = envelope.RequestID
		s.sendFrame(client, resp)
		return
	}
	ctx.Reply(protocol.CodeOK, result)
}

// authenticateRequest 从请求data中取token并校验
// token对应的用户必须与连接绑定的用户一致
func (s *Server) authenticateRequest(ctx *Context) (uint, error) {
	var body struct {
		Token string `json:"token"`
	}
	if len(ctx.Data) > 0 {
		_ = json.Unmarshal(ctx.Data, &body)
	}
	if body.Token == "" {
		return 0, errors.New("缺少token")
	}
	claims, err := s.tokens.VerifyToken(body.Token)
	if err != nil {
		return 0, errors.New("token无效或已失效")
	}
	userID := claims.UserID()
	boundID, _, ok := s.manager.BoundUser(ctx.Conn.ConnectionID)
	if !ok || boundID != userID {
		return 0, errors.New("连接未登录")
	}
	return userID, nil
}

// errorToCode 业务错误映射为响应状态码
func errorToCode(err error) (int, string) {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	switch {
	case errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, service.ErrInvalidCredentials):
		return protocol.CodeUnauthorized, err.Error()
	case errors.Is(err, service.ErrMuted),
		errors.Is(err, service.ErrNoSendPermission),
		errors.Is(err, repository.ErrOwnerLeave),
		errors.Is(err, repository.ErrNotOwner),
		errors.Is(err, repository.ErrDeleteForbidden):
		return protocol.CodeForbidden, err.Error()
	case errors.Is(err, repository.ErrGroupNotFound),
		errors.Is(err, repository.ErrNotMember),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, service.ErrReceiverNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return protocol.CodeNotFound, err.Error()
	case errors.Is(err, repository.ErrGroupDisbanded),
		errors.Is(err, repository.ErrAlreadyMember),
		errors.Is(err, repository.ErrGroupFull),
		errors.Is(err, service.ErrSelfMessage):
		return protocol.CodeBadRequest, err.Error()
	}
	return protocol.CodeInternal, fmt.Sprintf("%v", err)
}
