package websocket

import (
	"strconv"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"
)

func parseUserID(raw string) uint {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// handleContactsList /contacts/list
// 在线状态以连接注册表为准，覆盖库里的缓存值
func (s *Server) handleContactsList(ctx *Context) (interface{}, error) {
	contacts, err := s.userRepo.GetContacts(ctx.UserID)
	if err != nil {
		return nil, err
	}
	views := service.UserBriefs(contacts)
	for i, u := range contacts {
		if s.manager.IsOnline(u.ID) {
			views[i]["status"] = "online"
		}
	}
	return map[string]interface{}{"contacts": views}, nil
}

// handleContactsAdd /contacts/add
// 互为联系人，双方的关系行在一个事务里写入
func (s *Server) handleContactsAdd(ctx *Context) (interface{}, error) {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少user_id")
	}

	if err := s.userRepo.AddContact(ctx.UserID, req.UserID); err != nil {
		return nil, protocol.ErrBadRequest(err.Error())
	}

	_, username, _ := s.manager.BoundUser(ctx.Conn.ConnectionID)
	s.PushToUser(req.UserID, protocol.NewPush("/contacts/added", map[string]interface{}{
		"user_id":  ctx.UserID,
		"username": username,
	}))
	return map[string]interface{}{"added": req.UserID}, nil
}

// handleContactsRemove /contacts/remove
func (s *Server) handleContactsRemove(ctx *Context) (interface{}, error) {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少user_id")
	}
	if err := s.userRepo.RemoveContact(ctx.UserID, req.UserID); err != nil {
		return nil, protocol.ErrBadRequest(err.Error())
	}
	return map[string]interface{}{"removed": req.UserID}, nil
}

// handleContactsSearch /contacts/search 按用户名或昵称搜索
func (s *Server) handleContactsSearch(ctx *Context) (interface{}, error) {
	var req struct {
		Keyword string `json:"keyword"`
		Limit   int    `json:"limit"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.Keyword == "" {
		return nil, protocol.ErrBadRequest("缺少keyword")
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 20
	}
	users, err := s.userRepo.Search(req.Keyword, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"users": service.UserBriefs(users)}, nil
}

// handleSystemInfo /system/info 服务运行信息
func (s *Server) handleSystemInfo(ctx *Context) (interface{}, error) {
	connections, onlineUsers := s.manager.Stats()
	return map[string]interface{}{
		"server_time":  time.Now().Unix(),
		"connections":  connections,
		"online_users": onlineUsers,
	}, nil
}
