package websocket

import (
	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	"github.com/3588044667HZ/LightMessage-backend/pkg/protocol"

	"go.uber.org/zap"
)

// groupView 群信息的对外视图
func groupView(g *model.Group) map[string]interface{} {
	return map[string]interface{}{
		"group_id":     g.GroupID,
		"name":         g.Name,
		"owner_id":     g.OwnerID,
		"description":  g.Description,
		"avatar":       g.Avatar,
		"member_count": g.MemberCount,
		"status":       g.Status,
		"settings":     g.SettingsMap(),
		"created_at":   g.CreatedAt.Unix(),
	}
}

// requireRole 检查操作者在群内的最低角色
// owner > admin > member
func (s *Server) requireRole(groupID string, userID uint, minRole string) (string, error) {
	role, err := s.group.GetRole(groupID, userID)
	if err != nil {
		return "", err
	}
	rank := map[string]int{model.RoleOwner: 3, model.RoleAdmin: 2, model.RoleMember: 1}
	if rank[role] < rank[minRole] {
		return role, protocol.ErrForbidden("权限不足")
	}
	return role, nil
}

// handleGroupCreate /group/create
func (s *Server) handleGroupCreate(ctx *Context) (interface{}, error) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		MemberIDs   []uint `json:"member_ids"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, protocol.ErrBadRequest("缺少群名称")
	}

	group, err := s.group.CreateGroup(req.Name, req.Description, ctx.UserID, nil)
	if err != nil {
		return nil, err
	}

	// 初始成员尽力拉入，个别失败不影响建群
	for _, memberID := range req.MemberIDs {
		if memberID == ctx.UserID {
			continue
		}
		if err := s.group.AddMember(group.GroupID, memberID, model.RoleMember); err != nil {
			logger.Warn("建群拉人失败",
				zap.String("group_id", group.GroupID),
				zap.Uint("member_id", memberID),
				zap.Error(err))
			continue
		}
		s.PushToUser(memberID, protocol.NewPush("/group/notification", map[string]interface{}{
			"group_id":   group.GroupID,
			"group_name": group.Name,
			"event":      "invited",
			"inviter_id": ctx.UserID,
		}))
	}

	created, err := s.group.GetGroup(group.GroupID)
	if err != nil {
		created = group
	}
	logger.Info("创建群组",
		zap.String("group_id", group.GroupID),
		zap.Uint("owner_id", ctx.UserID))
	return map[string]interface{}{"group": groupView(created)}, nil
}

// handleGroupJoin /group/join
// invite_permission=all 时才允许自助加群，否则需要邀请
func (s *Server) handleGroupJoin(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" {
		return nil, protocol.ErrBadRequest("缺少group_id")
	}

	group, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	if group.Settings.InvitePermission != model.InviteAll {
		return nil, protocol.ErrForbidden("该群仅允许邀请加入")
	}
	if err := s.group.AddMember(req.GroupID, ctx.UserID, model.RoleMember); err != nil {
		return nil, err
	}

	_, username, _ := s.manager.BoundUser(ctx.Conn.ConnectionID)
	s.NotifyGroupEvent(req.GroupID, "member_joined", map[string]interface{}{
		"user_id":  ctx.UserID,
		"username": username,
	}, ctx.UserID)

	joined, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		joined = group
	}
	return map[string]interface{}{"group": groupView(joined)}, nil
}

// handleGroupInvite /group/invite
// 邀请权限按群设置分级检查
func (s *Server) handleGroupInvite(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
		UserID  uint   `json:"user_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或user_id")
	}

	group, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	minRole := model.RoleMember
	switch group.Settings.InvitePermission {
	case model.InviteAdmin:
		minRole = model.RoleAdmin
	case model.InviteOwner:
		minRole = model.RoleOwner
	}
	if _, err := s.requireRole(req.GroupID, ctx.UserID, minRole); err != nil {
		return nil, err
	}

	if _, err := s.userRepo.GetByID(req.UserID); err != nil {
		return nil, protocol.ErrNotFound("用户不存在")
	}
	if err := s.group.AddMember(req.GroupID, req.UserID, model.RoleMember); err != nil {
		return nil, err
	}

	s.PushToUser(req.UserID, protocol.NewPush("/group/notification", map[string]interface{}{
		"group_id":   req.GroupID,
		"group_name": group.Name,
		"event":      "invited",
		"inviter_id": ctx.UserID,
	}))
	s.NotifyGroupEvent(req.GroupID, "member_joined", map[string]interface{}{
		"user_id": req.UserID,
	}, req.UserID)
	return map[string]interface{}{"invited": req.UserID}, nil
}

// handleGroupLeave /group/leave
// 群主必须先转让才能退出
func (s *Server) handleGroupLeave(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" {
		return nil, protocol.ErrBadRequest("缺少group_id")
	}

	if err := s.group.RemoveMember(req.GroupID, ctx.UserID); err != nil {
		return nil, err
	}
	s.NotifyGroupEvent(req.GroupID, "member_left", map[string]interface{}{
		"user_id": ctx.UserID,
	}, ctx.UserID)
	return map[string]interface{}{"left": true}, nil
}

// handleGroupKick /group/kick
// 管理员可踢普通成员，群主可踢管理员，不能踢平级及以上
func (s *Server) handleGroupKick(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
		UserID  uint   `json:"user_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或user_id")
	}
	if req.UserID == ctx.UserID {
		return nil, protocol.ErrBadRequest("不能踢出自己")
	}

	operatorRole, err := s.requireRole(req.GroupID, ctx.UserID, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	targetRole, err := s.group.GetRole(req.GroupID, req.UserID)
	if err != nil {
		return nil, err
	}
	rank := map[string]int{model.RoleOwner: 3, model.RoleAdmin: 2, model.RoleMember: 1}
	if rank[targetRole] >= rank[operatorRole] {
		return nil, protocol.ErrForbidden("不能踢出同级或更高角色的成员")
	}

	if err := s.group.RemoveMember(req.GroupID, req.UserID); err != nil {
		return nil, err
	}

	s.PushToUser(req.UserID, protocol.NewPush("/group/notification", map[string]interface{}{
		"group_id":    req.GroupID,
		"event":       "kicked",
		"operator_id": ctx.UserID,
	}))
	s.NotifyGroupEvent(req.GroupID, "member_kicked", map[string]interface{}{
		"user_id":     req.UserID,
		"operator_id": ctx.UserID,
	}, req.UserID)
	return map[string]interface{}{"kicked": req.UserID}, nil
}

// handleGroupUpdate /group/update
// 更新群名称/描述/头像，仅群主和管理员可改
func (s *Server) handleGroupUpdate(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID     string `json:"group_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Avatar      string `json:"avatar"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" {
		return nil, protocol.ErrBadRequest("缺少group_id")
	}
	fields := map[string]interface{}{}
	if req.Name != "" {
		fields["name"] = req.Name
	}
	if req.Description != "" {
		fields["description"] = req.Description
	}
	if req.Avatar != "" {
		fields["avatar"] = req.Avatar
	}
	if len(fields) == 0 {
		return nil, protocol.ErrBadRequest("没有可更新的字段")
	}

	if _, err := s.requireRole(req.GroupID, ctx.UserID, model.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.group.UpdateInfo(req.GroupID, fields); err != nil {
		return nil, err
	}
	group, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	s.NotifyGroupEvent(req.GroupID, "info_updated", map[string]interface{}{
		"group_name":  group.Name,
		"operator_id": ctx.UserID,
	}, ctx.UserID)
	return map[string]interface{}{"group": groupView(group)}, nil
}

// handleGroupSearch /group/search 按群名搜索活跃群
func (s *Server) handleGroupSearch(ctx *Context) (interface{}, error) {
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
	groups, err := s.group.Search(req.Keyword, req.Limit)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]interface{}, 0, len(groups))
	for _, g := range groups {
		views = append(views, groupView(g))
	}
	return map[string]interface{}{"groups": views}, nil
}

// handleGroupSettingsUpdate /group/settings/update
// 仅群主和管理员可改
func (s *Server) handleGroupSettingsUpdate(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID  string                 `json:"group_id"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || len(req.Settings) == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或settings")
	}
	if _, err := s.requireRole(req.GroupID, ctx.UserID, model.RoleAdmin); err != nil {
		return nil, err
	}

	if err := s.group.UpdateSettings(req.GroupID, req.Settings); err != nil {
		return nil, err
	}
	group, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	s.NotifyGroupEvent(req.GroupID, "settings_updated", map[string]interface{}{
		"settings":    group.SettingsMap(),
		"operator_id": ctx.UserID,
	}, ctx.UserID)
	return map[string]interface{}{"settings": group.SettingsMap()}, nil
}

// handleGroupMute /group/mute
// duration<=0 表示解除禁言；不能禁言同级及以上角色
func (s *Server) handleGroupMute(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID  string `json:"group_id"`
		UserID   uint   `json:"user_id"`
		Duration int64  `json:"duration"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或user_id")
	}

	operatorRole, err := s.requireRole(req.GroupID, ctx.UserID, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	targetRole, err := s.group.GetRole(req.GroupID, req.UserID)
	if err != nil {
		return nil, err
	}
	rank := map[string]int{model.RoleOwner: 3, model.RoleAdmin: 2, model.RoleMember: 1}
	if rank[targetRole] >= rank[operatorRole] {
		return nil, protocol.ErrForbidden("不能禁言同级或更高角色的成员")
	}

	if err := s.group.MuteMember(req.GroupID, req.UserID, req.Duration); err != nil {
		return nil, err
	}

	event := "member_muted"
	if req.Duration <= 0 {
		event = "member_unmuted"
	}
	s.PushToUser(req.UserID, protocol.NewPush("/group/notification", map[string]interface{}{
		"group_id":    req.GroupID,
		"event":       event,
		"duration":    req.Duration,
		"operator_id": ctx.UserID,
	}))
	return map[string]interface{}{"muted": req.Duration > 0, "user_id": req.UserID}, nil
}

// handleGroupTransfer /group/transfer
func (s *Server) handleGroupTransfer(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
		UserID  uint   `json:"user_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" || req.UserID == 0 {
		return nil, protocol.ErrBadRequest("缺少group_id或user_id")
	}

	if err := s.group.TransferOwnership(req.GroupID, ctx.UserID, req.UserID); err != nil {
		return nil, err
	}
	s.NotifyGroupEvent(req.GroupID, "ownership_transferred", map[string]interface{}{
		"from_id": ctx.UserID,
		"to_id":   req.UserID,
	}, 0)
	logger.Info("群主转让",
		zap.String("group_id", req.GroupID),
		zap.Uint("from", ctx.UserID),
		zap.Uint("to", req.UserID))
	return map[string]interface{}{"new_owner_id": req.UserID}, nil
}

// handleGroupDisband /group/disband
// 成员名册在解散事务前读取（事务会清空成员表），通知在解散成功之后才发出
func (s *Server) handleGroupDisband(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" {
		return nil, protocol.ErrBadRequest("缺少group_id")
	}

	memberIDs, err := s.group.GetMemberIDs(req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := s.group.Disband(req.GroupID, ctx.UserID); err != nil {
		return nil, err
	}

	s.pushGroupEvent(memberIDs, req.GroupID, "disbanded", map[string]interface{}{
		"operator_id": ctx.UserID,
	}, ctx.UserID)
	logger.Info("解散群组", zap.String("group_id", req.GroupID), zap.Uint("owner_id", ctx.UserID))
	return map[string]interface{}{"disbanded": true}, nil
}

// handleGroupList /group/list 我加入的群
func (s *Server) handleGroupList(ctx *Context) (interface{}, error) {
	groups, err := s.group.GetUserGroups(ctx.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]interface{}, 0, len(groups))
	for _, g := range groups {
		views = append(views, groupView(g))
	}
	return map[string]interface{}{"groups": views}, nil
}

// handleGroupInfo /group/info
// 群详情带成员名册，仅成员可见
func (s *Server) handleGroupInfo(ctx *Context) (interface{}, error) {
	var req struct {
		GroupID string `json:"group_id"`
	}
	if err := ctx.Bind(&req); err != nil {
		return nil, err
	}
	if req.GroupID == "" {
		return nil, protocol.ErrBadRequest("缺少group_id")
	}

	group, err := s.group.GetGroup(req.GroupID)
	if err != nil {
		return nil, err
	}
	ok, err := s.group.IsMember(req.GroupID, ctx.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocol.ErrForbidden("仅群成员可查看")
	}

	members, err := s.group.GetMembers(req.GroupID)
	if err != nil {
		return nil, err
	}
	roster := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		roster = append(roster, map[string]interface{}{
			"user_id":    m.UserID,
			"role":       m.Role,
			"nickname":   m.Nickname,
			"joined_at":  m.JoinedAt,
			"mute_until": m.MuteUntil,
			"online":     s.manager.IsOnline(m.UserID),
		})
	}
	view := groupView(group)
	view["members"] = roster
	return map[string]interface{}{"group": view}, nil
}
