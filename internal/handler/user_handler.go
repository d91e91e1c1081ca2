package handler

import (
	"strconv"

	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	"github.com/3588044667HZ/LightMessage-backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户相关的HTTP接口
// 注册和资料查询走HTTP，登录与消息收发走长连接
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler 创建UserHandler实例
func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Register 用户注册
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Nickname string `json:"nickname"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.service.Register(r.Username, r.Nickname, r.Password)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "注册成功", gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"nickname": user.Nickname,
	})
}

// Directory 通讯录列表
func (h *UserHandler) Directory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	users, err := h.service.Directory(limit)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"users": users})
}

// Profile 查询用户公开资料
func (h *UserHandler) Profile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "无效的用户ID")
		return
	}
	profile, err := h.service.Profile(uint(id))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, profile)
}
