package service

import (
	"errors"
	"strings"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/pkg/jwt"
	"github.com/3588044667HZ/LightMessage-backend/pkg/password"
)

// ErrInvalidCredentials 用户不存在或密码错误
// 对外统一这一种错误，不区分具体原因
var ErrInvalidCredentials = errors.New("用户ID或密码错误")

// UserService 用户服务，负责注册、认证和资料
type UserService struct {
	repo   *repository.UserRepository
	tokens *jwt.TokenService
}

// NewUserService 创建UserService实例
func NewUserService(repo *repository.UserRepository, tokens *jwt.TokenService) *UserService {
	return &UserService{repo: repo, tokens: tokens}
}

// Register 注册新用户
func (s *UserService) Register(username, nickname, plainPassword string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || plainPassword == "" {
		return nil, errors.New("用户名和密码不能为空")
	}
	if len(plainPassword) < 6 {
		return nil, errors.New("密码至少6位")
	}
	if _, err := s.repo.GetByUsername(username); err == nil {
		return nil, errors.New("用户名已存在")
	}

	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, err
	}
	if nickname == "" {
		nickname = username
	}
	user := &model.User{
		Username:     username,
		Nickname:     nickname,
		PasswordHash: hash,
		Status:       model.UserStatusOffline,
		LastSeen:     time.Now(),
	}
	if err := s.repo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 按用户ID和密码认证，成功后签发token
// 认证失败统一返回 ErrInvalidCredentials，避免泄露用户是否存在
func (s *UserService) Login(userID uint, plainPassword string) (*model.User, string, error) {
	user, err := s.repo.GetByID(userID)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if !password.Verify(plainPassword, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Logout 注销，吊销当前token
func (s *UserService) Logout(token string) error {
	if !s.tokens.RevokeToken(token) {
		return errors.New("token无法吊销")
	}
	return nil
}

// VerifyToken 校验token并返回用户ID
func (s *UserService) VerifyToken(token string) (uint, error) {
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID(), nil
}

// Profile 获取用户资料（不含密码哈希）
func (s *UserService) Profile(userID uint) (map[string]interface{}, error) {
	user, err := s.repo.GetByID(userID)
	if err != nil {
		return nil, errors.New("用户不存在")
	}
	return userBrief(user), nil
}

// Directory 通讯录列表，按ID排序
func (s *UserService) Directory(limit int) ([]map[string]interface{}, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	users, err := s.repo.ListAll(limit)
	if err != nil {
		return nil, err
	}
	return UserBriefs(users), nil
}

// userBrief 用户资料的对外视图
func userBrief(u *model.User) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    u.ID,
		"username":   u.Username,
		"nickname":   u.Nickname,
		"avatar":     u.Avatar,
		"department": u.Department,
		"tags":       u.Tags,
		"status":     u.Status,
		"last_seen":  u.LastSeen.Unix(),
	}
}

// UserBriefs 批量转资料视图
func UserBriefs(users []*model.User) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		out = append(out, userBrief(u))
	}
	return out
}
