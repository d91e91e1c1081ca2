package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/config"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenService 提供会话令牌的签发、校验与吊销能力
// 使用对称密钥 HS256；校验是无状态的，吊销集合按 jti 记录
// 吊销集合仅存内存：进程重启后未过期但已吊销的令牌会重新生效（记录在案的取舍）

type TokenService struct {
	secretKey   []byte        // 对称密钥
	issuer      string        // 签发者
	expireAfter time.Duration // 过期时间

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> 令牌过期时间，过期后即可遗忘
}

// SessionClaims 令牌声明载荷
// Subject 存用户ID，Username 为非敏感扩展字段，ID(jti) 用于吊销

type SessionClaims struct {
	Username string `json:"username,omitempty"`
	jwtv5.RegisteredClaims
}

// ErrInvalidToken 令牌格式错误、签名不符、已过期或已吊销
var ErrInvalidToken = errors.New("invalid token")

// NewTokenService 创建令牌服务
func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secretKey:   []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		expireAfter: cfg.ExpireTime,
		revoked:     make(map[string]time.Time),
	}
}

// GenerateToken 为用户签发访问令牌
func (s *TokenService) GenerateToken(userID uint, username string) (string, error) {
	if userID == 0 {
		return "", errors.New("userID is required")
	}

	now := time.Now()
	expiresAt := now.Add(s.expireAfter)

	claims := &SessionClaims{
		Username: username,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
			ID:        uuid.NewString(), // jti，唯一标识
		},
	}

	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// VerifyToken 校验并解析令牌
// 格式错误、签名不符、过期、已吊销统一返回 ErrInvalidToken，不向上层抛异常细节
func (s *TokenService) VerifyToken(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &SessionClaims{}
	parsedToken, err := jwtv5.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwtv5.Token) (interface{}, error) {
			if token.Method != jwtv5.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		},
		jwtv5.WithIssuer(s.issuer),
	)
	if err != nil || !parsedToken.Valid {
		return nil, ErrInvalidToken
	}

	// 检查吊销集合
	s.mu.Lock()
	_, isRevoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if isRevoked {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RevokeToken 吊销令牌
// 使用容忍过期的解析，已过期的令牌也可以幂等地吊销
func (s *TokenService) RevokeToken(tokenString string) bool {
	claims := &SessionClaims{}
	parser := jwtv5.NewParser(jwtv5.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwtv5.Token) (interface{}, error) {
		if token.Method != jwtv5.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || claims.ID == "" {
		return false
	}

	expiresAt := time.Now().Add(s.expireAfter)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.revoked[claims.ID] = expiresAt
	s.evictExpiredLocked(time.Now())
	s.mu.Unlock()

	return true
}

// UserIDFromToken 从令牌解析用户ID；令牌无效时返回0
func (s *TokenService) UserIDFromToken(tokenString string) uint {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// UserID 解析声明中的用户ID
func (c *SessionClaims) UserID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// evictExpiredLocked 清理已过期的吊销记录，保证集合有界
// 调用方必须持有 s.mu
func (s *TokenService) evictExpiredLocked(now time.Time) {
	for jti, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, jti)
		}
	}
}
