package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/store"
)

// Config JWT 校验配置
type Config struct {
	// Secret HMAC 密钥
	Secret string `mapstructure:"secret"`

	// Issuer 期望的签发方，为空不校验
	Issuer string `mapstructure:"issuer"`

	// Audience 期望的受众，为空不校验
	Audience string `mapstructure:"audience"`

	// TokenType 期望的 type 声明（默认 "websocket"），"-" 表示不校验
	TokenType string `mapstructure:"token_type"`

	// Leeway 时钟偏差容忍
	Leeway time.Duration `mapstructure:"leeway"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{TokenType: "websocket", Leeway: 5 * time.Second}
}

// TokenClaims 令牌中的声明
type TokenClaims struct {
	UserID   string   `json:"user_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Type     string   `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier HMAC 签名的 JWT 校验器，可选吊销名单
type JWTVerifier struct {
	cfg     Config
	secret  []byte
	parser  *jwt.Parser
	store   store.Store
	lookups singleflight.Group
	log     logger.Logger
}

// JWTOption 选项
type JWTOption func(*JWTVerifier)

// WithRevocation 使用共享存储中的吊销名单
func WithRevocation(s store.Store) JWTOption {
	return func(v *JWTVerifier) { v.store = s }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) JWTOption {
	return func(v *JWTVerifier) { v.log = l.Named("auth") }
}

// NewJWTVerifier 创建校验器
func NewJWTVerifier(cfg Config, opts ...JWTOption) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if cfg.TokenType == "" {
		cfg.TokenType = DefaultConfig().TokenType
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		popts = append(popts, jwt.WithAudience(cfg.Audience))
	}

	v := &JWTVerifier{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(popts...),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *JWTVerifier) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrSignatureInvalid
	}
	return v.secret, nil
}

// Verify 校验令牌
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, errors.ErrTokenMissing
	}

	tc := &TokenClaims{}
	if _, err := v.parser.ParseWithClaims(raw, tc, v.keyFunc); err != nil {
		v.log.DebugContext(ctx, "token rejected", zap.Error(err))
		return nil, classify(err)
	}

	if v.cfg.TokenType != "-" && tc.Type != v.cfg.TokenType {
		return nil, errors.ErrTokenMalformed.WithMessage("unexpected token type")
	}

	userID := tc.UserID
	if userID == "" {
		userID = tc.Subject
	}
	if userID == "" {
		return nil, errors.ErrTokenMalformed.WithMessage("token has no subject")
	}

	if v.store != nil {
		revoked, err := v.revoked(ctx, raw)
		if err != nil {
			return nil, errors.ErrInternal.WithError(err)
		}
		if revoked {
			return nil, errors.ErrTokenRevoked
		}
	}

	username := tc.Username
	if username == "" {
		username = userID
	}
	return &Claims{
		UserID:    userID,
		Username:  username,
		Roles:     tc.Roles,
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

// Revoke 吊销令牌直到其过期
func (v *JWTVerifier) Revoke(ctx context.Context, raw string) error {
	if v.store == nil {
		return fmt.Errorf("auth: revocation store not configured")
	}
	tc := &TokenClaims{}
	if _, err := v.parser.ParseWithClaims(raw, tc, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return classify(err)
	}
	ttl := time.Until(tc.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := v.store.Set(ctx, revokedKey(raw), "1", ttl); err != nil {
		return errors.ErrInternal.WithError(err)
	}
	v.log.InfoContext(ctx, "token revoked", zap.Duration("ttl", ttl))
	return nil
}

// revoked 查询吊销名单，同一令牌的并发查询合并为一次
func (v *JWTVerifier) revoked(ctx context.Context, raw string) (bool, error) {
	key := revokedKey(raw)
	res, err, _ := v.lookups.Do(key, func() (any, error) {
		return v.store.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func revokedKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "auth:revoked:" + hex.EncodeToString(sum[:])
}

// classify 把 jwt 错误映射为原因码
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return errors.ErrTokenSignature
	default:
		return errors.ErrTokenMalformed
	}
}
