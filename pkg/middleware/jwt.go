package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/pmoji/pkg/errno"
	"github.com/nao1215/pmoji/pkg/response"
)

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin = "admin"
	// RoleUser は一般利用者ロール。
	RoleUser = "user"

	// tokenIssuer はトークンの発行者名。
	tokenIssuer = "pmoji-api"
	// tokenQueryKey はヘッダーを設定できないクライアント（WebSocket、EventSource）向けのクエリキー。
	tokenQueryKey = "token"

	contextKeyUserID = "user_id"
	contextKeyName   = "name"
	contextKeyEmail  = "email"
	contextKeyRole   = "role"
)

// Identity はトークンに埋め込む利用者情報。
type Identity struct {
	// UserID は利用者の一意識別子。
	UserID string
	// Name は表示名。
	Name string
	// Email はメールアドレス。
	Email string
	// Role は発行時点のロール。
	Role string
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール（admin / user）。
	Role string `json:"role"`
}

// GenerateJWT は利用者情報からHS256で署名したトークンを生成する。
func GenerateJWT(secret string, ttl time.Duration, id Identity) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   id.UserID,
		},
		UserID: id.UserID,
		Name:   id.Name,
		Email:  id.Email,
		Role:   id.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証してクレームを返す。
// HMAC以外の署名方式は拒否する。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("想定外の署名方式: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンは Authorization: Bearer ヘッダー、無ければ ?token= から読み取る。
// 検証に成功した場合、コンテキストに user_id / name / email / role を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			response.Abort(c, err)
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			response.Abort(c, errno.New(errno.ErrUnauthorized, "トークンが無効、または期限切れです"))
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyName, claims.Name)
		c.Set(contextKeyEmail, claims.Email)
		c.Set(contextKeyRole, claims.Role)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query(tokenQueryKey); q != "" {
			return q, nil
		}
		return "", errno.New(errno.ErrUnauthorized, "トークンが指定されていません")
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return "", errno.New(errno.ErrUnauthorized, "Bearer トークン形式が不正です")
	}
	return tokenString, nil
}

// RequireRole は指定ロールを要求するミドルウェアを返す。JWTAuthの後に適用する。
// 管理者はどのロール指定でも通過できる。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := GetRole(c)
		if current == RoleAdmin || current == role {
			c.Next()
			return
		}
		response.Abort(c, errno.New(errno.ErrForbidden, "この操作を行う権限がありません"))
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return c.GetString(contextKeyRole)
}

// GetIdentity はGinコンテキストからトークンの利用者情報をまとめて取得する。
func GetIdentity(c *gin.Context) Identity {
	return Identity{
		UserID: c.GetString(contextKeyUserID),
		Name:   c.GetString(contextKeyName),
		Email:  c.GetString(contextKeyEmail),
		Role:   c.GetString(contextKeyRole),
	}
}
