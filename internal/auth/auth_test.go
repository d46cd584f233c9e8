package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type keycloakStub struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	hits   int32
}

func newKeycloakStub(t *testing.T) *keycloakStub {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	stub := &keycloakStub{key: key}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stub.hits, 1)
		if r.URL.Path != "/realms/test/protocol/openid-connect/certs" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "k1",
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *keycloakStub) issuer() string {
	return s.server.URL + "/realms/test"
}

func (s *keycloakStub) token(t *testing.T, issuer string, expires time.Time, roles ...string) string {
	t.Helper()
	claims := auth.KeycloakClaims{
		Sub:               "alice",
		PreferredUsername: "alice",
		Name:              "Alice Smith",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	claims.RealmAccess.Roles = roles
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func TestKeycloakTokenValidator(t *testing.T) {
	stub := newKeycloakStub(t)
	v := auth.NewKeycloakTokenValidator(stub.issuer())
	ctx := context.Background()

	claims, err := v.ValidateToken(ctx, stub.token(t, stub.issuer(), time.Now().Add(time.Hour), "procurement"))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, []string{"procurement"}, claims.RealmAccess.Roles)

	// 公钥已缓存
	_, err = v.ValidateToken(ctx, stub.token(t, stub.issuer(), time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.hits))

	_, err = v.ValidateToken(ctx, stub.token(t, "https://other/realms/test", time.Now().Add(time.Hour)))
	assert.Error(t, err)

	_, err = v.ValidateToken(ctx, stub.token(t, stub.issuer(), time.Now().Add(-time.Minute)))
	assert.Error(t, err)

	_, err = v.ValidateToken(ctx, "not-a-token")
	assert.Error(t, err)
}

func identityRouter(middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(middleware, func(c *gin.Context) {
		identity, _ := auth.IdentityFrom(c)
		c.JSON(http.StatusOK, identity)
	})
	r.GET("/me", handlers...)
	return r
}

func TestKeycloakAuthMiddleware(t *testing.T) {
	stub := newKeycloakStub(t)
	r := identityRouter(auth.KeycloakAuthMiddleware(auth.NewKeycloakTokenValidator(stub.issuer()), "administrator"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+stub.token(t, stub.issuer(), time.Now().Add(time.Hour), "administrator"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var identity domain.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &identity))
	assert.Equal(t, "alice", identity.ID)
	assert.Equal(t, "Alice Smith", identity.DisplayName)
	assert.True(t, identity.IsAdministrator)

	// query 参数令牌
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+stub.token(t, stub.issuer(), time.Now().Add(time.Hour)), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHeaderAuthMiddleware(t *testing.T) {
	r := identityRouter(auth.HeaderAuthMiddleware("administrator"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(auth.HeaderUserID, "bob")
	req.Header.Set(auth.HeaderRoles, "warehouse, administrator")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var identity domain.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &identity))
	assert.Equal(t, "bob", identity.ID)
	assert.Equal(t, "bob", identity.DisplayName)
	assert.Equal(t, []string{"warehouse", "administrator"}, identity.Roles)
	assert.True(t, identity.IsAdministrator)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdministrator(t *testing.T) {
	r := identityRouter(auth.HeaderAuthMiddleware("administrator"), auth.RequireAdministrator())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(auth.HeaderUserID, "bob")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.Header.Set(auth.HeaderRoles, "administrator")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPermissionModel(t *testing.T) {
	assert.True(t, strings.Contains(auth.GetPermissionModel(), "define member: [user]"))
}
