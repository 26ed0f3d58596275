package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

func adminRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAdminAuth(logger.Nop(), secret).RequireAdmin())
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRequireAdmin(t *testing.T) {
	good, err := IssueAdminToken("s3cret", "ops", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _ := IssueAdminToken("s3cret", "ops", -time.Hour)
	wrongKey, _ := IssueAdminToken("other", "ops", time.Hour)
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("s3cret"))
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{Role: AdminRole}).SignedString([]byte("s3cret"))

	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"valid", "s3cret", "Bearer " + good, http.StatusNoContent},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"expired", "s3cret", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "s3cret", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"no expiry", "s3cret", "Bearer " + noExp, http.StatusUnauthorized},
		{"no role", "s3cret", "Bearer " + noRole, http.StatusForbidden},
		{"unconfigured", "", "Bearer " + good, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		adminRouter(tc.secret).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: want=%d got=%d", tc.name, tc.want, rec.Code)
		}
	}
}
