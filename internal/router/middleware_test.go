package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/http/response"
	"github.com/tickrace/tickrace-sub001/internal/service"

	"github.com/gin-gonic/gin"
)

func newLedgerAuthRouter(credentials *service.CredentialService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ledger", UserOrServiceAuthMiddleware(credentials, constants.ScopeBilling), func(c *gin.Context) {
		response.Success(c, gin.H{"ok": true})
	})
	return r
}

func ledgerAuthCode(t *testing.T, r *gin.Engine, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ledger", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	return body.StatusCode
}

func TestLedgerAuthAcceptsUserAndServiceTokens(t *testing.T) {
	credentials := service.NewCredentialService("user-secret", "service-secret")
	r := newLedgerAuthRouter(credentials)

	userToken, _, err := credentials.GenerateUserToken(7, "runner@example.com", time.Hour)
	if err != nil {
		t.Fatalf("user token failed: %v", err)
	}
	serviceToken, _, err := credentials.GenerateServiceToken("billing-batch", []string{constants.ScopeBilling}, time.Hour)
	if err != nil {
		t.Fatalf("service token failed: %v", err)
	}

	if code := ledgerAuthCode(t, r, userToken); code != 0 {
		t.Fatalf("user token rejected with code %d", code)
	}
	if code := ledgerAuthCode(t, r, serviceToken); code != 0 {
		t.Fatalf("service token rejected with code %d", code)
	}
}

func TestLedgerAuthRejectsMissingScopeAndBadTokens(t *testing.T) {
	credentials := service.NewCredentialService("user-secret", "service-secret")
	r := newLedgerAuthRouter(credentials)

	if code := ledgerAuthCode(t, r, ""); code != response.CodeUnauthorized {
		t.Fatalf("missing header must be unauthorized, got %d", code)
	}
	if code := ledgerAuthCode(t, r, "not-a-token"); code != response.CodeUnauthorized {
		t.Fatalf("garbage token must be unauthorized, got %d", code)
	}

	wrongScope, _, err := credentials.GenerateServiceToken("fee-batch", []string{constants.ScopeFeeSync}, time.Hour)
	if err != nil {
		t.Fatalf("service token failed: %v", err)
	}
	if code := ledgerAuthCode(t, r, wrongScope); code != response.CodeForbidden {
		t.Fatalf("wrong scope must be forbidden, got %d", code)
	}
}
