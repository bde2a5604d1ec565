package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHistoryWithoutClaimsIsUnauthorized(test *testing.T) {
	test.Parallel()
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/credits/history", nil)

	newHTTPHandler(Config{}, Dependencies{}).handleHistory(ctx)

	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if errorCode(body) != "unauthorized" {
		test.Fatalf("unexpected error body %v", body)
	}
}
