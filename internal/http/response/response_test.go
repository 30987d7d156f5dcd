package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func decodeTestResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response failed: %v body=%s", err, w.Body.String())
	}
	return body
}

func TestErrorKeepsHTTP200AndAttachesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	Error(c, CodeNotFound, "affiliate not found")

	if w.Code != http.StatusOK {
		t.Fatalf("business error want http 200 got %d", w.Code)
	}
	body := decodeTestResponse(t, w)
	if int(body["status_code"].(float64)) != CodeNotFound || body["msg"] != "affiliate not found" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["request_id"] != "req-1" {
		t.Fatalf("expected request id in data, got %v", body["data"])
	}
}

func TestErrorWithStatusSetsHTTPStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorWithStatus(c, http.StatusUnauthorized, CodeUnauthorized, "missing token")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want http 401 got %d", w.Code)
	}
	body := decodeTestResponse(t, w)
	if int(body["status_code"].(float64)) != CodeUnauthorized || body["data"] != nil {
		t.Fatalf("unexpected envelope: %v", body)
	}
}

func TestSuccessWithPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessWithPage(c, []string{"a"}, Pagination{Page: 1, PageSize: 20, Total: 1, TotalPage: 1})

	body := decodeTestResponse(t, w)
	page, _ := body["pagination"].(map[string]interface{})
	if int(body["status_code"].(float64)) != 0 || page["total"].(float64) != 1 {
		t.Fatalf("unexpected page envelope: %v", body)
	}
}
