package response

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestBuildPagination(t *testing.T) {
	p := BuildPagination(2, 20, 41)
	if p.TotalPage != 3 {
		t.Fatalf("total page want 3 got %d", p.TotalPage)
	}
	if BuildPagination(1, 0, 10).TotalPage != 0 {
		t.Fatalf("zero page size should yield zero pages")
	}
}

func TestErrorAttachesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	Error(c, CodeConflict, "conflict")

	var resp struct {
		StatusCode int               `json:"status_code"`
		Msg        string            `json:"msg"`
		Data       map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.StatusCode != CodeConflict || resp.Data["request_id"] != "req-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFieldErrorAndTooManyRequestsCarryData(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	FieldError(c, "amount", "amount must be a decimal")
	var fieldResp struct {
		StatusCode int               `json:"status_code"`
		Data       map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fieldResp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fieldResp.StatusCode != CodeBadRequest || fieldResp.Data["field"] != "amount" {
		t.Fatalf("unexpected field error %+v", fieldResp)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	TooManyRequests(c, "slow down", 0)
	var limitResp struct {
		StatusCode int            `json:"status_code"`
		Data       map[string]int `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &limitResp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if limitResp.StatusCode != CodeTooManyRequests || limitResp.Data["retry_after"] != 1 {
		t.Fatalf("unexpected rate limit response %+v", limitResp)
	}
}
