package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/service"

	"github.com/gin-gonic/gin"
)

func TestServiceErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrInsufficientBalance, response.CodeBadRequest},
		{&service.FieldError{Field: "amount", Err: service.ErrBelowMinimum}, response.CodeBadRequest},
		{service.ErrWithdrawalForbidden, response.CodeForbidden},
		{service.ErrUnknownMember, response.CodeNotFound},
		{service.ErrInvalidTransition, response.CodeConflict},
		{fmt.Errorf("%w: disk full", service.ErrStorage), response.CodeInternal},
		{errors.New("boom"), response.CodeInternal},
	}
	for _, tc := range cases {
		if got := ServiceErrorCode(tc.err); got != tc.want {
			t.Fatalf("%v: want %d got %d", tc.err, tc.want, got)
		}
	}
}

func TestRespondServiceErrorIncludesField(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondServiceError(c, &service.FieldError{Field: "amount", Err: service.ErrInsufficientBalance, Reason: "balance is 100.00"})

	var resp struct {
		StatusCode int               `json:"status_code"`
		Data       map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.StatusCode != response.CodeBadRequest || resp.Data["field"] != "amount" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNormalizePagination(t *testing.T) {
	page, size := NormalizePagination(0, 500)
	if page != 1 || size != 100 {
		t.Fatalf("unexpected pagination %d %d", page, size)
	}
}
