package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	Symbol string  `json:"symbol" validate:"required,min=3,max=20"`
	Side   string  `json:"side" validate:"required,oneof=BUY SELL"`
	Price  float64 `json:"price" validate:"omitempty,gt=0"`
	TF     string  `json:"tf" default:"H1"`
}

func newContext(body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantFields []string
		wantCode   string
	}{
		{name: "valid", body: `{"symbol":"EUR_USD","side":"BUY"}`},
		{name: "missing symbol", body: `{"side":"BUY"}`, wantFields: []string{"symbol"}, wantCode: "ERR_REQUIRED"},
		{name: "bad side and price", body: `{"symbol":"EUR_USD","side":"HOLD","price":-1}`, wantFields: []string{"side", "price"}, wantCode: "ERR_ONEOF"},
		{name: "malformed", body: `{"symbol":`, wantCode: "ERR_MALFORMED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(tt.body)
			req := &sampleRequest{}
			res := ReadAndValidateRequest(c, req)
			if tt.wantCode == "" {
				if res != nil {
					t.Fatalf("unexpected errors %+v", res)
				}
				if req.TF != "H1" {
					t.Errorf("default tf = %q", req.TF)
				}
				return
			}
			errs, ok := res.([]ValidationError)
			if !ok || len(errs) == 0 {
				t.Fatalf("expected validation errors, got %#v", res)
			}
			if errs[0].Code != tt.wantCode {
				t.Errorf("code = %s, want %s", errs[0].Code, tt.wantCode)
			}
			for i, f := range tt.wantFields {
				if i >= len(errs) || errs[i].Field != f {
					t.Errorf("field[%d] = %+v, want %s", i, errs, f)
				}
			}
		})
	}
}

func TestAppErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{name: "not found", err: NotFoundErrorf("signal %d not found", 7), want: http.StatusNotFound, code: "ERR_NOT_FOUND"},
		{name: "conflict", err: ConflictError("pass running"), want: http.StatusConflict, code: "ERR_CONFLICT"},
		{name: "plain error", err: errors.New("db down"), want: http.StatusInternalServerError, code: "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext("")
			if err := AppErrorResponse(c, tt.err); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.want {
				t.Fatalf("http status = %d, want %d", rec.Code, tt.want)
			}
			var body struct {
				Status int        `json:"status"`
				Data   []AppError `json:"data"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.want || len(body.Data) != 1 || body.Data[0].Code != tt.code {
				t.Errorf("body = %+v", body)
			}
		})
	}
}
