package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func TestWriteErrorIncludesTraceAndDetails(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("invalid_card", "card\nnumber", http.StatusUnprocessableEntity).WithDetails(map[string]any{"field": "cardNumber"}))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "card number" {
		t.Fatalf("expected sanitised message, got %v", body["message"])
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	if body["field"] != "cardNumber" {
		t.Fatalf("expected detail field, got %v", body["field"])
	}
}

func TestWantsJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	if !WantsJSON(req) {
		t.Fatalf("expected json preference")
	}
	req.Header.Set("Accept", "text/html,application/json")
	if WantsJSON(req) {
		t.Fatalf("browsers should get html")
	}
}
