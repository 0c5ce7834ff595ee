package observability

import (
	"net/http/httptest"
	"testing"
)

func TestParseCloudTraceContext(t *testing.T) {
	header := "105445aa7843bc8bf206b12000100000/1;o=1"
	info, spanCtx, ok := parseCloudTraceContext(header)
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace ID: %s", info.TraceID)
	}
	if !info.Sampled {
		t.Fatalf("expected sampled flag")
	}
	if !spanCtx.IsRemote() {
		t.Fatalf("expected remote span context")
	}
}

func TestParseCloudTraceContextRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "not-a-trace", "shorttrace/1;o=1"} {
		if _, _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestSpanNameCollapsesOrderIDs(t *testing.T) {
	cases := map[string]string{
		"/v1/orders/01J8ZQ4M2N3P4Q5R6S7T8V9W0X:accept": "POST /v1/orders/{orderID}:accept",
		"/v1/orders/01J8ZQ4M2N3P4Q5R6S7T8V9W0X/notes":  "POST /v1/orders/{orderID}/notes",
		"/v1/orders":   "POST /v1/orders",
		"/healthz":     "POST /healthz",
		"/track/short": "POST /track/short",
	}
	for path, want := range cases {
		req := httptest.NewRequest("POST", path, nil)
		if got := spanNameFromRequest(req); got != want {
			t.Fatalf("path %s: expected span name %q, got %q", path, want, got)
		}
	}
}

func TestOrderIDFromPath(t *testing.T) {
	id := "01J8ZQ4M2N3P4Q5R6S7T8V9W0X"
	if got := orderIDFromPath("/v1/orders/" + id + ":cancel"); got != id {
		t.Fatalf("expected order ID %s, got %s", id, got)
	}
	if got := orderIDFromPath("/v1/orders"); got != "" {
		t.Fatalf("expected empty order ID, got %s", got)
	}
}
