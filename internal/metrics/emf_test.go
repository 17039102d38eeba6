package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"
)

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	return buf.String()
}

func TestFlushEmitsEMFDocument(t *testing.T) {
	out := captureStdout(t, func() {
		New("TestNamespace").
			Dimension("Operation", "generate").
			Metric("PagesGenerated", 5, UnitCount).
			Duration("GenerationLatency", 1500*time.Millisecond).
			Property("BookId", "book-123").
			Flush()
	})

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, out)
	}

	aws, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive")
	}
	cwm, ok := aws["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwm) != 1 {
		t.Fatalf("expected one CloudWatchMetrics entry, got %v", aws["CloudWatchMetrics"])
	}
	entry := cwm[0].(map[string]interface{})
	if ns := entry["Namespace"]; ns != "TestNamespace" {
		t.Errorf("Namespace = %v, want TestNamespace", ns)
	}

	if doc["Operation"] != "generate" {
		t.Errorf("Operation = %v, want generate", doc["Operation"])
	}
	if doc["PagesGenerated"] != float64(5) {
		t.Errorf("PagesGenerated = %v, want 5", doc["PagesGenerated"])
	}
	if doc["GenerationLatency"] != float64(1500) {
		t.Errorf("GenerationLatency = %v, want 1500", doc["GenerationLatency"])
	}
	if doc["BookId"] != "book-123" {
		t.Errorf("BookId = %v, want book-123", doc["BookId"])
	}
}

func TestFlushWithoutMetricsEmitsNothing(t *testing.T) {
	out := captureStdout(t, func() {
		New("TestNamespace").Dimension("Operation", "noop").Flush()
	})
	if out != "" {
		t.Errorf("expected no output, got %q", out)
	}
}

func TestCountRecordsOne(t *testing.T) {
	out := captureStdout(t, func() {
		New("TestNamespace").Count("Errors").Flush()
	})
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["Errors"] != float64(1) {
		t.Errorf("Errors = %v, want 1", doc["Errors"])
	}
}

func TestForOperationSetsNamespaceAndDimension(t *testing.T) {
	out := captureStdout(t, func() {
		ForOperation("retry").Count("Retries").Flush()
	})
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	aws := doc["_aws"].(map[string]interface{})
	entry := aws["CloudWatchMetrics"].([]interface{})[0].(map[string]interface{})
	if entry["Namespace"] != Namespace {
		t.Errorf("Namespace = %v, want %v", entry["Namespace"], Namespace)
	}
	if doc["Operation"] != "retry" {
		t.Errorf("Operation = %v, want retry", doc["Operation"])
	}
}
