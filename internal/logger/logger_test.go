package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "job-runner-test"})

	l.WithField(FieldJobID, "job_1").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "service", FieldJobID} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing key %q in %v", key, line)
		}
	}
	if line["service"] != "job-runner-test" {
		t.Errorf("service = %v", line["service"])
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: "json", Output: &buf})

	ctx := base.WithContext(context.Background())
	ctx = SetJobID(ctx, "job_42")
	ctx = SetComponent(ctx, "driver")

	if got := GetJobID(ctx); got != "job_42" {
		t.Errorf("GetJobID = %q, want job_42", got)
	}

	With(Fields{FieldProgress: 50}).Info(ctx, "tick %d", 3)
	out := buf.String()
	for _, want := range []string{`"job_id":"job_42"`, `"component":"driver"`, `"progress":50`, "tick 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}
