package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewProviderEmitsSpanOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(&buf)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	tr := TracerFrom(tp)
	_, span := tr.Start(context.Background(), "selector")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if !strings.Contains(buf.String(), "selector") {
		t.Errorf("exported trace missing span name %q:\n%s", "selector", buf.String())
	}
}
