package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, endpoint, "test-service", false, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatal("all providers should be non-nil")
		}
		if providers.Exporting {
			t.Error("Exporting should be false without an endpoint")
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
	}
}

func TestNewProviders_InvalidURL(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"http://[invalid", "http://", "https://"} {
		if _, err := NewProviders(ctx, endpoint, "test-service", false, nil); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		endpoint     string
		override     bool
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
		{"http://collector:4317/v1/traces", false, "collector:4317", true},
	}
	for _, tc := range cases {
		target, insecure, err := parseEndpoint(tc.endpoint, tc.override)
		if err != nil {
			t.Fatalf("parseEndpoint(%q): %v", tc.endpoint, err)
		}
		if target != tc.wantTarget {
			t.Errorf("parseEndpoint(%q) target = %q, want %q", tc.endpoint, target, tc.wantTarget)
		}
		if insecure != tc.wantInsecure {
			t.Errorf("parseEndpoint(%q) insecure = %v, want %v", tc.endpoint, insecure, tc.wantInsecure)
		}
	}
}

func TestNewProviders_Exporting(t *testing.T) {
	ctx := context.Background()
	// gRPC exporters dial lazily, so construction succeeds without a collector.
	providers, err := NewProviders(ctx, "localhost:4317", "test-service", false, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if !providers.Exporting {
		t.Error("Exporting should be true with an endpoint")
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = providers.Shutdown(shutdownCtx)
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "test-service", false, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	})

	providers.SetGlobal()
	if otel.GetTracerProvider() != providers.TracerProvider {
		t.Error("TracerProvider should be the global")
	}
	if otel.GetMeterProvider() != providers.MeterProvider {
		t.Error("MeterProvider should be the global")
	}
}
