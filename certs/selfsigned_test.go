package certs

import (
	"testing"
	"time"
)

func TestGenerate_DefaultValidity(t *testing.T) {
	info, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if time.Until(info.NotAfter) < 89*24*time.Hour {
		t.Fatalf("NotAfter too soon: %v", info.NotAfter)
	}
	if len(info.TLSCert.Certificate) == 0 {
		t.Fatal("expected a non-empty certificate chain")
	}
}

func TestGenerate_ExplicitValidity(t *testing.T) {
	info, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	remaining := time.Until(info.NotAfter)
	if remaining <= 0 || remaining > 2*time.Hour {
		t.Fatalf("NotAfter = %v, want roughly 1h from now", info.NotAfter)
	}
}

func TestCertInfo_FingerprintBase64IsStable(t *testing.T) {
	info, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if info.FingerprintBase64() == "" {
		t.Fatal("expected a non-empty fingerprint")
	}
	if info.FingerprintBase64() != info.FingerprintBase64() {
		t.Fatal("FingerprintBase64 should be deterministic across calls")
	}
}
