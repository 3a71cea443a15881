package transport

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildTLSConfigDefaults(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{})
	if err != nil {
		t.Fatalf("BuildTLSConfig failed: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.InsecureSkipVerify {
		t.Errorf("server verification must be required")
	}
}

func TestBuildTLSConfigCiphers(t *testing.T) {
	cfg, err := BuildTLSConfig(TLSOptions{Ciphers: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384"})
	if err != nil {
		t.Fatalf("BuildTLSConfig failed: %v", err)
	}
	want := []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}
	if len(cfg.CipherSuites) != 2 || cfg.CipherSuites[0] != want[0] || cfg.CipherSuites[1] != want[1] {
		t.Errorf("CipherSuites = %v, want %v", cfg.CipherSuites, want)
	}

	if _, err := BuildTLSConfig(TLSOptions{Ciphers: "ECDHE-RSA-NOPE"}); err == nil {
		t.Errorf("expected error for unknown cipher")
	}
}

func TestBuildTLSConfigFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := BuildTLSConfig(TLSOptions{CACertsFile: filepath.Join(dir, "missing.pem")}); err == nil {
		t.Errorf("expected error for missing CA file")
	}

	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := BuildTLSConfig(TLSOptions{CACertsFile: empty}); err == nil {
		t.Errorf("expected error for CA file without certificates")
	}

	if _, err := BuildTLSConfig(TLSOptions{CertFile: empty}); err == nil {
		t.Errorf("expected error for certificate without key")
	}
}

func TestNewMQTTBusValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    MQTTOptions
		wantErr bool
	}{
		{"missing host", MQTTOptions{Port: 8883}, true},
		{"bad port", MQTTOptions{Hostname: "broker", Port: 0}, true},
		{"bad qos", MQTTOptions{Hostname: "broker", Port: 1883, QoS: 3}, true},
		{"valid", MQTTOptions{Hostname: "broker", Port: 1883, ClientID: "wpe"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMQTTBus(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMQTTBus() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMQTTBusAddress(t *testing.T) {
	plain, err := NewMQTTBus(MQTTOptions{Hostname: "broker", Port: 1883})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Address() != "tcp://broker:1883" {
		t.Errorf("Address() = %s", plain.Address())
	}

	secure, err := NewMQTTBus(MQTTOptions{Hostname: "broker", Port: 8883, TLS: &tls.Config{MinVersion: tls.VersionTLS12}})
	if err != nil {
		t.Fatal(err)
	}
	if secure.Address() != "ssl://broker:8883" {
		t.Errorf("Address() = %s", secure.Address())
	}
}
