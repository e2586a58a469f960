package config

import "testing"

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing server", Config{User: "u", Key: []byte("k")}},
		{"missing user", Config{Server: "s", Key: []byte("k")}},
		{"missing key", Config{Server: "s", User: "u"}},
		{"bad port", Config{Server: "s", User: "u", Key: []byte("k"), Port: 70000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Config{Server: "s4pp.example.com", User: "sensor-1", Key: []byte("secret"), Port: 22226}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSetDefaultRefusedDuringUpload(t *testing.T) {
	defer func() {
		uploadsInFlight = 0
		defaultCfg = nil
	}()

	BeginUpload()
	defer EndUpload()

	if err := SetDefault(&Config{}); err != ErrUploadInProgress {
		t.Fatalf("SetDefault during upload = %v, want ErrUploadInProgress", err)
	}
}

func TestSetDefaultAndRetrieve(t *testing.T) {
	defer func() { defaultCfg = nil }()

	cfg := &Config{Server: "s", User: "u", Key: []byte("k")}
	if err := SetDefault(cfg); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if Default() != cfg {
		t.Fatalf("Default() did not return the set config")
	}
}
