package association

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGenerateAndSaveLoad(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(kp.PublicBytes) != 65 {
		t.Fatalf("public point is %d bytes, want 65", len(kp.PublicBytes))
	}

	path := filepath.Join(t.TempDir(), "keys", "association.pem")
	if err := kp.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %o, want 600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Private.Equal(kp.Private) {
		t.Error("loaded key differs from saved key")
	}
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "association.pem")

	first, err := LoadOrGenerate(path, testLogger())
	if err != nil {
		t.Fatalf("LoadOrGenerate (generate): %v", err)
	}
	second, err := LoadOrGenerate(path, testLogger())
	if err != nil {
		t.Fatalf("LoadOrGenerate (load): %v", err)
	}
	if !first.Private.Equal(second.Private) {
		t.Error("second call did not load the persisted key")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a non-PEM file")
	}
}

func TestURIRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	uri := kp.URI(49152)
	if !strings.HasPrefix(uri, "solana-wallet:/v1/associate/local?") {
		t.Fatalf("unexpected uri prefix: %s", uri)
	}
	if strings.Contains(uri, "=&") || strings.HasSuffix(uri, "=") {
		// base64url token must be unpadded; padding would collide with
		// query-string syntax.
		t.Errorf("uri contains padding: %s", uri)
	}

	parsed, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	if parsed.Port != 49152 {
		t.Errorf("port = %d, want 49152", parsed.Port)
	}
	if !parsed.PublicKey.Equal(&kp.Private.PublicKey) {
		t.Error("parsed public key differs from original")
	}
}

func TestParseURIErrors(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	good := kp.URI(8080)

	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", strings.Replace(good, "solana-wallet:", "https:", 1)},
		{"wrong path", strings.Replace(good, "/v1/associate/local", "/v2/associate/remote", 1)},
		{"missing token", "solana-wallet:/v1/associate/local?port=8080"},
		{"bad token encoding", "solana-wallet:/v1/associate/local?association=%%%&port=8080"},
		{"token not a point", "solana-wallet:/v1/associate/local?association=AAAA&port=8080"},
		{"missing port", strings.Replace(good, "&port=8080", "", 1)},
		{"port out of range", strings.Replace(good, "port=8080", "port=70000", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseURI(tt.uri); err == nil {
				t.Errorf("ParseURI accepted %s", tt.uri)
			}
		})
	}
}
