package encryption

import (
	"bytes"
	"testing"

	"lvm-go/internal/config"
)

func TestMarkerEncryptor_RoundTrip(t *testing.T) {
	e := NewMarkerEncryptor()
	if err := e.Setup("ignored"); err != nil {
		t.Fatal(err)
	}
	if e.SetupCalls != 1 {
		t.Errorf("SetupCalls = %d, want 1", e.SetupCalls)
	}

	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("ledger")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(sealed.Bytes(), markerHeader) {
		t.Errorf("output %q lacks the marker header", sealed.Bytes())
	}

	dc, _ := e.Unlock("")
	var opened bytes.Buffer
	if err := dc.Decrypt(&sealed, &opened); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if opened.String() != "ledger" {
		t.Errorf("Decrypt() = %q, want %q", opened.String(), "ledger")
	}
}

func TestMarkerEncryptor_DecryptRejectsPlaintext(t *testing.T) {
	dc, _ := NewMarkerEncryptor().Unlock("")
	var out bytes.Buffer
	if err := dc.Decrypt(bytes.NewReader([]byte("plain ledger bytes")), &out); err == nil {
		t.Error("Decrypt() accepted data without the marker")
	}
}

func TestPlainEncryptor_PassesThrough(t *testing.T) {
	var e PlainEncryptor
	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("abc")), &sealed); err != nil {
		t.Fatal(err)
	}
	if sealed.String() != "abc" {
		t.Errorf("Encrypt() = %q, want plaintext", sealed.String())
	}
	dc, _ := e.Unlock("")
	var opened bytes.Buffer
	if err := dc.Decrypt(&sealed, &opened); err != nil || opened.String() != "abc" {
		t.Errorf("Decrypt() = %q, %v", opened.String(), err)
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	keys := config.EncryptionConfig{PublicKeyPath: "/k/lvm.pub", PrivateKeyPath: "/k/lvm.key"}

	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{name: "default is age", cfg: keys, want: "age"},
		{name: "age without paths", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}, want: "test"},
		{name: "none", cfg: config.EncryptionConfig{Type: "none"}, want: "none"},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEncryptorFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			var got string
			switch e.(type) {
			case *AgeEncryptor:
				got = "age"
			case *MarkerEncryptor:
				got = "test"
			case PlainEncryptor:
				got = "none"
			}
			if got != tt.want {
				t.Errorf("encryptor = %T, want %s", e, tt.want)
			}
		})
	}
}
