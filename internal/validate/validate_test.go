// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://example.com", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_Port(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"valid port 25", 25, false},
		{"valid port 65535", 65535, false},
		{"invalid port 0", 0, true},
		{"invalid port 65536", 65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Port("port", tt.port)
			if tt.wantErr == v.IsValid() {
				t.Errorf("wantErr=%v, errors=%v", tt.wantErr, v.Errors())
			}
		})
	}
}

func TestValidator_Email(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"alice@example.com", true},
		{"a.b+tag@sub.example.org", true},
		{"", false},
		{"not-an-email", false},
		{"Alice <alice@example.com>", false},
		{"alice@localhost", false},
		{"alice@exa mple.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			v := New()
			v.Email("email", tt.value)
			if v.IsValid() != tt.ok {
				t.Errorf("Email(%q) valid=%v, want %v", tt.value, v.IsValid(), tt.ok)
			}
		})
	}
}

func TestValidator_RequiredAndMaxLen(t *testing.T) {
	v := New()
	if v.Required("name", "   ") {
		t.Fatal("blank value must fail Required")
	}
	v.MaxLen("code", "abcdef", 5)
	v.MaxLen("ok", "abc", 5)

	var ve ValidationError
	if !errors.As(v.Err(), &ve) {
		t.Fatalf("expected ValidationError, got %T", v.Err())
	}
	want := map[string][]string{
		"name": {MsgRequired},
		"code": {"Ensure this field has no more than 5 characters."},
	}
	if diff := cmp.Diff(want, ve.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidator_OneOf(t *testing.T) {
	v := New()
	v.OneOf("risk_level", "medium", []string{"low", "medium", "high"})
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	v.OneOf("risk_level", "extreme", []string{"low", "medium", "high"})
	if v.IsValid() {
		t.Fatal("expected error for unknown choice")
	}
	if got := v.Errors()[0].Message; got != `"extreme" is not a valid choice.` {
		t.Errorf("message = %q", got)
	}
}

func TestValidator_HexColorAndMatch(t *testing.T) {
	v := New()
	v.HexColor("color", "#007bff")
	v.Match("phone", "", regexp.MustCompile(`^\d+$`), "digits only")
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	v.HexColor("color", "blue")
	v.Match("phone", "12a", regexp.MustCompile(`^\d+$`), "digits only")
	if len(v.Errors()) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(v.Errors()))
	}
}

func TestValidator_NonFieldAndHas(t *testing.T) {
	v := New()
	v.NonField("Passwords don't match")
	if !v.Has(NonFieldErrors) {
		t.Error("expected non_field_errors entry")
	}
	if v.Has("password") {
		t.Error("unexpected password entry")
	}
}

func TestValidator_Directory(t *testing.T) {
	tmpDir := t.TempDir()

	v := New()
	v.Directory("dataDir", tmpDir, true)
	if !v.IsValid() {
		t.Fatalf("existing directory should validate: %v", v.Err())
	}

	created := filepath.Join(tmpDir, "nested", "dir")
	v = New()
	v.Directory("dataDir", created, false)
	if !v.IsValid() {
		t.Fatalf("directory creation failed: %v", v.Err())
	}
	if _, err := os.Stat(created); err != nil {
		t.Fatalf("directory was not created: %v", err)
	}

	file := filepath.Join(tmpDir, "file")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	v = New()
	v.Directory("dataDir", file, true)
	if v.IsValid() {
		t.Error("file path must not validate as directory")
	}
}

func TestValidator_MultipleErrors(t *testing.T) {
	v := New()
	v.Port("port", 0)
	v.Range("days", 20, 1, 14)
	v.Positive("count", -1)
	v.NonNegative("retries", -2)
	v.FloatRange("ratio", 1.5, 0, 1)

	if len(v.Errors()) != 5 {
		t.Fatalf("expected 5 errors, got %d", len(v.Errors()))
	}
	if v.Err() == nil || v.Err().Error() == "" {
		t.Error("expected combined error message")
	}
}

func TestFieldError(t *testing.T) {
	err := FieldError("email", "Email already exists")
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if diff := cmp.Diff(map[string][]string{"email": {"Email already exists"}}, ve.Fields()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
