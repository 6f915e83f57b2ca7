package main

import (
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseStaticTokens(t *testing.T) {
	tokens, err := parseStaticTokens([]string{"tok-1=acct-1", " tok-2=acct-2 "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tokens["tok-1"] != "acct-1" || tokens["tok-2"] != "acct-2" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if got, err := parseStaticTokens(nil); err != nil || got != nil {
		t.Fatalf("expected nil map for empty input, got %v err %v", got, err)
	}
	if _, err := parseStaticTokens([]string{"missing-separator"}); err == nil {
		t.Fatal("expected error for malformed pair")
	}
	if _, err := parseStaticTokens([]string{"=acct"}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	data, err := defaultConfigYAML()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal generated config: %v", err)
	}
	if parsed["listen"] == "" {
		t.Fatal("expected listen default in generated config")
	}
	if !strings.Contains(string(data), "default-ttl-hours") {
		t.Fatal("expected default-ttl-hours key in generated config")
	}
}

func TestExpandPath(t *testing.T) {
	abs, err := expandPath("some/relative/path")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !filepath.IsAbs(abs) {
		t.Fatalf("expected absolute path, got %s", abs)
	}
	if got, err := expandPath(""); err != nil || got != "" {
		t.Fatalf("empty path should stay empty, got %q err %v", got, err)
	}
}
