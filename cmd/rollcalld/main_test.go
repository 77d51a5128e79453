package main

import "testing"

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"--config", "/tmp/rollcall.toml", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if args.configPath != "/tmp/rollcall.toml" {
		t.Fatalf("configPath = %q", args.configPath)
	}
	if args.logLevel != "debug" {
		t.Fatalf("logLevel = %q", args.logLevel)
	}
	if args.dev {
		t.Fatal("dev should default to false")
	}
}

func TestParseArgsRejectsPositional(t *testing.T) {
	if _, err := parseArgs([]string{"extra"}); err == nil {
		t.Fatal("expected error for positional argument")
	}
}
