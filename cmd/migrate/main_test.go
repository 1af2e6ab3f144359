package main

import (
	"bytes"
	"strings"
	"testing"

	"nexpos/backend/internal/config"
)

func TestRootCommandExposesOfflineSubcommands(t *testing.T) {
	root := newRootCmd(config.Config{})

	want := map[string]bool{"up": false, "down": false, "status": false, "seed-admin": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected subcommand %s", name)
		}
	}
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	root := newRootCmd(config.Config{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing database url error, got %v", err)
	}
}

func TestSeedAdminRejectsShortPassword(t *testing.T) {
	t.Setenv("NEXPOS_ADMIN_PASSWORD", "")
	root := newRootCmd(config.Config{DatabaseURL: "postgres://unused"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"seed-admin", "--username", "boss", "--password", "short"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "at least 8 characters") {
		t.Fatalf("expected password length error, got %v", err)
	}
}

func TestDownRejectsZeroSteps(t *testing.T) {
	root := newRootCmd(config.Config{DatabaseURL: "postgres://unused"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"down", "--steps", "0"})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}
