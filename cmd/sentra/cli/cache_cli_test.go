package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestCacheOpsCLIVersionDefaultsToOne(t *testing.T) {
	mr := miniredis.RunT(t)

	cli, err := NewCacheOpsCLI(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("new cache cli: %v", err)
	}
	defer cli.Close()

	version, err := cli.Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected default version 1, got %d", version)
	}
}

func TestCacheOpsCLIInvalidateTenant(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("sentra:decision:t1:u1:abc", "{}")
	mr.Set("sentra:permission:t1:editor", "[]")
	mr.Set("sentra:decision:t2:u9:def", "{}")

	cli, err := NewCacheOpsCLI(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("new cache cli: %v", err)
	}
	defer cli.Close()

	removed, err := cli.InvalidateTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("invalidate tenant: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 keys removed, got %d", removed)
	}
	if mr.Exists("sentra:decision:t1:u1:abc") {
		t.Fatal("tenant t1 decision key should be gone")
	}
	if !mr.Exists("sentra:decision:t2:u9:def") {
		t.Fatal("tenant t2 key must survive")
	}
}

func TestJobsCLITriggerRejectsUnknownJob(t *testing.T) {
	mr := miniredis.RunT(t)

	cli, err := NewJobsCLI(mr.Addr())
	if err != nil {
		t.Fatalf("new jobs cli: %v", err)
	}
	defer cli.Close()

	if _, err := cli.Trigger(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected error for unsupported job")
	}
}

func TestParseWarmupArg(t *testing.T) {
	tenant, users, err := parseWarmupArg("t1:u1, u2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tenant != "t1" || len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected parse result: %s %v", tenant, users)
	}

	if _, _, err := parseWarmupArg("t1"); err == nil {
		t.Fatal("expected error without users")
	}
}
