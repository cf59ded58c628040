package main

import (
	"testing"

	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/ipc"
)

func TestParseDropIDAndDirRequiresTwoArgs(t *testing.T) {
	if _, _, err := parseDropIDAndDir([]string{"only-one"}, "sync_drop"); err == nil {
		t.Fatal("expected an error when the directory argument is missing")
	}
}

func TestParseDropIDAndDirRejectsMalformedDropID(t *testing.T) {
	if _, _, err := parseDropIDAndDir([]string{"not-base64!!", "/tmp/drop"}, "sync_drop"); err == nil {
		t.Fatal("expected an error for a malformed drop_id")
	}
}

func TestParseDropIDAndDirAcceptsValidDropID(t *testing.T) {
	var id dropmeta.DropID
	id[0] = 7
	encoded := id.Base64()

	got, dir, err := parseDropIDAndDir([]string{encoded, "/tmp/drop"}, "sync_drop")
	if err != nil {
		t.Fatalf("parseDropIDAndDir: %v", err)
	}
	if got != id {
		t.Fatalf("got drop id %v, want %v", got, id)
	}
	if dir != "/tmp/drop" {
		t.Fatalf("got dir %q, want /tmp/drop", dir)
	}
}

func TestCallFailsWithoutARunningDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := call(&ipc.Request{Action: "list_drops"}); err == nil {
		t.Fatal("expected an error connecting to a daemon that is not running")
	}
}
