// Package main implements syncrctl, the per-drop client CLI: each command
// is a one-line dispatch of a single ipc.Request to the local syncrd
// socket (spec §2 names drop_init/sync_drop/update_drop/check_for_updates/
// new_version/check_drop/delete_drop as per-drop operations).
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/config"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/ipc"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "drop_init":
		err = dropInitCommand(os.Args[2:])
	case "sync_drop":
		err = syncDropCommand(os.Args[2:])
	case "update_drop":
		err = updateDropCommand(os.Args[2:])
	case "check_for_updates":
		err = checkForUpdatesCommand(os.Args[2:])
	case "new_version":
		err = newVersionCommand(os.Args[2:])
	case "check_drop":
		err = checkDropCommand(os.Args[2:])
	case "delete_drop":
		err = deleteDropCommand(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`syncrctl - 5yncr per-drop control client

Usage:
  syncrctl drop_init <directory>
  syncrctl sync_drop <drop_id> <directory>
  syncrctl update_drop <drop_id> <directory>
  syncrctl check_for_updates <drop_id> <directory>
  syncrctl new_version <drop_id> <directory>
  syncrctl check_drop <drop_id> <directory>
  syncrctl delete_drop <drop_id>
  syncrctl help
`)
}

// call dials the running syncrd's local IPC socket, sends req, and waits
// for its response, matching pkg/ipc's one-request-per-connection
// discipline.
func call(req *ipc.Request) (*ipc.Response, error) {
	dir, err := config.DefaultCentralDir()
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("unix", filepath.Join(dir, "syncrd.sock"), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to syncrd (is it running?): %w", err)
	}
	defer conn.Close()

	data, err := canon.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		closer.CloseWrite()
	}

	respData, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp ipc.Response
	if err := canon.Decode(respData, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return &resp, nil
}

func dropInitCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: syncrctl drop_init <directory>")
	}
	resp, err := call(&ipc.Request{Action: "init_drop", Root: args[0]})
	if err != nil {
		return err
	}
	fmt.Printf("Initialized drop: %v\n", resp.Result)
	return nil
}

func syncDropCommand(args []string) error {
	id, dir, err := parseDropIDAndDir(args, "sync_drop")
	if err != nil {
		return err
	}
	resp, err := call(&ipc.Request{Action: "sync_drop", DropID: id, Root: dir})
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", resp.Result)
	return nil
}

func updateDropCommand(args []string) error {
	id, dir, err := parseDropIDAndDir(args, "update_drop")
	if err != nil {
		return err
	}
	resp, err := call(&ipc.Request{Action: "queue_sync", DropID: id, Root: dir})
	if err != nil {
		return err
	}
	fmt.Printf("queued: %v\n", resp.Result)
	return nil
}

func checkForUpdatesCommand(args []string) error {
	id, dir, err := parseDropIDAndDir(args, "check_for_updates")
	if err != nil {
		return err
	}
	resp, err := call(&ipc.Request{Action: "check_for_update", DropID: id, Root: dir})
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", resp.Result)
	return nil
}

func newVersionCommand(args []string) error {
	id, dir, err := parseDropIDAndDir(args, "new_version")
	if err != nil {
		return err
	}
	resp, err := call(&ipc.Request{Action: "new_version", DropID: id, Root: dir})
	if err != nil {
		return err
	}
	fmt.Printf("new version: %v\n", resp.Result)
	return nil
}

// checkDropCommand exits 0 iff the drop is fully downloaded and correct,
// per spec §2's exact wording for check_drop.
func checkDropCommand(args []string) error {
	id, dir, err := parseDropIDAndDir(args, "check_drop")
	if err != nil {
		return err
	}
	resp, err := call(&ipc.Request{Action: "check_drop", DropID: id, Root: dir})
	if err != nil {
		return err
	}
	complete := false
	switch result := resp.Result.(type) {
	case map[interface{}]interface{}:
		complete = result["complete"] == true
	case map[string]interface{}:
		complete = result["complete"] == true
	}
	if !complete {
		fmt.Println("incomplete")
		os.Exit(1)
	}
	fmt.Println("complete")
	return nil
}

func deleteDropCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: syncrctl delete_drop <drop_id>")
	}
	id, err := dropmeta.ParseDropID(args[0])
	if err != nil {
		return fmt.Errorf("invalid drop_id: %w", err)
	}
	if _, err := call(&ipc.Request{Action: "delete_drop", DropID: id}); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}

func parseDropIDAndDir(args []string, usage string) (dropmeta.DropID, string, error) {
	if len(args) < 2 {
		return dropmeta.DropID{}, "", fmt.Errorf("usage: syncrctl %s <drop_id> <directory>", usage)
	}
	id, err := dropmeta.ParseDropID(args[0])
	if err != nil {
		return dropmeta.DropID{}, "", fmt.Errorf("invalid drop_id: %w", err)
	}
	return id, args[1], nil
}
