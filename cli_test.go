package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"fluxhub/internal/identity"
)

// cliDBSetup creates a temp directory with an initialized store and returns
// the database path. The directory is cleaned up when the test finishes.
func cliDBSetup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fluxhub.db")
	st, err := identity.OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	st.Close()
	return dbPath
}

// cliDBWithFriendship creates a database pre-seeded with a friendship edge.
func cliDBWithFriendship(t *testing.T, a, b string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fluxhub.db")
	st, err := identity.OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := st.AddFriendship(context.Background(), a, b); err != nil {
		t.Fatalf("AddFriendship(%q, %q): %v", a, b, err)
	}
	st.Close()
	return dbPath
}

// ---------------------------------------------------------------------------
// RunCLI: subcommand dispatch
// ---------------------------------------------------------------------------

func TestRunCLIVersionReturnsTrue(t *testing.T) {
	if !RunCLI([]string{"version"}, "not-used.db") {
		t.Error("RunCLI(version) should return true")
	}
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"nonexistent-cmd"}, "not-used.db") {
		t.Error("RunCLI(unknown) should return false")
	}
}

func TestRunCLIEmptyArgsReturnsFalse(t *testing.T) {
	if RunCLI([]string{}, "not-used.db") {
		t.Error("RunCLI([]) should return false")
	}
}

func TestRunCLINilArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil, "not-used.db") {
		t.Error("RunCLI(nil) should return false")
	}
}

// ---------------------------------------------------------------------------
// "status" subcommand
// ---------------------------------------------------------------------------

func TestCLIStatusReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"status"}, dbPath) {
		t.Error("RunCLI(status) should return true")
	}
}

// ---------------------------------------------------------------------------
// "code" subcommand
// ---------------------------------------------------------------------------

func TestCLICodeAssignsAndPersists(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"code", "alice"}, dbPath) {
		t.Error("RunCLI(code alice) should return true")
	}

	st, err := identity.OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()

	code, ok, err := st.ConnectCode(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ConnectCode: %v", err)
	}
	if !ok || code == "" {
		t.Error("expected a connect code to have been assigned")
	}
}

func TestCLICodeWrongArgCountExits(t *testing.T) {
	// cliCode calls os.Exit(1) on bad usage, which would end the test
	// binary, so the bad-usage call runs in a child copy of this test
	// binary and the parent checks its exit status.
	if os.Getenv("FLUXHUB_CLI_BAD_USAGE") == "1" {
		RunCLI([]string{"code"}, "unused.db")
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestCLICodeWrongArgCountExits$")
	cmd.Env = append(os.Environ(), "FLUXHUB_CLI_BAD_USAGE=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("expected bad usage to exit with status 1, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// "friends" subcommand
// ---------------------------------------------------------------------------

func TestCLIFriendsListReturnsTrue(t *testing.T) {
	dbPath := cliDBWithFriendship(t, "alice", "bob")
	if !RunCLI([]string{"friends", "list", "alice"}, dbPath) {
		t.Error("RunCLI(friends list alice) should return true")
	}
}

func TestCLIFriendsListEmptyReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"friends", "list", "nobody"}, dbPath) {
		t.Error("RunCLI(friends list nobody) should return true")
	}
}

func TestCLIFriendsAddReturnsTrue(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"friends", "add", "alice", "bob"}, dbPath) {
		t.Error("RunCLI(friends add) should return true")
	}

	st, err := identity.OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()

	ok, err := st.AreFriends(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("AreFriends: %v", err)
	}
	if !ok {
		t.Error("expected alice and bob to be friends after CLI add")
	}
}
