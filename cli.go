package main

import (
	"context"
	"fmt"
	"os"

	"fluxhub/internal/identity"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("fluxhub %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "code":
		return cliCode(args[1:], dbPath)
	case "friends":
		return cliFriends(args[1:], dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := identity.OpenStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Version: %s\n", Version)
	return true
}

// cliCode prints (or assigns, on first request) the connect code for a
// given user id: `fluxhub code <user-id>`.
func cliCode(args []string, dbPath string) bool {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: fluxhub code <user-id>\n")
		os.Exit(1)
	}
	userID := args[0]

	st, err := identity.OpenStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	dir := identity.NewDirectory(identity.NewStaticVerifier(), st)
	code, err := dir.GetOrCreateConnectCode(context.Background(), userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(code)
	return true
}

// cliFriends lists or adds friendship edges:
// `fluxhub friends list <user-id>` / `fluxhub friends add <a> <b>`.
func cliFriends(args []string, dbPath string) bool {
	st, err := identity.OpenStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if len(args) == 2 && args[0] == "list" {
		ids, err := st.ListFriendIDs(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Println("No friends found.")
			return true
		}
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return true
	}

	if len(args) == 3 && args[0] == "add" {
		if err := st.AddFriendship(ctx, args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "error adding friendship: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s and %s are now friends\n", args[1], args[2])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: fluxhub friends [list <user-id>|add <a> <b>]\n")
	os.Exit(1)
	return true
}
