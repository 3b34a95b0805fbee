package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// buildRoot constructs the root command as main() does, for use in tests.
func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "tidegate",
		Short: "Water-map query service with abuse throttling",
	}
	root.AddCommand(runCmd(), healthcheckCmd(), versionCmd(), inspectLedgerCmd())
	return root
}

// TestRootSubcommands verifies all expected subcommands are registered.
func TestRootSubcommands(t *testing.T) {
	root := buildRoot()

	registered := make(map[string]bool)
	for _, cmd := range root.Commands() {
		registered[cmd.Use] = true
	}

	for _, want := range []string{"run", "version", "healthcheck", "inspect-ledger"} {
		if !registered[want] {
			t.Errorf("subcommand %q not registered on root command", want)
		}
	}
}

// TestVersionOutput verifies the version subcommand prints the binary name.
func TestVersionOutput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	oldStdout := os.Stdout
	os.Stdout = w

	root := buildRoot()
	root.SetArgs([]string{"version"})
	execErr := root.Execute()

	w.Close()
	os.Stdout = oldStdout

	if execErr != nil {
		t.Fatalf("version command returned error: %v", execErr)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "tidegate") {
		t.Errorf("version output %q does not contain expected string %q", buf.String(), "tidegate")
	}
}

// TestRunDaemonMissingConfig verifies runDaemon returns an error (not panics)
// when WATER_MAP_PATH is not set.
func TestRunDaemonMissingConfig(t *testing.T) {
	t.Setenv("WATER_MAP_PATH", "")

	err := runDaemon()
	if err == nil {
		t.Fatal("expected runDaemon() to return an error when WATER_MAP_PATH is missing")
	}
}

func TestHostAddr(t *testing.T) {
	cases := map[string]string{
		":8080":          "localhost:8080",
		"0.0.0.0:9090":   "0.0.0.0:9090",
		"127.0.0.1:8081": "127.0.0.1:8081",
	}
	for in, want := range cases {
		if got := hostAddr(in); got != want {
			t.Errorf("hostAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
