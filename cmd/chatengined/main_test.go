package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "config", "journal"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestConfigValidateRejectsMissingFile(t *testing.T) {
	cmd := buildConfigCmd()
	cmd.SetArgs([]string{"validate", "--config", "/nonexistent/chatengine.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestJournalListRequiresReachableDaemon(t *testing.T) {
	cmd := buildJournalCmd()
	cmd.SetArgs([]string{"list", "--addr", "http://127.0.0.1:1"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error when no daemon is listening")
	}
}
