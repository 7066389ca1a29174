package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"config", "doctor"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestConfigCmdIncludesMutationSubcommands(t *testing.T) {
	cmd := buildConfigCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"snapshot", "set", "unset", "patch", "apply"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected config subcommand %q to be registered", name)
		}
	}
}
