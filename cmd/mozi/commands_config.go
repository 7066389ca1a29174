package main

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/mozi/internal/config"
	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group exposing the config
// store's snapshot/set/unset/patch/apply operations.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and mutate the declared config document",
	}
	cmd.AddCommand(
		buildConfigSnapshotCmd(),
		buildConfigSetCmd(),
		buildConfigUnsetCmd(),
		buildConfigPatchCmd(),
		buildConfigApplyCmd(),
	)
	return cmd
}

func buildConfigSnapshotCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the config document's path, raw hash, and validation result",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := config.TakeSnapshot(configPath)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
					Path    string `json:"path"`
					RawHash string `json:"rawHash"`
				}{Path: snap.Path, RawHash: snap.RawHash})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "path: %s\nexists: %t\nrawHash: %s\nvalid: %t\n", snap.Path, snap.Exists, snap.RawHash, snap.Load.Success)
			for _, e := range snap.Load.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the minimal {path,rawHash} contract instead of the full report")
	return cmd
}

func withExpectedHashFlag(cmd *cobra.Command) *string {
	var expectedHash string
	cmd.Flags().StringVar(&expectedHash, "expected-hash", "", "abort with a conflict if the file's current hash does not match")
	return &expectedHash
}

func runConfigMutation(cmd *cobra.Command, err error, cfg *config.Config) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d agent(s), %d model(s) declared\n", len(cfg.Agents), len(cfg.Models))
	return nil
}

func buildConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key.path> <value>",
		Short: "Set a single dotted-path field, parsing value as JSON when possible",
		Args:  cobra.ExactArgs(2),
	}
	expectedHash := withExpectedHashFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Set(configPath, args[0], parseCLIValue(args[1]), config.WriteOptions{ExpectedRawHash: *expectedHash})
		return runConfigMutation(cmd, err, cfg)
	}
	return cmd
}

func buildConfigUnsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset <key.path>",
		Short: "Remove a single dotted-path field",
		Args:  cobra.ExactArgs(1),
	}
	expectedHash := withExpectedHashFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Unset(configPath, args[0], config.WriteOptions{ExpectedRawHash: *expectedHash})
		return runConfigMutation(cmd, err, cfg)
	}
	return cmd
}

func buildConfigPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <json>",
		Short: "Deep-merge a JSON object into the config document",
		Args:  cobra.ExactArgs(1),
	}
	expectedHash := withExpectedHashFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var patch map[string]any
		if err := json.Unmarshal([]byte(args[0]), &patch); err != nil {
			return fmt.Errorf("patch argument must be a JSON object: %w", err)
		}
		cfg, err := config.Patch(configPath, patch, config.WriteOptions{ExpectedRawHash: *expectedHash})
		return runConfigMutation(cmd, err, cfg)
	}
	return cmd
}

// applyOperation is the JSON shape one "apply" batch entry takes on the CLI:
// {"kind":"set|unset|patch","keyPath":"...","value":...,"patch":{...}}.
type applyOperation struct {
	Kind    string         `json:"kind"`
	KeyPath string         `json:"keyPath"`
	Value   any            `json:"value"`
	Patch   map[string]any `json:"patch"`
}

func buildConfigApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <json-array-of-operations>",
		Short: "Run a batch of set/unset/patch operations left-to-right, aborting on the first error",
		Args:  cobra.ExactArgs(1),
	}
	expectedHash := withExpectedHashFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var raw []applyOperation
		if err := json.Unmarshal([]byte(args[0]), &raw); err != nil {
			return fmt.Errorf("apply argument must be a JSON array of operations: %w", err)
		}
		operations := make([]config.Operation, 0, len(raw))
		for _, op := range raw {
			operations = append(operations, config.Operation{
				Kind:    config.OperationKind(op.Kind),
				KeyPath: op.KeyPath,
				Value:   op.Value,
				Patch:   op.Patch,
			})
		}
		cfg, err := config.Apply(configPath, operations, config.WriteOptions{ExpectedRawHash: *expectedHash})
		return runConfigMutation(cmd, err, cfg)
	}
	return cmd
}

// parseCLIValue accepts a raw CLI argument and decodes it as JSON when
// possible (so booleans, numbers, and objects can be set directly),
// falling back to the literal string otherwise.
func parseCLIValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}
