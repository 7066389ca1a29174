package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RedactionSentinel is the well-known literal the config store substitutes
// with the current on-disk value of a sensitive field.
const RedactionSentinel = "<__mozi_redacted__>"

// maxBackups is the number of rotated backups WriteRawAtomic retains.
const maxBackups = 5

// ErrConflict is returned by a mutation whose expectedRawHash did not match
// the file's current on-disk hash. It maps to exit code 2 at the CLI
// boundary.
var ErrConflict = errors.New("config: optimistic concurrency conflict")

// ErrMissingSensitive is returned when a patch supplies the redaction
// sentinel for a field that has no current on-disk value to restore; the
// whole write fails in that case.
var ErrMissingSensitive = errors.New("config: sensitive field has no current value to restore from sentinel")

// Snapshot is the read-only view of the config document on disk.
type Snapshot struct {
	Path    string
	Exists  bool
	Raw     string
	RawHash string
	Load    LoadResult
}

// hashRaw computes the stable digest used for optimistic concurrency.
// SHA-256 hex is exactly 64 characters, so the full digest is used.
func hashRaw(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TakeSnapshot reads path, returning its raw bytes, hash, and a best-effort
// parse/validate pass, without mutating anything.
func TakeSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Path: path, Exists: false}, nil
		}
		return Snapshot{}, err
	}
	return Snapshot{
		Path:    path,
		Exists:  true,
		Raw:     string(data),
		RawHash: hashRaw(data),
		Load:    Load(path),
	}, nil
}

// WriteOptions carries the optional optimistic-concurrency guard shared by
// every mutating store operation.
type WriteOptions struct {
	ExpectedRawHash string
}

// WriteRawAtomic writes newText to path with an atomic tmp-then-rename, a
// timestamped backup of the previous contents, and optional optimistic
// concurrency. On any failure the file on disk
// is left byte-identical to before the call.
func WriteRawAtomic(path string, newText string, opts WriteOptions) error {
	existing, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if opts.ExpectedRawHash != "" {
		currentHash := ""
		if exists {
			currentHash = hashRaw(existing)
		}
		if currentHash != opts.ExpectedRawHash {
			return ErrConflict
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(newText), 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if exists {
		backupPath := path + ".bak." + time.Now().UTC().Format("20060102T150405.000000000Z")
		if err := os.WriteFile(backupPath, existing, 0o600); err != nil {
			os.Remove(tmpPath)
			return err
		}
		if err := pruneBackups(path); err != nil {
			os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// pruneBackups retains at most maxBackups rotated copies of path, deleting
// the oldest first.
func pruneBackups(path string) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	prefix := base + ".bak."
	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(backups) // ISO-8601 timestamps sort lexically in time order
	for len(backups) > maxBackups {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

// readRawDoc loads path's current contents as a parsed map, or an empty map
// if the file does not yet exist.
func readRawDoc(path string) (map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return LoadRaw(path)
}

// mutate reads path's raw doc, applies fn, resolves any redaction
// sentinels, validates the result, and writes it back atomically. It is
// the shared implementation behind Set/Unset/Patch/Apply: deep-clone the
// parsed document, apply the mutation, validate, then write via
// WriteRawAtomic.
func mutate(path string, opts WriteOptions, fn func(doc map[string]any) error) (*Config, error) {
	current, err := readRawDoc(path)
	if err != nil {
		return nil, err
	}
	proposed := deepCloneAny(current).(map[string]any)

	if err := fn(proposed); err != nil {
		return nil, err
	}

	if err := resolveRedactionSentinels(proposed, current, nil); err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(proposed)
	if err != nil {
		return nil, err
	}
	applyLoadDefaults(cfg)
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	payload, err := json.MarshalIndent(proposed, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := WriteRawAtomic(path, string(payload)+"\n", opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set applies a single dotted-path assignment.
func Set(path, keyPath string, value any, opts WriteOptions) (*Config, error) {
	return mutate(path, opts, func(doc map[string]any) error {
		return setByPath(doc, keyPath, value)
	})
}

// Unset removes a single dotted-path field.
func Unset(path, keyPath string, opts WriteOptions) (*Config, error) {
	return mutate(path, opts, func(doc map[string]any) error {
		return unsetByPath(doc, keyPath)
	})
}

// Patch deep-merges patch into the document: arrays concatenated, objects
// merged, scalars overwritten, the same semantics $include uses.
func Patch(path string, patch map[string]any, opts WriteOptions) (*Config, error) {
	return mutate(path, opts, func(doc map[string]any) error {
		merged := mergeMaps(doc, patch)
		for k := range doc {
			delete(doc, k)
		}
		for k, v := range merged {
			doc[k] = v
		}
		return nil
	})
}

// OperationKind discriminates one Apply step.
type OperationKind string

const (
	OpSet   OperationKind = "set"
	OpUnset OperationKind = "unset"
	OpPatch OperationKind = "patch"
)

// Operation is one step of a batch Apply call.
type Operation struct {
	Kind    OperationKind
	KeyPath string
	Value   any
	Patch   map[string]any
}

// Apply runs operations left-to-right against a single deep-cloned
// document, aborting the whole batch on the first error.
func Apply(path string, operations []Operation, opts WriteOptions) (*Config, error) {
	return mutate(path, opts, func(doc map[string]any) error {
		for i, op := range operations {
			var err error
			switch op.Kind {
			case OpSet:
				err = setByPath(doc, op.KeyPath, op.Value)
			case OpUnset:
				err = unsetByPath(doc, op.KeyPath)
			case OpPatch:
				merged := mergeMaps(doc, op.Patch)
				for k := range doc {
					delete(doc, k)
				}
				for k, v := range merged {
					doc[k] = v
				}
			default:
				err = fmt.Errorf("unknown operation kind %q", op.Kind)
			}
			if err != nil {
				return fmt.Errorf("operation %d (%s %s): %w", i, op.Kind, op.KeyPath, err)
			}
		}
		return nil
	})
}

// splitPath tokenizes a dotted key path, e.g. "agents.mozi.tools" ->
// ["agents", "mozi", "tools"].
func splitPath(keyPath string) []string {
	if strings.TrimSpace(keyPath) == "" {
		return nil
	}
	return strings.Split(keyPath, ".")
}

// setByPath assigns value at the dotted path, creating intermediate maps
// as needed.
func setByPath(doc map[string]any, keyPath string, value any) error {
	parts := splitPath(keyPath)
	if len(parts) == 0 {
		return fmt.Errorf("key path is required")
	}
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// unsetByPath deletes the field at the dotted path, a no-op if any
// intermediate segment is absent.
func unsetByPath(doc map[string]any, keyPath string) error {
	parts := splitPath(keyPath)
	if len(parts) == 0 {
		return fmt.Errorf("key path is required")
	}
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
	return nil
}

// getByPath reads the value at the dotted path, if present.
func getByPath(doc map[string]any, keyPath string) (any, bool) {
	parts := splitPath(keyPath)
	cur := any(doc)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// resolveRedactionSentinels walks proposed, and for any string field whose
// name is sensitive and whose value is the RedactionSentinel literal,
// substitutes the value at the same path in current. Fails the whole
// write with ErrMissingSensitive if current has no value there.
func resolveRedactionSentinels(proposed, current map[string]any, path []string) error {
	for k, v := range proposed {
		fieldPath := append(append([]string{}, path...), k)
		switch val := v.(type) {
		case string:
			if val == RedactionSentinel && isSensitiveField(k) {
				existing, ok := getByPath(current, strings.Join(fieldPath, "."))
				if !ok {
					return fmt.Errorf("%w: %s", ErrMissingSensitive, strings.Join(fieldPath, "."))
				}
				proposed[k] = existing
			}
		case map[string]any:
			if err := resolveRedactionSentinels(val, current, fieldPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// deepCloneAny recursively clones a decoded JSON value (map[string]any,
// []any, or a scalar), so mutations never alias the document read from
// disk.
func deepCloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCloneAny(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCloneAny(vv)
		}
		return out
	default:
		return v
	}
}

// ConflictExitCode is the distinguishable process exit status for
// ErrConflict, distinct from the validation-failure code.
const ConflictExitCode = 2

// ValidationExitCode is the exit status for hard validation failures.
const ValidationExitCode = 1

// ExitCodeFor maps a store error to the CLI-visible exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrConflict) {
		return ConflictExitCode
	}
	return ValidationExitCode
}
