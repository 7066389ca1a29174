package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/haasonsaas/mozi/pkg/models"
)

type fakeSecretResolver struct {
	values map[string]string
}

func (f *fakeSecretResolver) GetValue(name, agentID string, scope *models.SecretScope) (string, error) {
	v, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return v, nil
}

func TestExecTool_RejectsDirectAPIKeyEnv(t *testing.T) {
	tool := NewExecTool("main", t.TempDir(), models.SandboxConfig{Mode: models.SandboxOff}, nil, nil, nil)
	params, _ := json.Marshal(map[string]any{
		"command": "pwd",
		"env":     map[string]string{"OPENAI_API_KEY": "sk-leak"},
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected a direct API-key env override to be rejected")
	}
}

func TestExecTool_RunsPlainCommand(t *testing.T) {
	dir := t.TempDir()
	tool := NewExecTool("main", dir, models.SandboxConfig{Mode: models.SandboxOff}, nil, nil, nil)
	params, _ := json.Marshal(map[string]any{"command": "pwd"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content)
	}
}

func TestExecTool_RejectsDisallowedAuthRef(t *testing.T) {
	tool := NewExecTool("main", t.TempDir(), models.SandboxConfig{Mode: models.SandboxOff}, nil, []string{"github_token"}, &fakeSecretResolver{})
	params, _ := json.Marshal(map[string]any{"command": "pwd", "authRefs": []string{"aws_key"}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an authRef outside allowedSecrets to be rejected")
	}
}

func TestExecTool_AuthMissingWhenSecretUnset(t *testing.T) {
	tool := NewExecTool("main", t.TempDir(), models.SandboxConfig{Mode: models.SandboxOff}, nil, []string{"github_token"}, &fakeSecretResolver{values: map[string]string{}})
	params, _ := json.Marshal(map[string]any{"command": "pwd", "authRefs": []string{"github_token"}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || result.Content != "AUTH_MISSING github_token" {
		t.Fatalf("expected AUTH_MISSING github_token, got %q (isError=%v)", result.Content, result.IsError)
	}
}

func TestExecTool_ResolvesAllowedAuthRef(t *testing.T) {
	tool := NewExecTool("main", t.TempDir(), models.SandboxConfig{Mode: models.SandboxOff}, nil, []string{"GITHUB_TOKEN"},
		&fakeSecretResolver{values: map[string]string{"github_token": "ghp_abc"}})
	params, _ := json.Marshal(map[string]any{"command": "pwd", "authRefs": []string{" github_token "}})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected case/whitespace-normalized authRef to resolve, got error: %s", result.Content)
	}
}
