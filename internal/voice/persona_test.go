package voice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ent0n29/drivethru/internal/order"
)

func TestSystemPromptListsMenu(t *testing.T) {
	prompt, err := SystemPrompt(order.DefaultMenu, "")
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	for _, want := range []string{`"BURGER" ($15.00)`, `"COMBO 10 MIX" ($150.00)`, StartConversationText, "revealSecretMenu"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestSystemPromptOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("  be brief  \n"), 0o600); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	prompt, err := SystemPrompt(order.DefaultMenu, path)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if prompt != "be brief" {
		t.Fatalf("prompt = %q, want override text", prompt)
	}

	if _, err := SystemPrompt(order.DefaultMenu, filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("missing override file should fail")
	}
}
