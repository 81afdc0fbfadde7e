package cmn

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AnonymousUniqueId persists at path (typically a Layout's
// AnonymousUniqueIdFile(), §6.1) and is attached as a worker-configuration
// header so the original's opt-in telemetry identifier survives the
// distillation (SPEC_FULL.md §3).
func AnonymousUniqueId(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
