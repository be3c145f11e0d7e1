package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "chatsafe"

// HomeDir returns the user's ChatSafe configuration home: ~/.chatsafe
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.chatsafe directory exists with all default content.
// Called once at startup. Safe to call multiple times; only creates missing items.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	// Directory tree
	dirs := []string{
		root,
		filepath.Join(root, "models"),
		filepath.Join(root, "logs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Default files, only written if they don't already exist (never overwrite user edits)
	defaults := map[string]string{
		filepath.Join(root, "config.yaml"): defaultConfig,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue // Already exists, skip
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("ChatSafe bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("ChatSafe home directory OK", zap.String("home", root))
	}

	return nil
}

// ──────────────────────────────────────────────────────────────
// Embedded default file contents
// ──────────────────────────────────────────────────────────────

const defaultConfig = `# ═══════════════════════════════════════════════════════════════
# ChatSafe Configuration
# Auto-generated on first launch. Feel free to edit.
# ═══════════════════════════════════════════════════════════════

# ─── Gateway Server ───────────────────────────────────────────
# The API only ever binds loopback. Changing host to a routable
# address fails validation at startup.
server:
  host: 127.0.0.1
  port: 8081
  max_connections: 100
  mode: release                # release | debug

# ─── Inference Engine ─────────────────────────────────────────
# The llama-server binary the gateway supervises.
engine:
  binary: llama-server         # Resolved via PATH unless absolute
  port: 8080
  threads: 4
  gpu_layers: 0                # 0 = CPU only

# ─── Models ───────────────────────────────────────────────────
models:
  directory: ""                # Empty = ~/.chatsafe/models
  registry_file: ""            # Empty = <directory>/registry.json
  default_model: ""            # Empty = registry default

# ─── Rate Limits ──────────────────────────────────────────────
limits:
  per_ip_per_minute: 60
  max_concurrent_per_ip: 5
  global_per_minute: 600
  cleanup_interval: 1m

# ─── Logging ──────────────────────────────────────────────────
log:
  level: info                  # debug | info | warn | error
  format: json                 # json | console
  file: ""                     # Empty logs to stderr
  max_size_mb: 100
  max_backups: 3
  max_age_days: 28

# ─── Usage Ledger ─────────────────────────────────────────────
store:
  enabled: true
  type: sqlite                 # sqlite | postgres
  dsn: ""                      # Empty = ~/.chatsafe/chatsafe.db
`
