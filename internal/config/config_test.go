package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
repos = ["https://github.com/org/api", "https://github.com/org/frontend"]

[board]
provider = "github-projects"
project = "42"

[codehost]
provider = "github"

[deploy."org/api"]
command = "make deploy"

[hooks]
onPRCreated = "./hooks/notify.sh"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "warpcoder.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 30, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxRevisions)
	assert.Equal(t, 3, cfg.MaxTurnsRetries)
	assert.Equal(t, 60, cfg.Hooks.Timeout)
	assert.Equal(t, "https://github.com/org/api", cfg.PrimaryRepo())
	assert.Equal(t, "make deploy", cfg.Deploy["org/api"].Command)
}

func TestLoadRejectsMissingRepos(t *testing.T) {
	body := `
[board]
provider = "github-projects"
project = "42"

[codehost]
provider = "github"
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Repos")
}

func TestLoadRejectsUnknownCodehostProvider(t *testing.T) {
	body := `
repos = ["https://github.com/org/api"]

[board]
provider = "github-projects"
project = "42"

[codehost]
provider = "bitbucket"
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Codehost")
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/warpcoder.toml")
	assert.Error(t, err)
}

func TestDurableBackendDefaultsOnWarpmetricsApiKeyPresence(t *testing.T) {
	withKey := Config{WarpmetricsAPIKey: "wm-key"}
	assert.Equal(t, "http", withKey.DurableBackend())

	withoutKey := Config{}
	assert.Equal(t, "memory", withoutKey.DurableBackend())

	explicit := Config{WarpmetricsAPIKey: "wm-key", Durable: Durable{Backend: "sqlite"}}
	assert.Equal(t, "sqlite", explicit.DurableBackend())
}

func TestLoadHonoursExplicitOverrides(t *testing.T) {
	body := sampleTOML + "\nconcurrency = 4\npollInterval = 10\n"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 10, cfg.PollInterval)
}
