// Package config loads and validates the installation's TOML
// configuration file: which repos to drive, which board and code-host
// adapters to use, concurrency and retry ceilings, the deploy command
// map, and the lifecycle hook commands.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Board holds the board adapter selection. Columns maps a lifecycle
// column key (graph.ColumnKeys: todo, inProgress, inReview,
// readyForDeploy, deploy, done, blocked, waiting, aborted) to the label
// or list name the adapter applies for it.
type Board struct {
	Provider string            `toml:"provider" validate:"required"`
	Project  string            `toml:"project" validate:"required"`
	Columns  map[string]string `toml:"columns"`
}

// Codehost holds the pull-request/issue/notification backend selection.
type Codehost struct {
	Provider string `toml:"provider" validate:"required,oneof=github gitlab"`
}

// Memory holds the reflection-feature toggle, its line cap, and which
// LLM backs the reflection summary.
type Memory struct {
	Enabled  bool   `toml:"enabled"`
	MaxLines int    `toml:"maxLines" validate:"omitempty,min=1"`
	Provider string `toml:"provider" validate:"omitempty,oneof=anthropic openai google"`
	APIKey   string `toml:"apiKey"`
	Model    string `toml:"model"`
	Path     string `toml:"path"`
}

// Durable selects and configures the durable-state backend. An empty
// Backend defaults to "http" when WarpmetricsAPIKey is set and to
// "memory" otherwise.
type Durable struct {
	Backend string `toml:"backend" validate:"omitempty,oneof=memory http sqlite mysql"`
	BaseURL string `toml:"baseUrl"`
	DSN     string `toml:"dsn"`
}

// DeployStep is one repo's configured deploy command.
type DeployStep struct {
	Command   string   `toml:"command" validate:"required"`
	DependsOn []string `toml:"dependsOn"`
}

// Hooks holds the shell commands run at named lifecycle points, and the
// timeout each one is bounded by.
type Hooks struct {
	OnBranchCreate string `toml:"onBranchCreate"`
	OnBeforePush   string `toml:"onBeforePush"`
	OnPRCreated    string `toml:"onPRCreated"`
	OnBeforeMerge  string `toml:"onBeforeMerge"`
	OnMerged       string `toml:"onMerged"`
	Timeout        int    `toml:"timeout" validate:"omitempty,min=1"`
}

// Config is the top-level configuration file shape.
type Config struct {
	Repos    []string `toml:"repos" validate:"required,min=1,dive,required"`
	Board    Board    `toml:"board" validate:"required"`
	Codehost Codehost `toml:"codehost" validate:"required"`

	Concurrency     int `toml:"concurrency" validate:"omitempty,min=1"`
	PollInterval    int `toml:"pollInterval" validate:"omitempty,min=1"`
	MaxRevisions    int `toml:"maxRevisions" validate:"omitempty,min=0"`
	MaxTurnsRetries int `toml:"maxTurnsRetries" validate:"omitempty,min=0"`

	Deploy map[string]DeployStep `toml:"deploy"`
	Memory Memory                `toml:"memory"`
	Durable Durable              `toml:"durable"`

	// IssueRepos maps an issue id to its ordered target repo list: the
	// first entry is where its pull request is opened and merged, the
	// rest are additional repos its deploy plan should fold in (the
	// multi-repo deploy batching scenario). An issue absent from this
	// map targets PrimaryRepo() alone.
	IssueRepos map[string][]string `toml:"issueRepos"`

	WarpmetricsAPIKey string `toml:"warpmetricsApiKey"`
	Hooks             Hooks  `toml:"hooks"`
}

// DurableBackend resolves the effective backend name, applying the
// warpmetricsApiKey-presence default when durable.backend is unset.
func (c *Config) DurableBackend() string {
	if c.Durable.Backend != "" {
		return c.Durable.Backend
	}
	if c.WarpmetricsAPIKey != "" {
		return "http"
	}
	return "memory"
}

// PrimaryRepo returns the first entry of Repos, the distinguished
// primary repository.
func (c *Config) PrimaryRepo() string {
	if len(c.Repos) == 0 {
		return ""
	}
	return c.Repos[0]
}

// ReposForIssue resolves issueID's full ordered target repo list: its
// IssueRepos entry, or a single-element list holding PrimaryRepo() when
// the issue has no specific mapping.
func (c *Config) ReposForIssue(issueID string) []string {
	if repos, ok := c.IssueRepos[issueID]; ok && len(repos) > 0 {
		return repos
	}
	if primary := c.PrimaryRepo(); primary != "" {
		return []string{primary}
	}
	return nil
}

// RepoForIssue resolves the single repo issueID's pull request is
// opened and merged against: the first entry of ReposForIssue.
func (c *Config) RepoForIssue(issueID string) string {
	repos := c.ReposForIssue(issueID)
	if len(repos) == 0 {
		return ""
	}
	return repos[0]
}

// applyDefaults fills the zero-valued optional fields with their
// documented defaults.
func (c *Config) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30
	}
	if c.MaxRevisions == 0 {
		c.MaxRevisions = 3
	}
	if c.MaxTurnsRetries == 0 {
		c.MaxTurnsRetries = 3
	}
	if c.Hooks.Timeout == 0 {
		c.Hooks.Timeout = 60
	}
}

// Load reads and validates the TOML configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
