package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
states:
  Started: todo
  PR_CREATED: inReview
  Failed: blocked

implement:
  executor: implement_exec
  results:
    success:
      outcome: PR_CREATED
      on: review_group
      next: await_review
    error:
      outcome: Failed

review_group:
  label: Review

await_review:
  executor: await_review_exec
  results:
    success:
      - outcome: PR_CREATED
        on: review_group
      - outcome: Failed
`

func TestLoadParsesStatesAndNodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "todo", doc.States["Started"])
	assert.Equal(t, "inReview", doc.States["PR_CREATED"])

	implement, ok := doc.Nodes["implement"]
	require.True(t, ok)
	require.NotNil(t, implement.Executor)
	assert.Equal(t, "implement_exec", *implement.Executor)
	require.Len(t, implement.Results["success"], 1)
	assert.Equal(t, "PR_CREATED", implement.Results["success"][0].Outcome)
	assert.Equal(t, "review_group", implement.Results["success"][0].On)
	assert.Equal(t, "await_review", implement.Results["success"][0].Next)

	group, ok := doc.Nodes["review_group"]
	require.True(t, ok)
	assert.Nil(t, group.Executor)
	assert.Equal(t, "Review", group.Label)

	review, ok := doc.Nodes["await_review"]
	require.True(t, ok)
	require.Len(t, review.Results["success"], 2, "a list-shaped results entry must decode to multiple specs")
	assert.Equal(t, "Failed", review.Results["success"][1].Outcome)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/lifecycle.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("states: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
