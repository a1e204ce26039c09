package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/warpmetrics/coder/internal/lifecycle"
)

func parseDoc(t *testing.T, src string) *lifecycle.Document {
	t.Helper()
	var doc lifecycle.Document
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return &doc
}

const validDoc = `
states:
  BUILDING: inProgress
  PR_CREATED: inReview
  Shipped: done
implement:
  executor: implement
  results:
    success:
      outcome: PR_CREATED
      on: review
review:
  executor: null
  results:
    created:
      outcome: BUILDING
`

func TestCompileValidGraph(t *testing.T) {
	doc := parseDoc(t, validDoc)
	g, err := Compile(doc, "implement")
	require.NoError(t, err)
	assert.True(t, g.Node("review").IsGroup())
	assert.False(t, g.Node("implement").IsGroup())
}

func TestCompileUnknownOutcomeInStates(t *testing.T) {
	doc := parseDoc(t, `
states:
  BUILDING: inProgress
implement:
  executor: implement
  results:
    success:
      outcome: PR_CREATED
`)
	_, err := Compile(doc, "implement")
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Len(t, compileErr.Violations, 1)
	assert.Contains(t, compileErr.Violations[0].Message, "PR_CREATED")
}

func TestCompileOnMustNameAPhaseGroup(t *testing.T) {
	doc := parseDoc(t, `
states:
  BUILDING: inProgress
implement:
  executor: implement
  results:
    success:
      outcome: BUILDING
      on: implement
`)
	_, err := Compile(doc, "implement")
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Violations[0].Message, "not a phase-group node")
}

func TestCompileNextMustExist(t *testing.T) {
	doc := parseDoc(t, `
states:
  BUILDING: inProgress
implement:
  executor: implement
  results:
    success:
      outcome: BUILDING
      next: ghost
`)
	_, err := Compile(doc, "implement")
	require.Error(t, err)
}

func TestCompileAggregatesAllViolations(t *testing.T) {
	doc := parseDoc(t, `
states: {}
implement:
  executor: implement
  results:
    success:
      outcome: PR_CREATED
      on: missing_group
      next: missing_act
`)
	_, err := Compile(doc, "implement")
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Len(t, compileErr.Violations, 3, "one fatal error enumerating all violations")
}

func TestCompileIgnoresNodesUnreachableFromRoot(t *testing.T) {
	// "orphaned" is never named by any `next`, so BFS from the root never
	// visits it; it must not be flagged for that, and its executor name
	// (something_unregistered) is not checked either.
	doc := parseDoc(t, `
states:
  BUILDING: inProgress
implement:
  executor: implement
  results:
    success:
      outcome: BUILDING
orphaned:
  executor: something_unregistered
  results:
    success:
      outcome: BUILDING
`)
	_, err := Compile(doc, "implement")
	require.NoError(t, err, "unreachable nodes are not validated for reachability purposes")
}
