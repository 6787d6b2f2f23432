package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/domain"
)

// fakeTool is a minimal tool for registry tests.
type fakeTool struct {
	name   string
	schema json.RawMessage
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return t.name + " tool" }
func (t *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: t.schema}
}
func (t *fakeTool) Execute(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return TextResult("ok"), nil
}

func objectSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(newTestLogger())
	require.NoError(t, r.Register(&fakeTool{name: "read_file", schema: objectSchema()}))

	got, err := r.Get("read_file")
	require.NoError(t, err)
	assert.Equal(t, "read_file", got.Name())
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry(newTestLogger())
	require.NoError(t, r.Register(&fakeTool{name: "x", schema: objectSchema()}))
	assert.Error(t, r.Register(&fakeTool{name: "x", schema: objectSchema()}))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(newTestLogger())
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(newTestLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&fakeTool{name: name, schema: objectSchema()}))
	}

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "mid", schemas[1].Name)
	assert.Equal(t, "zeta", schemas[2].Name)
}

func TestRegistrySubset(t *testing.T) {
	r := NewRegistry(newTestLogger())
	for _, name := range []string{"list_files", "read_file", "run_code"} {
		require.NoError(t, r.Register(&fakeTool{name: name, schema: objectSchema()}))
	}

	sub := r.Subset([]string{"read_file", "no_such_tool"})
	schemas := sub.Schemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, "read_file", schemas[0].Name)

	_, err := sub.Get("run_code")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	// Empty subset means no restriction.
	assert.Len(t, r.Subset(nil).Schemas(), 3)
}

func TestRegistryWrapsWithSchemaValidation(t *testing.T) {
	r := NewRegistry(newTestLogger())
	require.NoError(t, r.Register(&fakeTool{
		name:   "strict",
		schema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`),
	}))

	got, err := r.Get("strict")
	require.NoError(t, err)

	// Missing required field is rejected before the tool runs.
	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "schema validation failed")

	// Valid params pass through.
	res, err = got.Execute(context.Background(), json.RawMessage(`{"n": 1}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
}
