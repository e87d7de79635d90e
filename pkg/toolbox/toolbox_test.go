package toolbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoParams struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

func TestRegisterFuncDerivesSchema(t *testing.T) {
	tb := NewToolbox()

	err := tb.RegisterFunc("echo", "Echo the input", echoParams{}, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		p := echoParams{}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return p.Text, nil
	})
	require.NoError(t, err)

	tr, ok := tb.Get("echo")
	require.True(t, ok)
	require.Equal(t, "echo", tr.Name)
	require.Equal(t, "Echo the input", tr.Description)

	props, ok := tr.Parameters["properties"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, props, "text")
}

func TestRegisterRequiresID(t *testing.T) {
	tb := NewToolbox()
	require.Error(t, tb.Register(&ToolRequest{}))
	require.Error(t, tb.Register(nil))
}

func TestRegisterReplacesExisting(t *testing.T) {
	tb := NewToolbox()
	require.NoError(t, tb.Register(&ToolRequest{ID: "search", Description: "first"}))
	require.NoError(t, tb.Register(&ToolRequest{ID: "search", Description: "second"}))

	tr, ok := tb.Get("search")
	require.True(t, ok)
	require.Equal(t, "second", tr.Description)
	require.Equal(t, []string{"search"}, tb.Names())
}

func TestExecute(t *testing.T) {
	tb := NewToolbox()
	require.NoError(t, tb.RegisterFunc("echo", "", echoParams{}, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		p := echoParams{}
		require.NoError(t, json.Unmarshal(args, &p))
		return p.Text, nil
	}))

	result, err := tb.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "hi", result)

	_, err = tb.Execute(context.Background(), "missing", nil)
	require.Error(t, err)

	require.NoError(t, tb.Register(&ToolRequest{ID: "stub"}))
	_, err = tb.Execute(context.Background(), "stub", nil)
	require.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	tb := NewToolbox()
	require.NoError(t, tb.Register(&ToolRequest{ID: "zeta"}))
	require.NoError(t, tb.Register(&ToolRequest{ID: "alpha"}))
	require.Equal(t, []string{"alpha", "zeta"}, tb.Names())
}
