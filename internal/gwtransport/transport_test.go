package gwtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHostedAPIKeyURL(t *testing.T) {
	assert.True(t, isHostedAPIKeyURL("https://server.smithery.ai/foo/mcp"))
	assert.True(t, isHostedAPIKeyURL("https://mcp.anthropic.com/v1"))
	assert.False(t, isHostedAPIKeyURL("https://my-internal-tool.example.com/mcp"))
}

func TestBuildHeadersInjectsBearerOnlyForHostedURL(t *testing.T) {
	hosted := buildHeaders("https://app.composio.dev/mcp", nil, "secret-key")
	assert.Equal(t, "Bearer secret-key", hosted["Authorization"])

	notHosted := buildHeaders("https://internal.example.com/mcp", nil, "secret-key")
	_, present := notHosted["Authorization"]
	assert.False(t, present)
}

func TestBuildHeadersPreservesExplicitHeaders(t *testing.T) {
	merged := buildHeaders("https://internal.example.com/mcp", map[string]string{"X-Trace": "abc"}, "")
	assert.Equal(t, "abc", merged["X-Trace"])
}
