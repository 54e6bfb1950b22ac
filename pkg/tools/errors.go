package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorResponse creates a plain error result
func ErrorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// GetToolUsageExample returns an example argument object for a tool, used in
// validation guidance
func GetToolUsageExample(toolName string) string {
	examples := map[string]string{
		"export_vcard": `{"type": "node", "id": 240109189}`,
		"get_version":  `{}`,
	}

	if example, exists := examples[toolName]; exists {
		return example
	}
	return `{"ref": "way/123"}`
}

func usageGuidance(toolName string) string {
	return fmt.Sprintf("Example: %s", GetToolUsageExample(toolName))
}
