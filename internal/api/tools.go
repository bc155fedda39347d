package api

import (
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/crew/internal/agent"
)

type prop = map[string]any

func tool(name, description string, properties map[string]any, required ...string) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		},
	}
}

func str(description string) prop {
	return prop{"type": "string", "description": description}
}

func integer(description string) prop {
	return prop{"type": "integer", "description": description}
}

// readOnlyTools never change the working directory.
func readOnlyTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		tool("Read", "Read a file in the working directory. Returns file contents with line numbers.",
			prop{
				"file_path": str("Path to the file, relative to the working directory or absolute inside it"),
				"offset":    integer("Line number to start reading from (1-indexed, optional)"),
				"limit":     integer("Maximum number of lines to read (optional)"),
			}, "file_path"),
		tool("Glob", "Find files matching a glob pattern.",
			prop{
				"pattern": str("Glob pattern to match (e.g., '**/*.go', '*.md')"),
				"path":    str("Directory to search in (optional, defaults to working directory)"),
			}, "pattern"),
		tool("Grep", "Search file contents with a regular expression.",
			prop{
				"pattern": str("Regex pattern to search for"),
				"path":    str("Directory to search in (optional)"),
				"glob":    str("Glob pattern to filter files (e.g., '*.go')"),
			}, "pattern"),
		tool("ListDir", "List contents of a directory.",
			prop{
				"path": str("Directory path to list"),
			}, "path"),
	}
}

// writeTools are only offered at elevated capability.
func writeTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		tool("Write", "Write content to a file. Creates parent directories if needed.",
			prop{
				"file_path": str("Path to the file to write"),
				"content":   str("Content to write to the file"),
			}, "file_path", "content"),
		tool("Edit", "Edit a file by replacing text. The old_string must be unique unless replace_all is true.",
			prop{
				"file_path":   str("Path to the file to edit"),
				"old_string":  str("The exact text to find and replace"),
				"new_string":  str("The text to replace it with"),
				"replace_all": prop{"type": "boolean", "description": "If true, replace all occurrences (default: false)"},
			}, "file_path", "old_string", "new_string"),
		tool("Bash", "Execute a bash command in the working directory and return the output.",
			prop{
				"command":     str("The bash command to execute"),
				"timeout":     integer("Timeout in milliseconds (optional, default 120000)"),
				"description": str("Description of what this command does"),
			}, "command"),
	}
}

// ToolsFor returns the tool schemas offered at a capability level.
func ToolsFor(capability agent.CapabilityLevel) []anthropic.ToolUnionParam {
	tools := readOnlyTools()
	if capability == agent.CapabilityElevated {
		tools = append(tools, writeTools()...)
	}
	return tools
}

func isWriteTool(name string) bool {
	switch name {
	case "Write", "Edit", "Bash":
		return true
	}
	return false
}
