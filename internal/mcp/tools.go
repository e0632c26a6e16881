package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names.
const (
	ToolNameDiff        = "addon_diff"
	ToolNameDeltas      = "addon_deltas"
	ToolNameFiles       = "addon_files"
	ToolNameFileContent = "addon_file_content"
	ToolNameQueueStatus = "addon_queue_status"
)

// Sentinel errors for tool input validation.
var (
	ErrInvalidAddonID = errors.New("addon_id must be positive")
	ErrEmptyCommit    = errors.New("commit is required and must not be empty")
	ErrEmptyPath      = errors.New("path is required and must not be empty")
	ErrNotExtracted   = errors.New("add-on has no extracted repository")
)

// DiffInput is the input schema of addon_diff and addon_deltas.
type DiffInput struct {
	AddonID int64             `json:"addon_id"          jsonschema:"add-on id"`
	Commit  string            `json:"commit"            jsonschema:"commit of the version to show"`
	Parent  string            `json:"parent,omitempty"  jsonschema:"commit to compare against (default: empty tree)"`
	Paths   []string          `json:"paths,omitempty"   jsonschema:"optional file paths relative to the extracted root"`
	Renames map[string]string `json:"renames,omitempty" jsonschema:"optional old path to new path pairs shown as renames"`
}

// FilesInput is the input schema of addon_files.
type FilesInput struct {
	AddonID int64  `json:"addon_id" jsonschema:"add-on id"`
	Commit  string `json:"commit"   jsonschema:"commit of the version to list"`
}

// FileContentInput is the input schema of addon_file_content.
type FileContentInput struct {
	AddonID int64  `json:"addon_id" jsonschema:"add-on id"`
	Commit  string `json:"commit"   jsonschema:"commit of the version to read"`
	Path    string `json:"path"     jsonschema:"file path relative to the extracted root"`
}

// QueueStatusInput is the input schema of addon_queue_status.
type QueueStatusInput struct {
	AddonID int64 `json:"addon_id,omitempty" jsonschema:"optional add-on id (default: all)"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}, ToolOutput{}, nil
}

func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, ToolOutput{Data: value}, nil
}

func validateRevision(addonID int64, commit string) error {
	if addonID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAddonID, addonID)
	}

	if commit == "" {
		return ErrEmptyCommit
	}

	return nil
}
