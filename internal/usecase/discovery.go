package usecase

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"datascout/internal/domain"
)

// Well-known tool names that trigger structured discovery extraction.
// Tools with other names contribute no discoveries; the mechanism is
// extensible without modifying the engine.
const (
	toolListFiles = "list_files"
	toolReadFile  = "read_file"
)

// maxSniffBytes bounds how much of a file read is inspected for format
// detection.
const maxSniffBytes = 4096

// DiscoveryExtractor derives discoveries from the outputs of well-known
// tools. It is stateless; deduplication by ID happens in the engine.
type DiscoveryExtractor struct{}

// NewDiscoveryExtractor creates an extractor.
func NewDiscoveryExtractor() *DiscoveryExtractor {
	return &DiscoveryExtractor{}
}

// pathParams is the common shape of fs tool inputs.
type pathParams struct {
	Path string `json:"path"`
}

// Extract inspects a successful tool result and returns zero or more
// discoveries. Failed results and unrecognized tools yield nothing.
func (e *DiscoveryExtractor) Extract(toolName string, input json.RawMessage, result *domain.ToolResult) []domain.Discovery {
	if result == nil || !result.Success {
		return nil
	}

	var p pathParams
	if len(input) > 0 {
		_ = json.Unmarshal(input, &p)
	}

	switch toolName {
	case toolListFiles:
		return e.fromListing(p.Path, result.Output)
	case toolReadFile:
		return e.fromFileContent(p.Path, result.Output)
	default:
		return nil
	}
}

// fromListing turns directory listing lines into file/directory discoveries.
// The listing format is one entry per line, directories with a trailing "/".
func (e *DiscoveryExtractor) fromListing(dir, listing string) []domain.Discovery {
	now := time.Now()
	var out []domain.Discovery
	for _, line := range strings.Split(listing, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}

		dtype := domain.DiscoveryFile
		desc := "file"
		if strings.HasSuffix(name, "/") {
			dtype = domain.DiscoveryDirectory
			desc = "directory"
			name = strings.TrimSuffix(name, "/")
		}
		full := path.Join(dir, name)

		out = append(out, domain.Discovery{
			ID:          domain.DiscoveryID(toolListFiles, full),
			Type:        dtype,
			Path:        full,
			Description: fmt.Sprintf("%s %s", desc, full),
			Timestamp:   now,
		})
	}
	return out
}

// fromFileContent sniffs the content of a read file for recognized
// tabular/structured formats and emits a data_type discovery with format
// metadata. Unrecognized content yields nothing.
func (e *DiscoveryExtractor) fromFileContent(filePath, content string) []domain.Discovery {
	if filePath == "" || content == "" {
		return nil
	}
	sniff := content
	if len(sniff) > maxSniffBytes {
		sniff = sniff[:maxSniffBytes]
	}

	meta := sniffFormat(filePath, sniff)
	if meta == nil {
		return nil
	}

	return []domain.Discovery{{
		ID:          domain.DiscoveryID(toolReadFile, filePath),
		Type:        domain.DiscoveryDataType,
		Path:        filePath,
		Description: fmt.Sprintf("%s data in %s", meta["format"], filePath),
		Metadata:    meta,
		Timestamp:   time.Now(),
	}}
}

// sniffFormat recognizes CSV/TSV headers and JSON structures. Returns nil
// when the content matches no known format.
func sniffFormat(filePath, sniff string) map[string]string {
	trimmed := strings.TrimSpace(sniff)

	switch {
	case strings.HasPrefix(trimmed, "["):
		return map[string]string{
			"format":  "json",
			"nesting": "top-level array",
		}
	case strings.HasPrefix(trimmed, "{"):
		return map[string]string{
			"format":  "json",
			"nesting": "top-level object",
		}
	}

	sep := ","
	format := "csv"
	if strings.HasSuffix(filePath, ".tsv") {
		sep = "\t"
		format = "tsv"
	}

	lines := strings.SplitN(trimmed, "\n", 3)
	if len(lines) < 2 {
		return nil
	}
	header := strings.Split(strings.TrimSpace(lines[0]), sep)
	second := strings.Split(strings.TrimSpace(lines[1]), sep)
	if len(header) < 2 || len(header) != len(second) {
		return nil
	}

	return map[string]string{
		"format":  format,
		"columns": strings.Join(header, ", "),
	}
}
