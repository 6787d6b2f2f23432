package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// DiscoveryType classifies a structured fact derived from tool output.
type DiscoveryType string

const (
	DiscoveryFile         DiscoveryType = "file"
	DiscoveryDirectory    DiscoveryType = "directory"
	DiscoveryDataType     DiscoveryType = "data_type"
	DiscoveryPattern      DiscoveryType = "pattern"
	DiscoveryRelationship DiscoveryType = "relationship"
)

// Discovery is a derived, deduplicated fact about the explored workspace.
// Discoveries are synthesized by inspecting tool outputs; they are not
// authoritative. Duplicates by ID are silently dropped.
type Discovery struct {
	ID          string            `json:"id"`
	Type        DiscoveryType     `json:"type"`
	Path        string            `json:"path,omitempty"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// DiscoveryID derives the stable deduplication key for a discovery from the
// originating tool name and path. The same tool/path pair always yields the
// same ID.
func DiscoveryID(tool, path string) string {
	sum := sha1.Sum([]byte(tool + "|" + path))
	return hex.EncodeToString(sum[:])[:16]
}
