package vectorstore

import (
	"regexp"
	"strings"
)

var collectionSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// NormalizeOS maps OS aliases onto the canonical collection suffixes.
func NormalizeOS(os string) string {
	switch strings.ToLower(strings.TrimSpace(os)) {
	case "mac", "macos", "osx":
		return "macos"
	case "win", "windows":
		return "windows"
	case "linux":
		return "linux"
	case "network":
		return "network"
	case "":
		return "unknown"
	}
	return strings.ToLower(strings.TrimSpace(os))
}

// SanitizeEmbedID makes an embedding provider name safe for collection
// names: any run of characters outside [a-zA-Z0-9_-] becomes "_".
func SanitizeEmbedID(embedID string) string {
	return collectionSanitizeRe.ReplaceAllString(embedID, "_")
}

// CollectionName builds "<prefix><os>__<embedID>". Namespacing by embedding
// identity keeps vectors of different providers (and dimensions) apart.
func CollectionName(prefix, os, embedID string) string {
	return prefix + NormalizeOS(os) + "__" + SanitizeEmbedID(embedID)
}
