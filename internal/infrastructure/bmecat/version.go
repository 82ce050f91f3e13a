package bmecat

import (
	"bytes"
	"regexp"
	"strings"
)

// Supported BMEcat versions
const (
	Version12    = "1.2"
	Version2005  = "2005"
	Version20051 = "2005.1"
	Version20052 = "2005.2"
)

// SupportedVersions lists the versions the adapter can parse
var SupportedVersions = []string{Version12, Version2005, Version20051, Version20052}

var (
	rootVersionRe = regexp.MustCompile(`<BMECAT\b[^>]*?\bversion\s*=\s*["']\s*([^"'\s]+)\s*["']`)
	namespaceRe   = regexp.MustCompile(`bmecat\.org/bmecat/([0-9]+(?:\.[0-9]+)?)`)
)

// DetectVersion scans raw bytes for the root version attribute, then for a
// BMEcat namespace. It returns "" when no version is found.
func DetectVersion(head []byte) string {
	if m := rootVersionRe.FindSubmatch(head); m != nil {
		return normalizeVersion(string(m[1]))
	}
	if m := namespaceRe.FindSubmatch(head); m != nil {
		return normalizeVersion(string(m[1]))
	}
	return ""
}

// IsSupported reports whether v is a known BMEcat version
func IsSupported(v string) bool {
	for _, s := range SupportedVersions {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "1.2.0", "01.2":
		return Version12
	case "2005.0":
		return Version2005
	}
	return v
}

// versionFromRoot resolves the version of the root element from its
// attributes and namespace
func versionFromRoot(version, namespace string) string {
	if v := normalizeVersion(version); v != "" {
		return v
	}
	if m := namespaceRe.FindStringSubmatch(namespace); m != nil {
		return normalizeVersion(m[1])
	}
	return ""
}

func is2005(v string) bool {
	return strings.HasPrefix(v, Version2005)
}

func hasMarker(head []byte) (root, namespace bool) {
	return bytes.Contains(head, []byte("<BMECAT")), bytes.Contains(head, []byte("bmecat.org"))
}
