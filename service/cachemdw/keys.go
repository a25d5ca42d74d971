package cachemdw

import (
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/sha3"
)

type CacheItemType int

const (
	CacheItemTypeNamespace CacheItemType = iota + 1
	CacheItemTypeEntry
)

func (t CacheItemType) String() string {
	switch t {
	case CacheItemTypeNamespace:
		return "namespace"
	case CacheItemTypeEntry:
		return "entry"
	default:
		return "unknown"
	}
}

func BuildCacheKey(cachePrefix string, cacheItemType CacheItemType, parts []string) string {
	fullParts := append(
		[]string{
			cachePrefix,
			cacheItemType.String(),
		},
		parts...,
	)

	return strings.Join(fullParts, ":")
}

// GetNamespaceKey returns the marker key registering namespace name
func GetNamespaceKey(cachePrefix string, name string) string {
	return BuildCacheKey(cachePrefix, CacheItemTypeNamespace, []string{name})
}

// GetEntryKeyPrefix returns the prefix shared by every entry of namespace name
func GetEntryKeyPrefix(cachePrefix string, name string) string {
	return BuildCacheKey(cachePrefix, CacheItemTypeEntry, []string{name, ""})
}

// RequestIdentity returns the identity a request is stored under.
// HEAD shares the identity of GET.
func RequestIdentity(method string, requestURI string) string {
	method = strings.ToUpper(method)
	if method == http.MethodHead {
		method = http.MethodGet
	}

	return method + " " + requestURI
}

// GetEntryKey calculates cache key for a request identity inside namespace name
func GetEntryKey(cachePrefix string, name string, identity string) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(identity))

	return GetEntryKeyPrefix(cachePrefix, name) + hex.EncodeToString(hasher.Sum(nil))
}
