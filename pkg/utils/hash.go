package utils

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	return HashBytes([]byte(input))
}

func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return hex.EncodeToString(hash[:])
}

// CacheKey joins parts with ':' and hashes the last one, e.g. CacheKey("predict", version, raw).
func CacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	last := len(parts) - 1
	segments := append([]string{prefix}, parts[:last]...)
	segments = append(segments, HashString(parts[last]))
	return strings.Join(segments, ":")
}
