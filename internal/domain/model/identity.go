package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of url, the primary key
// fragment for a conversion identity (§3).
func Hash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Identity names a single conversion: the source hash plus both target
// enums. Two requests for the same URL with different targets are
// distinct conversions (§3), but a single Identity resolves to exactly
// one format name once the media class is known.
type Identity struct {
	Hash        string
	ImageTarget ImageTarget
	VideoTarget VideoTarget
}

// FormatName resolves the textual format name used in cache-record keys
// and object-store key shapes, given the media class detected for this
// hash. Returns ("", false) if class is Other or invalid.
func (id Identity) FormatName(class MediaClass) (string, bool) {
	usesImage, ok := ParseFileTypeTag(class.FileTypeTag())
	if !ok {
		return "", false
	}
	if usesImage {
		return id.ImageTarget.String(), true
	}
	return id.VideoTarget.String(), true
}

// ConvertingKeyFragment builds the in-flight marker key suffix shared by a
// conversion identity, independent of the KV version prefix/suffix the
// caller applies.
func (id Identity) ConvertingKeyFragment() string {
	return id.Hash + "-" + id.ImageTarget.String() + "-" + id.VideoTarget.String()
}
