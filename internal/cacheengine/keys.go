package cacheengine

import (
	"strconv"
	"strings"
	"time"

	"github.com/dcllabs/metamorph/internal/domain/model"
)

// keys builds the KV key shapes of §3, scoped by a process-wide version
// integer so bumping it abandons the whole keyspace.
type keys struct {
	version int
}

func (k keys) objectKey(hash, formatName string) string {
	return hash + "_" + formatName + "_" + k.v()
}

func (k keys) etagKey(hash, formatName string) string {
	return "etag:" + hash + "_" + formatName + "_" + k.v()
}

func (k keys) freshnessKey(hash, formatName string) string {
	return "valid:" + hash + "_" + formatName + "_" + k.v()
}

func (k keys) inFlightKey(id model.Identity) string {
	return "converting:" + id.ConvertingKeyFragment() + "_" + k.v()
}

func (k keys) mediaClassKey(hash string) string {
	return "filetype:" + hash + "_" + k.v()
}

func (k keys) v() string {
	return strconv.Itoa(k.version)
}

// objectStoreKey builds the artifact's object-store key (§6): an
// informational timestamp prefix, the hash, the format name, and the
// extension for formatName's media kind.
func objectStoreKey(now time.Time, hash, formatName, ext string) string {
	return now.UTC().Format("20060102-150405") + "-" + hash + "-" + formatName + ext
}

// contentTypeForExtension maps a local file's extension to its object
// store content type (§4.1 Store).
func contentTypeForExtension(ext string) (contentType string, ok bool) {
	switch ext {
	case ".ktx2":
		return "image/ktx2", true
	case ".mp4":
		return "video/mp4", true
	case ".ogv":
		return "video/ogg", true
	default:
		return "", false
	}
}

// extensionFromPath returns the lowercase extension of path, including
// the leading dot, for Store's extension-based content-type lookup.
func extensionFromPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
