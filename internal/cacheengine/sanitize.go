package cacheengine

import "time"

// sanitizeMaxAge implements §4.1's max-age sanitization (P8):
//   - absent max-age, absent etag ⇒ stays absent (cache indefinitely).
//   - absent max-age, present etag ⇒ MinMaxAge (cheap to revalidate, so
//     don't cache indefinitely).
//   - present max-age below MinMaxAge ⇒ raised to MinMaxAge.
//   - present max-age at or above MinMaxAge ⇒ unchanged.
func sanitizeMaxAge(maxAge time.Duration, hasMaxAge bool, hasETag bool, minMaxAge time.Duration) (time.Duration, bool) {
	if !hasMaxAge {
		if hasETag {
			return minMaxAge, true
		}
		return 0, false
	}
	if maxAge < minMaxAge {
		return minMaxAge, true
	}
	return maxAge, true
}
