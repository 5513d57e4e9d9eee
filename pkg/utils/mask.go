package utils

import "regexp"

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password component of a connection string.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskKey keeps the first and last four characters of an API key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
