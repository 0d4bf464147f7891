package logger

import "strings"

// Keys whose values must never appear in logs in full.
var secretKeys = []string{"secret", "token", "password", "api_key", "apikey", "client_id"}

// Redact masks credential-bearing field values for safe logging.
// "abcd1234efgh" becomes "ab***", enough to tell accounts apart.
func Redact(key, val string) string {
	lk := strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(lk, s) {
			return mask(val)
		}
	}
	return val
}

func mask(v string) string {
	if len(v) <= 2 {
		return "***"
	}
	return v[:2] + "***"
}
