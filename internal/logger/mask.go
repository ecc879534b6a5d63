package logger

import "strings"

// MaskAuthorization masks bearer tokens for request logging, preserving the
// scheme and the last four characters.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return "Bearer " + maskLast4(parts[1])
	}
	return maskLast4(value)
}

func maskLast4(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
