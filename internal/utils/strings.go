package utils

// MaskKey masks an authorization value for safe logging (shows first 8 and
// last 4 chars). Use this to avoid logging credentials in plain text.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// TruncateRunes shortens s to at most n runes. Titles derived from message
// content are cut this way so multi-byte characters stay intact.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
