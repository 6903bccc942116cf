package diaglog

import (
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// Credential fragments; a key containing any of them is redacted whatever its
// case ("obs_password", "authToken").
var sensitiveFragments = []string{"password", "secret", "token", "authentication", "challenge", "salt"}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with credential values replaced and the home
// directory in string values shortened to "~", so recording paths do not
// carry the user name. Maps and slices are copied; v is not mutated.
func Redact(v interface{}) interface{} {
	return redactValue(v, os.Getenv("HOME"))
}

func redactValue(v interface{}, home string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = redactValue(child, home)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = redactValue(elem, home)
		}
		return out
	case string:
		if home != "" && home != "/" && (val == home || strings.HasPrefix(val, home+"/")) {
			return "~" + strings.TrimPrefix(val, home)
		}
		return val
	default:
		return v
	}
}
