// Package validation checks that a connected OBS Studio can serve as a
// recorder backend.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SetRecordDirectory, used before every start, arrived in obs-websocket 5.3
// which ships with OBS 30.
const (
	MinOBSMajor = 30
	MinWSMajor  = 5
	MinWSMinor  = 3
)

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Result contains the result of an OBS compatibility check
type Result struct {
	OK      bool
	Message string
	Issues  []string
	Fixes   []string
}

// CheckOBSHealth validates both versions reported by GetVersion.
func CheckOBSHealth(obsVersion, wsVersion string) *Result {
	result := &Result{OK: true}
	var messages []string

	for _, check := range []*Result{validateOBSVersion(obsVersion), validateWebSocketVersion(wsVersion)} {
		if !check.OK {
			result.OK = false
			result.Issues = append(result.Issues, check.Issues...)
			result.Fixes = append(result.Fixes, check.Fixes...)
		}
		messages = append(messages, check.Message)
	}

	result.Message = strings.Join(messages, " | ")
	if result.OK {
		result.Message = "OBS health check passed: " + result.Message
	} else {
		result.Message = "OBS health check FAILED: " + result.Message
	}
	return result
}

func validateOBSVersion(v string) *Result {
	major, minor, ok := parseVersion(v)
	if !ok {
		return &Result{
			Message: fmt.Sprintf("Could not parse OBS version: %s", v),
			Issues:  []string{"Invalid version format"},
			Fixes:   []string{"Update OBS to latest version from https://obsproject.com"},
		}
	}
	if major < MinOBSMajor {
		return &Result{
			Message: fmt.Sprintf("OBS %d.%d requires update to %d.0+", major, minor, MinOBSMajor),
			Issues:  []string{fmt.Sprintf("OBS version %d.%d is too old (requires %d.0+)", major, minor, MinOBSMajor)},
			Fixes:   []string{fmt.Sprintf("Update OBS to version %d.0 or later from https://obsproject.com", MinOBSMajor)},
		}
	}
	return &Result{OK: true, Message: fmt.Sprintf("OBS %d.%d is compatible", major, minor)}
}

func validateWebSocketVersion(v string) *Result {
	major, minor, ok := parseVersion(v)
	if ok && (major > MinWSMajor || major == MinWSMajor && minor >= MinWSMinor) {
		return &Result{OK: true, Message: fmt.Sprintf("WebSocket v%s is compatible", v)}
	}
	return &Result{
		Message: fmt.Sprintf("WebSocket v%s is incompatible", v),
		Issues:  []string{fmt.Sprintf("WebSocket v%s detected (requires %d.%d+)", v, MinWSMajor, MinWSMinor)},
		Fixes:   []string{fmt.Sprintf("Update obs-websocket to v%d.%d or later", MinWSMajor, MinWSMinor)},
	}
}

func parseVersion(v string) (major, minor int, ok bool) {
	m := versionRe.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}
