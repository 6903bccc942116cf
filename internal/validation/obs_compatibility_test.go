package validation

import (
	"strings"
	"testing"
)

func TestCheckOBSHealth(t *testing.T) {
	tests := []struct {
		name   string
		obs    string
		ws     string
		wantOK bool
	}{
		{"current", "30.2.0", "5.5.2", true},
		{"beta", "31.0.0-beta1", "5.3.0", true},
		{"old obs", "29.1.3", "5.3.0", false},
		{"old websocket", "30.0.0", "5.2.1", false},
		{"websocket v4", "30.0.0", "4.9.1", false},
		{"garbage", "unknown", "5.5.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckOBSHealth(tt.obs, tt.ws)
			if got.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v (%s)", got.OK, tt.wantOK, got.Message)
			}
			if !tt.wantOK && (len(got.Issues) == 0 || len(got.Fixes) == 0) {
				t.Errorf("failed check should carry issues and fixes: %+v", got)
			}
			if tt.wantOK && !strings.HasPrefix(got.Message, "OBS health check passed") {
				t.Errorf("Message = %q", got.Message)
			}
		})
	}
}

func TestCheckOBSHealth_CollectsBothIssues(t *testing.T) {
	got := CheckOBSHealth("27.0.0", "4.9.0")
	if len(got.Issues) != 2 {
		t.Errorf("Issues = %v, want two", got.Issues)
	}
	if !strings.Contains(got.Message, "FAILED") {
		t.Errorf("Message = %q", got.Message)
	}
}
