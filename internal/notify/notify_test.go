package notify

import "testing"

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`run "cred_001" done`, `run \"cred_001\" done`},
		{`path\to\file`, `path\\to\\file`},
		{`"quote" and \backslash`, `\"quote\" and \\backslash`},
		{"", ""},
	}
	for _, tt := range tests {
		got := escapeAppleScript(tt.input)
		if got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSend_DoesNotPanic(t *testing.T) {
	// Behavior depends on the host: headless machines have no notification
	// service and the helper binaries may be missing. Only the error path
	// is exercised here.
	_ = Send(`Acquisition "done"`, `collected 120 frames`)
}
