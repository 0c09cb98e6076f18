package version

import "testing"

func TestString(t *testing.T) {
	if String() == "" {
		t.Error("String() should not be empty")
	}
	// Without ldflags the commit stays unknown and is omitted from the line.
	if GitCommit == "unknown" && String() != Version {
		t.Errorf("String() = %q, want bare version %q", String(), Version)
	}
}
