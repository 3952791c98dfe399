package version

import "testing"

func setBuild(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = version, commit, buildTime
}

func TestString(t *testing.T) {
	setBuild(t, "1.2.3", "abc1234", "2024-04-18T10:00:00Z")

	want := "1.2.3 (abc1234) built 2024-04-18T10:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestGet(t *testing.T) {
	setBuild(t, "0.4.0", "def5678", "2024-04-19T00:00:00Z")

	want := Info{Version: "0.4.0", Commit: "def5678", BuildTime: "2024-04-19T00:00:00Z"}
	if got := Get(); got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these, but never with empty strings.
	if Version == "" || Commit == "" || BuildTime == "" {
		t.Errorf("build info = %+v, want non-empty fields", Get())
	}
}
