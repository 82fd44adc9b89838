package meta

import "testing"

func TestVersion(t *testing.T) {
	if Version.Prerelease() != "" {
		t.Errorf("released version must not have a pre-release part, but got '%s'", Version)
	}
	if len(Version.Segments()) != 3 {
		t.Errorf("Version must consist of major, minor and patch, but got '%s'", Version)
	}
}
