package artifact

import "testing"

func TestFingerprintGit_NonRepository(t *testing.T) {
	fp := FingerprintGit(t.TempDir())

	if fp.Head != "" || fp.Branch != "" {
		t.Errorf("Expected empty fingerprint outside a repository: %+v", fp)
	}
	if fp.Dirty != nil {
		t.Error("Dirty must be nil outside a repository")
	}
}
