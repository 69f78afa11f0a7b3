package connectors

import "testing"

func TestNewPMWithNoNameReturnsNilWithoutError(t *testing.T) {
	pm, err := NewPM("", nil)
	if err != nil {
		t.Fatalf("expected no error for unconfigured PM provider, got %v", err)
	}
	if pm != nil {
		t.Fatalf("expected nil PM connector when no provider configured")
	}
}

func TestNewVCSUnknownProviderErrors(t *testing.T) {
	if _, err := NewVCS("not-a-real-provider", nil); err == nil {
		t.Fatalf("expected error for unregistered VCS provider")
	}
}

func TestRegisterAndLookupVCS(t *testing.T) {
	RegisterVCS("test-vcs", func(cfg map[string]string) (VCS, error) {
		return nil, nil
	})
	if _, err := NewVCS("test-vcs", nil); err != nil {
		t.Fatalf("expected registered provider to be found: %v", err)
	}
}
