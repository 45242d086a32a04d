package store

import "testing"

func TestSaveAndLoadSessionState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	state := SessionState{Day: "2026-07-31", RealizedPnLToday: -42.5}
	if err := s.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != state {
		t.Errorf("Load() = %+v, want %+v", loaded, state)
	}
}

func TestLoadMissingReturnsZeroValue(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != (SessionState{}) {
		t.Errorf("Load() = %+v, want zero value", loaded)
	}
}

func TestSaveOverwritesPreviousState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save(SessionState{Day: "2026-07-30", RealizedPnLToday: -10}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(SessionState{Day: "2026-07-31", RealizedPnLToday: 5}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := SessionState{Day: "2026-07-31", RealizedPnLToday: 5}
	if loaded != want {
		t.Errorf("Load() = %+v, want %+v", loaded, want)
	}
}
