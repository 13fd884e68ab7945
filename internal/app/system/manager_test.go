package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name   string
	events *[]string
	fail   bool
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.fail {
		return errors.New("start failed")
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", events: &events}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register(&recordingService{name: "b", events: &events, fail: true}); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}

	want := []string{"start:a", "stop:a"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("expected rollback %v, got %v", want, events)
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "dup", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "dup", events: &events}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
	if err := m.Register(NoopService{}); err == nil {
		t.Fatalf("expected empty name rejection")
	}
}

func TestManagerRejectsRegisterAfterStart(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "only"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Register(NoopService{ServiceName: "late"}); err == nil {
		t.Fatalf("expected registration after start to fail")
	}
}
