package system

import "context"

// Service represents a lifecycle-managed component. Background adapters
// (telemetry ingest, settlement pollers) implement this interface so the
// manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for components without background work.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                  { return s.ServiceName }
func (s NoopService) Start(_ context.Context) error { return nil }
func (s NoopService) Stop(_ context.Context) error  { return nil }
