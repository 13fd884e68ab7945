package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/config"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/notify"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/approval"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/decision"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/services/registry"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage/memory"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/system"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Allocations storage.AllocationStore
	TopUps      storage.TopUpStore
	Farmers     storage.FarmerStore
}

// Deps carries the external integrations the services depend on. Gateway is
// required; a nil Publisher falls back to the in-memory publisher so the
// approval path never blocks on a missing broker.
type Deps struct {
	Gateway   ledger.Gateway
	Publisher notify.Publisher
	Inference config.InferenceConfig
	Approver  string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Farmers   *registry.Service
	Decisions *decision.Service
	Approvals *approval.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, deps Deps, jwtSecret []byte, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NewMemory()
	}

	mem := memory.New()
	if stores.Allocations == nil {
		stores.Allocations = mem
	}
	if stores.TopUps == nil {
		stores.TopUps = mem
	}
	if stores.Farmers == nil {
		stores.Farmers = mem
	}

	httpClient := &http.Client{Timeout: deps.Inference.Timeout}
	if deps.Inference.Timeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}
	fertility, err := decision.NewHTTPScorer(httpClient, deps.Inference.FertilityURL, log)
	if err != nil {
		return nil, fmt.Errorf("configure fertility scorer: %w", err)
	}
	index, err := decision.NewHTTPScorer(httpClient, deps.Inference.IndexURL, log)
	if err != nil {
		return nil, fmt.Errorf("configure index scorer: %w", err)
	}

	farmerService := registry.New(stores.Farmers, jwtSecret, log)
	decisionService := decision.New(stores.Farmers, stores.Allocations, fertility, index, deps.Publisher, log)
	approvalService := approval.New(stores.Allocations, stores.TopUps, deps.Gateway, deps.Publisher, deps.Approver, log)

	manager := system.NewManager()
	for _, name := range []string{"registry", "decision", "approval"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Farmers:   farmerService,
		Decisions: decisionService,
		Approvals: approvalService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
