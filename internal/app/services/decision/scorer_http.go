package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

// FertilityScorer scores soil fertility from a feature vector.
type FertilityScorer interface {
	ScoreFertility(ctx context.Context, features FertilityFeatures) (float64, error)
}

// IndexScorer derives the allocation index in [0,1] from a feature vector.
type IndexScorer interface {
	ScoreAllocationIndex(ctx context.Context, features IndexFeatures) (float64, error)
}

// HTTPScorer calls one inference endpoint over HTTP. The same client type
// serves both models; each instance points at one endpoint.
type HTTPScorer struct {
	client   *http.Client
	endpoint *url.URL
	log      *logger.Logger
}

var _ FertilityScorer = (*HTTPScorer)(nil)
var _ IndexScorer = (*HTTPScorer)(nil)

// NewHTTPScorer constructs a scorer against the given predict endpoint.
func NewHTTPScorer(client *http.Client, endpoint string, log *logger.Logger) (*HTTPScorer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("scorer endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse scorer endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("inference-scorer")
	}
	return &HTTPScorer{client: client, endpoint: parsed, log: log}, nil
}

func (s *HTTPScorer) ScoreFertility(ctx context.Context, features FertilityFeatures) (float64, error) {
	var out struct {
		FertilityScore float64 `json:"fertility_score"`
	}
	if err := s.predict(ctx, features, &out); err != nil {
		return 0, err
	}
	return out.FertilityScore, nil
}

func (s *HTTPScorer) ScoreAllocationIndex(ctx context.Context, features IndexFeatures) (float64, error) {
	var out struct {
		AllocationIndex float64 `json:"allocation_index"`
	}
	if err := s.predict(ctx, features, &out); err != nil {
		return 0, err
	}
	return out.AllocationIndex, nil
}

func (s *HTTPScorer) predict(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build scorer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("scorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode scorer response: %w", err)
	}
	return nil
}
