// Package fees maps agents to subscription tiers and tiers to the platform
// fee charged on escrow release.
package fees

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agentpay/agentpay/internal/money"
)

// DefaultTier applies to agents the schedule does not list.
const DefaultTier = "free"

// DefaultBasisPoints is the free tier's fee when no schedule is configured.
const DefaultBasisPoints = 1500

// Schedule is the fee table read from configs/fees.yaml.
type Schedule struct {
	DefaultTier string            `yaml:"default_tier"`
	Tiers       map[string]int    `yaml:"tiers"`
	Agents      map[string]string `yaml:"agents"`

	mu sync.RWMutex
}

// Default returns a schedule with only the default tier.
func Default(basisPoints int) *Schedule {
	if basisPoints <= 0 {
		basisPoints = DefaultBasisPoints
	}
	return &Schedule{
		DefaultTier: DefaultTier,
		Tiers:       map[string]int{DefaultTier: basisPoints},
		Agents:      map[string]string{},
	}
}

// Load reads a YAML schedule from path. An empty path yields Default.
func Load(path string, defaultBasisPoints int) (*Schedule, error) {
	if strings.TrimSpace(path) == "" {
		return Default(defaultBasisPoints), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee schedule: %w", err)
	}
	return Parse(content, defaultBasisPoints)
}

// Parse decodes and validates a YAML schedule.
func Parse(content []byte, defaultBasisPoints int) (*Schedule, error) {
	s := Default(defaultBasisPoints)
	if err := yaml.Unmarshal(content, s); err != nil {
		return nil, fmt.Errorf("parse fee schedule: %w", err)
	}
	if s.DefaultTier == "" {
		s.DefaultTier = DefaultTier
	}
	if s.Tiers == nil {
		s.Tiers = map[string]int{}
	}
	if s.Agents == nil {
		s.Agents = map[string]string{}
	}
	if _, ok := s.Tiers[s.DefaultTier]; !ok {
		s.Tiers[s.DefaultTier] = Default(defaultBasisPoints).Tiers[DefaultTier]
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schedule) validate() error {
	for tier, bps := range s.Tiers {
		if bps < 0 || bps > money.MaxBasisPoints {
			return fmt.Errorf("tier %s: basis points %d out of range", tier, bps)
		}
	}
	for agent, tier := range s.Agents {
		if _, ok := s.Tiers[tier]; !ok {
			return fmt.Errorf("agent %s: unknown tier %s", agent, tier)
		}
	}
	return nil
}

// TierOf returns the agent's subscription tier.
func (s *Schedule) TierOf(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tier, ok := s.Agents[agentID]; ok {
		return tier
	}
	return s.DefaultTier
}

// FeeBasisPoints returns the platform fee for payouts to agentID.
func (s *Schedule) FeeBasisPoints(_ context.Context, agentID string) (int, error) {
	tier := s.TierOf(agentID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bps, ok := s.Tiers[tier]
	if !ok {
		return 0, fmt.Errorf("fee tier %s is not configured", tier)
	}
	return bps, nil
}

// Assign moves an agent to tier.
func (s *Schedule) Assign(agentID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Tiers[tier]; !ok {
		return fmt.Errorf("unknown tier %s", tier)
	}
	s.Agents[agentID] = tier
	return nil
}
