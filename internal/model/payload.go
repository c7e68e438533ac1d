package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PayloadKind tags the variant held by a ProposalPayload.
type PayloadKind string

const (
	PayloadProposal PayloadKind = "proposal"
	PayloadCounter  PayloadKind = "counter"
)

// Proposal is the requester's opening offer.
type Proposal struct {
	Service      string          `json:"service"`
	Budget       decimal.Decimal `json:"budget"`
	Requirements map[string]any  `json:"requirements,omitempty"`
}

// Validate checks the proposal's own fields. Currency precision is checked by
// the caller, which knows the wallet.
func (p Proposal) Validate() error {
	if strings.TrimSpace(p.Service) == "" {
		return fmt.Errorf("service is required")
	}
	if !p.Budget.IsPositive() {
		return fmt.Errorf("budget must be positive")
	}
	return nil
}

// Counter is a re-offer at a different price.
type Counter struct {
	Price decimal.Decimal `json:"price"`
	Terms string          `json:"terms,omitempty"`
}

// Validate checks the counter's own fields.
func (c Counter) Validate() error {
	if !c.Price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}
	return nil
}

// ProposalPayload holds exactly one of Proposal or Counter. On the wire it is
// a flat JSON object with a "kind" discriminator.
type ProposalPayload struct {
	Proposal *Proposal
	Counter  *Counter
}

// Kind returns the tag of the populated variant.
func (p ProposalPayload) Kind() PayloadKind {
	if p.Counter != nil {
		return PayloadCounter
	}
	return PayloadProposal
}

type proposalWire struct {
	Kind PayloadKind `json:"kind"`
	Proposal
}

type counterWire struct {
	Kind PayloadKind `json:"kind"`
	Counter
}

// MarshalJSON implements json.Marshaler.
func (p ProposalPayload) MarshalJSON() ([]byte, error) {
	switch {
	case p.Proposal != nil && p.Counter != nil:
		return nil, fmt.Errorf("payload holds both proposal and counter")
	case p.Proposal != nil:
		return json.Marshal(proposalWire{Kind: PayloadProposal, Proposal: *p.Proposal})
	case p.Counter != nil:
		return json.Marshal(counterWire{Kind: PayloadCounter, Counter: *p.Counter})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler and validates the variant.
func (p *ProposalPayload) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind PayloadKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Kind {
	case PayloadProposal:
		var w proposalWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		if err := w.Proposal.Validate(); err != nil {
			return err
		}
		*p = ProposalPayload{Proposal: &w.Proposal}
	case PayloadCounter:
		var w counterWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		if err := w.Counter.Validate(); err != nil {
			return err
		}
		*p = ProposalPayload{Counter: &w.Counter}
	default:
		return fmt.Errorf("unknown payload kind %q", head.Kind)
	}
	return nil
}
