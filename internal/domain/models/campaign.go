package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CampaignState is the lifecycle state of a detected campaign.
// Detection only ever creates CANDIDATE campaigns; VERIFIED and
// DISMISSED are reached through explicit analyst action.
type CampaignState string

const (
	CampaignStateCandidate CampaignState = "candidate"
	CampaignStateVerified  CampaignState = "verified"
	CampaignStateDismissed CampaignState = "dismissed"
)

// ParseCampaignState parses a string into a CampaignState
func ParseCampaignState(s string) (CampaignState, bool) {
	switch CampaignState(s) {
	case CampaignStateCandidate, CampaignStateVerified, CampaignStateDismissed:
		return CampaignState(s), true
	}
	return "", false
}

// ErrInvalidTransition is returned for a lifecycle transition the
// state machine does not allow
var ErrInvalidTransition = errors.New("invalid campaign state transition")

// Campaign groups mutually related documents that share a signature
// entity set within a time window
type Campaign struct {
	ID    uuid.UUID     `json:"id"`
	Name  string        `json:"name"`
	State CampaignState `json:"state"`

	// Signature is the entity set shared by every member document
	Signature   []EntityRef `json:"signature"`
	DocumentIDs []uuid.UUID `json:"document_ids"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDocument reports whether a document is already a member
func (c *Campaign) HasDocument(id uuid.UUID) bool {
	for _, d := range c.DocumentIDs {
		if d == id {
			return true
		}
	}
	return false
}

// SignatureOverlap counts signature entities shared with the given set
func (c *Campaign) SignatureOverlap(entities []EntityRef) int {
	in := make(map[EntityRef]bool, len(entities))
	for _, e := range entities {
		in[e] = true
	}
	shared := 0
	for _, s := range c.Signature {
		if in[s] {
			shared++
		}
	}
	return shared
}

// Transition applies an external lifecycle transition. Transitions are
// idempotent: re-applying the current state is a no-op. Moving between
// VERIFIED and DISMISSED, or back to CANDIDATE, is rejected.
func (c *Campaign) Transition(target CampaignState) error {
	if c.State == target {
		return nil
	}
	if c.State != CampaignStateCandidate {
		return ErrInvalidTransition
	}
	switch target {
	case CampaignStateVerified, CampaignStateDismissed:
		c.State = target
		return nil
	}
	return ErrInvalidTransition
}

// AcceptsMembers reports whether detection may still grow membership
func (c *Campaign) AcceptsMembers() bool {
	return c.State == CampaignStateCandidate
}
