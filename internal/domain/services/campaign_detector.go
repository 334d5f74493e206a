package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// CampaignDetector groups mutually related documents that share a
// signature entity set inside a time window. Detection only creates
// and grows CANDIDATE campaigns; verified or dismissed campaigns are
// never touched.
type CampaignDetector struct {
	documents     DocumentStore
	entities      EntityStore
	relationships RelationshipStore
	campaigns     CampaignStore
	config        ConfigProvider
	logger        *logger.Logger
}

// NewCampaignDetector creates a campaign detector
func NewCampaignDetector(documents DocumentStore, entities EntityStore, relationships RelationshipStore, campaigns CampaignStore, config ConfigProvider, log *logger.Logger) *CampaignDetector {
	return &CampaignDetector{
		documents:     documents,
		entities:      entities,
		relationships: relationships,
		campaigns:     campaigns,
		config:        config,
		logger:        log.WithComponent("campaign-detector"),
	}
}

// Detect evaluates whether the document and its related set form a
// campaign. Returns the campaign the document ended up in, or nil when
// the thresholds are not met or detection is disabled.
func (d *CampaignDetector) Detect(ctx context.Context, documentID uuid.UUID) (*models.Campaign, error) {
	cfg, err := d.config.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Campaign.Enabled {
		return nil, nil
	}

	target, err := d.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if target == nil {
		return nil, ErrDocumentNotFound
	}

	members, err := d.collectMembers(ctx, cfg, target)
	if err != nil {
		return nil, err
	}
	if len(members) < cfg.Campaign.MinArticles {
		return nil, nil
	}

	signature, err := d.sharedSignature(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(signature) < cfg.Campaign.MinSharedEntities {
		return nil, nil
	}

	memberIDs := make([]uuid.UUID, len(members))
	windowStart, windowEnd := members[0].PublishedAt, members[0].PublishedAt
	for i, m := range members {
		memberIDs[i] = m.ID
		if m.PublishedAt.Before(windowStart) {
			windowStart = m.PublishedAt
		}
		if m.PublishedAt.After(windowEnd) {
			windowEnd = m.PublishedAt
		}
	}

	existing, err := d.findOverlapping(ctx, cfg, signature)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return d.attach(ctx, existing, memberIDs, signature, windowStart, windowEnd)
	}

	campaign := &models.Campaign{
		ID:          uuid.New(),
		Name:        campaignName(signature),
		State:       models.CampaignStateCandidate,
		Signature:   signature,
		DocumentIDs: memberIDs,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		FirstSeen:   windowStart,
		LastSeen:    windowEnd,
	}
	if err := d.campaigns.Save(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to save campaign: %w", err)
	}

	d.logger.Info().
		Str("campaign_id", campaign.ID.String()).
		Int("members", len(memberIDs)).
		Int("signature_size", len(signature)).
		Msg("campaign candidate detected")
	return campaign, nil
}

// collectMembers gathers the target plus its related documents that
// fall inside the campaign window around the target's publication
func (d *CampaignDetector) collectMembers(ctx context.Context, cfg *models.MatchingConfig, target *models.Document) ([]*models.Document, error) {
	rels, err := d.relationships.ListForSource(ctx, target.ID, cfg.MinimumScore)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.CandidateID)
	}
	related, err := d.documents.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load related documents: %w", err)
	}

	window := cfg.CampaignWindow()
	members := []*models.Document{target}
	for _, doc := range related {
		if absDuration(target.PublishedAt.Sub(doc.PublishedAt)) <= window {
			members = append(members, doc)
		}
	}
	return members, nil
}

// sharedSignature intersects the canonical entity sets of every member
func (d *CampaignDetector) sharedSignature(ctx context.Context, members []*models.Document) ([]models.EntityRef, error) {
	counts := make(map[models.EntityRef]int)
	for _, m := range members {
		entities, err := d.entities.ForDocument(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load member entities: %w", err)
		}
		for _, e := range entities {
			counts[models.EntityRef{Kind: e.Kind, Value: e.Value}]++
		}
	}

	var signature []models.EntityRef
	for ref, n := range counts {
		if n == len(members) {
			signature = append(signature, ref)
		}
	}
	sort.Slice(signature, func(i, j int) bool {
		if signature[i].Kind != signature[j].Kind {
			return signature[i].Kind < signature[j].Kind
		}
		return signature[i].Value < signature[j].Value
	})
	return signature, nil
}

// findOverlapping looks for a candidate campaign whose signature
// shares enough entities with the detected set to be the same activity
func (d *CampaignDetector) findOverlapping(ctx context.Context, cfg *models.MatchingConfig, signature []models.EntityRef) (*models.Campaign, error) {
	candidates, err := d.campaigns.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate campaigns: %w", err)
	}
	for _, c := range candidates {
		if c.SignatureOverlap(signature) >= cfg.Campaign.MinSharedEntities {
			return c, nil
		}
	}
	return nil, nil
}

// attach merges the detected set into an existing candidate campaign
func (d *CampaignDetector) attach(ctx context.Context, campaign *models.Campaign, memberIDs []uuid.UUID, signature []models.EntityRef, windowStart, windowEnd time.Time) (*models.Campaign, error) {
	if !campaign.AcceptsMembers() {
		return campaign, nil
	}

	for _, id := range memberIDs {
		if !campaign.HasDocument(id) {
			campaign.DocumentIDs = append(campaign.DocumentIDs, id)
		}
	}

	// Union the signatures so the campaign keeps every entity observed
	// across attachments
	have := make(map[models.EntityRef]bool, len(campaign.Signature))
	for _, ref := range campaign.Signature {
		have[ref] = true
	}
	for _, ref := range signature {
		if !have[ref] {
			campaign.Signature = append(campaign.Signature, ref)
		}
	}
	sort.Slice(campaign.Signature, func(i, j int) bool {
		if campaign.Signature[i].Kind != campaign.Signature[j].Kind {
			return campaign.Signature[i].Kind < campaign.Signature[j].Kind
		}
		return campaign.Signature[i].Value < campaign.Signature[j].Value
	})

	if windowStart.Before(campaign.WindowStart) {
		campaign.WindowStart = windowStart
	}
	if windowEnd.After(campaign.WindowEnd) {
		campaign.WindowEnd = windowEnd
	}
	if windowStart.Before(campaign.FirstSeen) {
		campaign.FirstSeen = windowStart
	}
	if windowEnd.After(campaign.LastSeen) {
		campaign.LastSeen = windowEnd
	}

	if err := d.campaigns.Save(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	d.logger.Info().
		Str("campaign_id", campaign.ID.String()).
		Int("members", len(campaign.DocumentIDs)).
		Msg("documents attached to existing campaign")
	return campaign, nil
}

// campaignName derives a readable name from the strongest signature
// entities, preferring actors over techniques over indicators
func campaignName(signature []models.EntityRef) string {
	byKind := make(map[models.EntityKind][]string)
	for _, ref := range signature {
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.Value)
	}

	var parts []string
	for _, kind := range []models.EntityKind{models.EntityKindActor, models.EntityKindTechnique, models.EntityKindIndicator} {
		values := byKind[kind]
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, v)
			if len(parts) == 3 {
				return strings.Join(parts, " / ")
			}
		}
	}
	if len(parts) == 0 {
		return "unnamed campaign"
	}
	return strings.Join(parts, " / ")
}
