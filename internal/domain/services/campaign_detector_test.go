package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

type campaignFixture struct {
	docs      *fakeDocumentStore
	entities  *fakeEntityStore
	rels      *fakeRelationshipStore
	campaigns *fakeCampaignStore
	cfg       *models.MatchingConfig
	detector  *CampaignDetector
}

func newCampaignFixture(t *testing.T) *campaignFixture {
	t.Helper()
	f := &campaignFixture{
		docs:      newFakeDocumentStore(),
		entities:  newFakeEntityStore(),
		rels:      newFakeRelationshipStore(),
		campaigns: newFakeCampaignStore(),
		cfg:       models.DefaultMatchingConfig(),
	}
	f.detector = NewCampaignDetector(f.docs, f.entities, f.rels, f.campaigns,
		&staticConfig{cfg: f.cfg}, logger.NewNop())
	return f
}

func (f *campaignFixture) addDocument(t *testing.T, title string, published time.Time, refs ...models.EntityRef) *models.Document {
	t.Helper()
	doc := storedDocument(title, title+" body", "https://feeds.example.net/"+uuid.NewString(), published)
	f.docs.add(doc)
	for _, ref := range refs {
		if _, err := f.entities.Record(context.Background(), ref.Kind, ref.Value, doc.ID, published, 0.9); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	return doc
}

func (f *campaignFixture) relate(t *testing.T, source *models.Document, candidates ...*models.Document) {
	t.Helper()
	var rels []models.Relationship
	for _, c := range candidates {
		rels = append(rels, models.Relationship{
			SourceID:    source.ID,
			CandidateID: c.ID,
			Composite:   0.8,
			ComputedAt:  c.PublishedAt,
		})
	}
	if err := f.rels.ReplaceForSource(context.Background(), source.ID, rels); err != nil {
		t.Fatalf("ReplaceForSource: %v", err)
	}
}

func TestDetectCreatesCandidateAtThresholds(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	a := f.addDocument(t, "first wave", assocBase.AddDate(0, 0, -20), shared...)
	b := f.addDocument(t, "second wave", assocBase.AddDate(0, 0, -10), shared...)
	target := f.addDocument(t, "third wave", assocBase, shared...)
	f.relate(t, target, a, b)

	campaign, err := f.detector.Detect(ctx, target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign == nil {
		t.Fatal("three documents sharing two entities must form a campaign")
	}
	if campaign.State != models.CampaignStateCandidate {
		t.Errorf("State = %v, want candidate", campaign.State)
	}
	if len(campaign.DocumentIDs) != 3 {
		t.Errorf("members = %d, want 3", len(campaign.DocumentIDs))
	}
	if len(campaign.Signature) < 2 {
		t.Errorf("signature size = %d, want >= 2", len(campaign.Signature))
	}
	if !campaign.WindowStart.Equal(a.PublishedAt) || !campaign.WindowEnd.Equal(target.PublishedAt) {
		t.Errorf("window [%v, %v] should span member publications", campaign.WindowStart, campaign.WindowEnd)
	}
}

func TestDetectBelowMinArticles(t *testing.T) {
	f := newCampaignFixture(t)
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	a := f.addDocument(t, "first", assocBase.AddDate(0, 0, -5), shared...)
	target := f.addDocument(t, "second", assocBase, shared...)
	f.relate(t, target, a)

	campaign, err := f.detector.Detect(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign != nil {
		t.Error("two documents must not form a campaign at min_articles=3")
	}
}

func TestDetectBelowMinSharedEntities(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	// All three share exactly one entity
	a := f.addDocument(t, "first", assocBase.AddDate(0, 0, -20),
		indicator("shared-c2.example.net"), indicator("only-a.net"))
	b := f.addDocument(t, "second", assocBase.AddDate(0, 0, -10),
		indicator("shared-c2.example.net"), indicator("only-b.net"))
	target := f.addDocument(t, "third", assocBase,
		indicator("shared-c2.example.net"), indicator("only-c.net"))
	f.relate(t, target, a, b)

	campaign, err := f.detector.Detect(ctx, target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign != nil {
		t.Error("one shared entity must not meet min_shared_entities=2")
	}
}

func TestDetectWindowExcludesDistantMembers(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	old := f.addDocument(t, "ancient", assocBase.AddDate(0, 0, -120), shared...)
	recent := f.addDocument(t, "recent", assocBase.AddDate(0, 0, -10), shared...)
	target := f.addDocument(t, "now", assocBase, shared...)
	f.relate(t, target, old, recent)

	campaign, err := f.detector.Detect(ctx, target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign != nil {
		t.Error("members outside the 90-day window must not count toward min_articles")
	}
}

func TestDetectDisabled(t *testing.T) {
	f := newCampaignFixture(t)
	f.cfg.Campaign.Enabled = false
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	a := f.addDocument(t, "first", assocBase.AddDate(0, 0, -20), shared...)
	b := f.addDocument(t, "second", assocBase.AddDate(0, 0, -10), shared...)
	target := f.addDocument(t, "third", assocBase, shared...)
	f.relate(t, target, a, b)

	campaign, err := f.detector.Detect(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign != nil {
		t.Error("detection must be inert when campaign.enabled=false")
	}
}

func TestDetectAttachesToOverlappingCandidate(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	existing := &models.Campaign{
		ID:          uuid.New(),
		Name:        "apt28 / shared-c2.example.net",
		State:       models.CampaignStateCandidate,
		Signature:   shared,
		DocumentIDs: []uuid.UUID{uuid.New()},
		WindowStart: assocBase.AddDate(0, 0, -30),
		WindowEnd:   assocBase.AddDate(0, 0, -25),
		FirstSeen:   assocBase.AddDate(0, 0, -30),
		LastSeen:    assocBase.AddDate(0, 0, -25),
	}
	if err := f.campaigns.Save(ctx, existing); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := f.addDocument(t, "first", assocBase.AddDate(0, 0, -20), shared...)
	b := f.addDocument(t, "second", assocBase.AddDate(0, 0, -10), shared...)
	target := f.addDocument(t, "third", assocBase, shared...)
	f.relate(t, target, a, b)

	campaign, err := f.detector.Detect(ctx, target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign == nil || campaign.ID != existing.ID {
		t.Fatal("overlapping signature must attach to the existing candidate")
	}
	if len(campaign.DocumentIDs) != 4 {
		t.Errorf("members = %d, want original plus three new", len(campaign.DocumentIDs))
	}
	if !campaign.WindowEnd.Equal(target.PublishedAt) {
		t.Error("attachment must extend the campaign window")
	}
}

func TestDetectNeverGrowsVerifiedCampaigns(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()
	shared := []models.EntityRef{indicator("shared-c2.example.net"), actor("apt28")}

	verified := &models.Campaign{
		ID:          uuid.New(),
		State:       models.CampaignStateVerified,
		Signature:   shared,
		DocumentIDs: []uuid.UUID{uuid.New()},
		WindowStart: assocBase.AddDate(0, 0, -30),
		WindowEnd:   assocBase.AddDate(0, 0, -25),
		LastSeen:    assocBase.AddDate(0, 0, -25),
	}
	if err := f.campaigns.Save(ctx, verified); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := f.addDocument(t, "first", assocBase.AddDate(0, 0, -20), shared...)
	b := f.addDocument(t, "second", assocBase.AddDate(0, 0, -10), shared...)
	target := f.addDocument(t, "third", assocBase, shared...)
	f.relate(t, target, a, b)

	campaign, err := f.detector.Detect(ctx, target.ID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if campaign == nil {
		t.Fatal("expected a new candidate campaign")
	}
	if campaign.ID == verified.ID {
		t.Error("verified campaigns must never gain members from detection")
	}

	stored, err := f.campaigns.Get(ctx, verified.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.DocumentIDs) != 1 {
		t.Error("verified campaign membership must stay untouched")
	}
}

func TestCampaignTransitions(t *testing.T) {
	c := &models.Campaign{State: models.CampaignStateCandidate}

	if err := c.Transition(models.CampaignStateVerified); err != nil {
		t.Fatalf("candidate -> verified: %v", err)
	}
	if err := c.Transition(models.CampaignStateVerified); err != nil {
		t.Errorf("repeat verify must be a no-op, got %v", err)
	}
	if err := c.Transition(models.CampaignStateDismissed); err == nil {
		t.Error("verified -> dismissed must be rejected")
	}
}
