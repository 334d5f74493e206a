package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

type analyzerFixture struct {
	docs        *fakeDocumentStore
	entities    *fakeEntityStore
	rels        *fakeRelationshipStore
	campaigns   *fakeCampaignStore
	extractions *fakeExtractionStore
	scores      *fakePriorityStore
	locker      *fakeLocker
	cfg         *models.MatchingConfig
	analyzer    *Analyzer
}

// staticExtractor returns a fixed mention set on every call
type staticExtractor struct {
	mentions []models.Mention
	calls    int
}

func (s *staticExtractor) Extract(title, content string) []models.Mention {
	s.calls++
	return s.mentions
}

func (s *staticExtractor) Method() models.ExtractionMethod {
	return models.ExtractionMethodPattern
}

func newAnalyzerFixture(t *testing.T, extractor *staticExtractor) *analyzerFixture {
	t.Helper()
	log := logger.NewNop()
	f := &analyzerFixture{
		docs:        newFakeDocumentStore(),
		entities:    newFakeEntityStore(),
		rels:        newFakeRelationshipStore(),
		campaigns:   newFakeCampaignStore(),
		extractions: newFakeExtractionStore(),
		scores:      newFakePriorityStore(),
		locker:      newFakeLocker(),
		cfg:         models.DefaultMatchingConfig(),
	}
	cfgProvider := &staticConfig{cfg: f.cfg}
	canonical := NewCanonicalizer(f.entities, log)
	association := NewAssociationEngine(f.docs, f.entities, f.rels, nil, cfgProvider, log)
	priority := NewPriorityScorer(f.docs, f.entities, f.rels, f.scores, cfgProvider, log)
	campaigns := NewCampaignDetector(f.docs, f.entities, f.rels, f.campaigns, cfgProvider, log)
	f.analyzer = NewAnalyzer(f.docs, f.extractions, extractor, canonical,
		association, priority, campaigns, f.locker, log)
	return f
}

func TestAnalyzeFullPipeline(t *testing.T) {
	extractor := &staticExtractor{mentions: []models.Mention{
		{Kind: models.EntityKindIndicator, RawValue: "evil-updates.net", Confidence: 0.9},
		{Kind: models.EntityKindTechnique, RawValue: "T1566.001", Confidence: 1.0},
	}}
	f := newAnalyzerFixture(t, extractor)
	ctx := context.Background()

	doc := storedDocument("target report", "body", "https://feeds.example.net/1", assocBase)
	f.docs.add(doc)

	result, err := f.analyzer.Analyze(ctx, doc.ID, false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if result.EntityCount != 2 {
		t.Errorf("EntityCount = %d, want 2", result.EntityCount)
	}
	if result.ExtractionRunID == uuid.Nil {
		t.Error("result must carry the extraction run id")
	}
	if result.Priority == nil {
		t.Error("result must carry a priority score")
	}
	if result.Degraded {
		t.Errorf("nothing was unavailable, degraded reasons: %v", result.DegradedReasons)
	}

	run, err := f.extractions.LatestForDocument(ctx, doc.ID)
	if err != nil || run == nil {
		t.Fatal("extraction run must be recorded")
	}
	if !run.Success || run.EntityCount != 2 {
		t.Errorf("run = %+v, want successful with 2 entities", run)
	}
}

func TestAnalyzeSkipsCompletedExtraction(t *testing.T) {
	extractor := &staticExtractor{mentions: []models.Mention{
		{Kind: models.EntityKindActor, RawValue: "APT28", Confidence: 1.0},
	}}
	f := newAnalyzerFixture(t, extractor)
	ctx := context.Background()

	doc := storedDocument("target report", "body", "https://feeds.example.net/2", assocBase)
	f.docs.add(doc)

	if _, err := f.analyzer.Analyze(ctx, doc.ID, false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := f.analyzer.Analyze(ctx, doc.ID, false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if extractor.calls != 1 {
		t.Errorf("extractor ran %d times, want 1 (second run skips)", extractor.calls)
	}
}

func TestAnalyzeForceReextracts(t *testing.T) {
	extractor := &staticExtractor{mentions: []models.Mention{
		{Kind: models.EntityKindActor, RawValue: "APT28", Confidence: 1.0},
	}}
	f := newAnalyzerFixture(t, extractor)
	ctx := context.Background()

	doc := storedDocument("target report", "body", "https://feeds.example.net/3", assocBase)
	f.docs.add(doc)

	if _, err := f.analyzer.Analyze(ctx, doc.ID, false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := f.analyzer.Analyze(ctx, doc.ID, true); err != nil {
		t.Fatalf("Analyze(force): %v", err)
	}

	if extractor.calls != 2 {
		t.Errorf("extractor ran %d times, want 2 with force", extractor.calls)
	}

	run, err := f.extractions.LatestForDocument(ctx, doc.ID)
	if err != nil || run == nil {
		t.Fatal("expected extraction runs")
	}
	if run.Attempt != 2 {
		t.Errorf("latest attempt = %d, want 2", run.Attempt)
	}
}

func TestAnalyzeRejectsCrossInstanceRepeat(t *testing.T) {
	extractor := &staticExtractor{}
	f := newAnalyzerFixture(t, extractor)
	ctx := context.Background()

	doc := storedDocument("target report", "body", "https://feeds.example.net/4", assocBase)
	f.docs.add(doc)

	// Another instance holds the fingerprint lock
	if _, err := f.locker.AcquireAnalysisLock(ctx, doc.Fingerprint, time.Minute); err != nil {
		t.Fatalf("AcquireAnalysisLock: %v", err)
	}

	_, err := f.analyzer.Analyze(ctx, doc.ID, false)
	if !errors.Is(err, ErrAnalysisInFlight) {
		t.Fatalf("err = %v, want ErrAnalysisInFlight", err)
	}
}

func TestAnalyzeReleasesLock(t *testing.T) {
	extractor := &staticExtractor{}
	f := newAnalyzerFixture(t, extractor)
	ctx := context.Background()

	doc := storedDocument("target report", "body", "https://feeds.example.net/5", assocBase)
	f.docs.add(doc)

	if _, err := f.analyzer.Analyze(ctx, doc.ID, false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.locker.held[doc.Fingerprint] {
		t.Error("analysis lock must be released after completion")
	}
}

func TestAnalyzeUnknownDocument(t *testing.T) {
	f := newAnalyzerFixture(t, &staticExtractor{})
	if _, err := f.analyzer.Analyze(context.Background(), uuid.New(), false); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}
