package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlens-lab/internal/domain/models"
)

// In-memory store fakes shared by the service tests.

type fakeEntityStore struct {
	mu       sync.Mutex
	entities map[string]*models.CanonicalEntity // kind\x00value
	links    map[uuid.UUID]map[uuid.UUID]bool   // document -> entity ids
	docTimes map[uuid.UUID]time.Time
	err      error
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		entities: make(map[string]*models.CanonicalEntity),
		links:    make(map[uuid.UUID]map[uuid.UUID]bool),
		docTimes: make(map[uuid.UUID]time.Time),
	}
}

func entityKey(kind models.EntityKind, value string) string {
	return string(kind) + "\x00" + value
}

func (f *fakeEntityStore) Record(ctx context.Context, kind models.EntityKind, value string, documentID uuid.UUID, seenAt time.Time, confidence float64) (*models.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	key := entityKey(kind, value)
	ent, ok := f.entities[key]
	if !ok {
		ent = &models.CanonicalEntity{
			ID:              uuid.New(),
			Kind:            kind,
			Value:           value,
			FirstSeen:       seenAt,
			LastSeen:        seenAt,
			OccurrenceCount: 1,
		}
		f.entities[key] = ent
	} else {
		ent.OccurrenceCount++
		if seenAt.After(ent.LastSeen) {
			ent.LastSeen = seenAt
		}
	}

	if f.links[documentID] == nil {
		f.links[documentID] = make(map[uuid.UUID]bool)
	}
	f.links[documentID][ent.ID] = true
	if _, ok := f.docTimes[documentID]; !ok {
		f.docTimes[documentID] = seenAt
	}
	return ent, nil
}

func (f *fakeEntityStore) GetByValue(ctx context.Context, kind models.EntityKind, value string) (*models.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.entities[entityKey(kind, value)]
	if !ok {
		return nil, nil
	}
	return ent, nil
}

func (f *fakeEntityStore) ForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.CanonicalEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CanonicalEntity
	for _, ent := range f.entities {
		if f.links[documentID][ent.ID] {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func (f *fakeEntityStore) DocumentsSharingEntities(ctx context.Context, documentID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	own := f.links[documentID]
	var ids []uuid.UUID
	for docID, entIDs := range f.links {
		if docID == documentID {
			continue
		}
		if t, ok := f.docTimes[docID]; ok && t.Before(since) {
			continue
		}
		for entID := range entIDs {
			if own[entID] {
				ids = append(ids, docID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
	err  error
}

func newFakeDocumentStore(docs ...*models.Document) *fakeDocumentStore {
	f := &fakeDocumentStore{docs: make(map[uuid.UUID]*models.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocumentStore) add(d *models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID] = d
}

func (f *fakeDocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id], nil
}

func (f *fakeDocumentStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocumentStore) FindBySourceRef(ctx context.Context, sourceRef string) (*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Document
	for _, d := range f.docs {
		if d.SourceRef != sourceRef {
			continue
		}
		if best == nil || d.PublishedAt.After(best.PublishedAt) {
			best = d
		}
	}
	return best, nil
}

func (f *fakeDocumentStore) ListRecent(ctx context.Context, since time.Time, exclude uuid.UUID, limit int) ([]*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.ID == exclude || d.PublishedAt.Before(since) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDocumentStore) ListWindow(ctx context.Context, from, to time.Time) ([]*models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.PublishedAt.Before(from) || !d.PublishedAt.Before(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

type fakeRelationshipStore struct {
	mu         sync.Mutex
	bySource   map[uuid.UUID][]models.Relationship
	replaceErr error
}

func newFakeRelationshipStore() *fakeRelationshipStore {
	return &fakeRelationshipStore{bySource: make(map[uuid.UUID][]models.Relationship)}
}

func (f *fakeRelationshipStore) ReplaceForSource(ctx context.Context, sourceID uuid.UUID, rels []models.Relationship) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySource[sourceID] = append([]models.Relationship(nil), rels...)
	return nil
}

func (f *fakeRelationshipStore) ListForSource(ctx context.Context, sourceID uuid.UUID, minScore float64) ([]models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Relationship
	for _, rel := range f.bySource[sourceID] {
		if rel.Composite >= minScore {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (f *fakeRelationshipStore) TopComposites(ctx context.Context, sourceID uuid.UUID, limit int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scores []float64
	for _, rel := range f.bySource[sourceID] {
		scores = append(scores, rel.Composite)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

type fakeCampaignStore struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*models.Campaign
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{campaigns: make(map[uuid.UUID]*models.Campaign)}
}

func (f *fakeCampaignStore) Save(ctx context.Context, c *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeCampaignStore) Get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id], nil
}

func (f *fakeCampaignStore) Candidates(ctx context.Context) ([]*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Campaign
	for _, c := range f.campaigns {
		if c.State == models.CampaignStateCandidate {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

type fakeExtractionStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID][]*models.ExtractionRun
}

func newFakeExtractionStore() *fakeExtractionStore {
	return &fakeExtractionStore{runs: make(map[uuid.UUID][]*models.ExtractionRun)}
}

func (f *fakeExtractionStore) Create(ctx context.Context, run *models.ExtractionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.DocumentID] = append(f.runs[run.DocumentID], &cp)
	return nil
}

func (f *fakeExtractionStore) LatestForDocument(ctx context.Context, documentID uuid.UUID) (*models.ExtractionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	runs := f.runs[documentID]
	if len(runs) == 0 {
		return nil, nil
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.Attempt > latest.Attempt {
			latest = r
		}
	}
	return latest, nil
}

func (f *fakeExtractionStore) NextAttempt(ctx context.Context, documentID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, r := range f.runs[documentID] {
		if r.Attempt > max {
			max = r.Attempt
		}
	}
	return max + 1, nil
}

type fakePriorityStore struct {
	mu     sync.Mutex
	scores map[uuid.UUID]*models.PriorityScore
}

func newFakePriorityStore() *fakePriorityStore {
	return &fakePriorityStore{scores: make(map[uuid.UUID]*models.PriorityScore)}
}

func (f *fakePriorityStore) Upsert(ctx context.Context, score *models.PriorityScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *score
	f.scores[score.DocumentID] = &cp
	return nil
}

func (f *fakePriorityStore) Get(ctx context.Context, documentID uuid.UUID) (*models.PriorityScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[documentID], nil
}

type fakeConfigStore struct {
	mu  sync.Mutex
	cfg *models.MatchingConfig
}

func (f *fakeConfigStore) Get(ctx context.Context) (*models.MatchingConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg == nil {
		return models.DefaultMatchingConfig(), nil
	}
	return f.cfg, nil
}

func (f *fakeConfigStore) Save(ctx context.Context, cfg *models.MatchingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// staticConfig serves a fixed configuration without a store
type staticConfig struct {
	cfg *models.MatchingConfig
}

func (s *staticConfig) Current(ctx context.Context) (*models.MatchingConfig, error) {
	if s.cfg == nil {
		return models.DefaultMatchingConfig(), nil
	}
	return s.cfg, nil
}

// fakeEmbedder serves canned vectors keyed by exact synopsis text
type fakeEmbedder struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	fallback  []float32
	calls     int
	available bool
	err       error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors:   make(map[string][]float32),
		available: true,
	}
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Available(ctx context.Context) bool { return f.available }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else if f.fallback != nil {
			out[i] = f.fallback
		} else {
			return nil, errors.New("no vector for input")
		}
	}
	return out, nil
}

// fakeLocker is an in-memory AnalysisLocker
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) AcquireAnalysisLock(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[fingerprint] {
		return false, nil
	}
	f.held[fingerprint] = true
	return true, nil
}

func (f *fakeLocker) ReleaseAnalysisLock(ctx context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, fingerprint)
	return nil
}

// fakeProgress is an in-memory RebuildProgressStore
type fakeProgress struct {
	mu        sync.Mutex
	jobs      map[string]*models.RebuildJob
	processed map[string]map[uuid.UUID]bool
	lastTTL   time.Duration
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{
		jobs:      make(map[string]*models.RebuildJob),
		processed: make(map[string]map[uuid.UUID]bool),
	}
}

func (f *fakeProgress) SaveJob(ctx context.Context, job *models.RebuildJob, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	f.lastTTL = ttl
	return nil
}

func (f *fakeProgress) LoadJob(ctx context.Context, jobID string) (*models.RebuildJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID], nil
}

func (f *fakeProgress) MarkProcessed(ctx context.Context, jobID string, documentID uuid.UUID, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTTL = ttl
	if f.processed[jobID] == nil {
		f.processed[jobID] = make(map[uuid.UUID]bool)
	}
	f.processed[jobID][documentID] = true
	return nil
}

func (f *fakeProgress) IsProcessed(ctx context.Context, jobID string, documentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[jobID][documentID], nil
}
