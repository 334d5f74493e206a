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

type rebuildFixture struct {
	docs     *fakeDocumentStore
	progress *fakeProgress
}

func newRebuilder(baseCtx context.Context, f *rebuildFixture) *Rebuilder {
	return newRebuilderTTL(baseCtx, f, 0)
}

func newRebuilderTTL(baseCtx context.Context, f *rebuildFixture, ttl time.Duration) *Rebuilder {
	log := logger.NewNop()
	cfgProvider := &staticConfig{}
	entities := newFakeEntityStore()
	rels := newFakeRelationshipStore()
	association := NewAssociationEngine(f.docs, entities, rels, nil, cfgProvider, log)
	priority := NewPriorityScorer(f.docs, entities, rels, newFakePriorityStore(), cfgProvider, log)
	return NewRebuilder(baseCtx, f.docs, association, priority, f.progress, cfgProvider, ttl, log)
}

func windowDocuments(n int, base time.Time) []*models.Document {
	docs := make([]*models.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, storedDocument(
			"report", "body", "https://feeds.example.net/rebuild/"+uuid.NewString(),
			base.AddDate(0, 0, -i)))
	}
	return docs
}

func runningJob(total int) *models.RebuildJob {
	now := time.Now().UTC()
	return &models.RebuildJob{
		ID:         uuid.NewString(),
		State:      models.RebuildJobRunning,
		WindowDays: 30,
		Total:      total,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

func TestRebuildProcessesWholeWindow(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(4, time.Now().UTC())
	for _, d := range docs {
		f.docs.add(d)
	}
	r := newRebuilder(context.Background(), f)

	job := runningJob(len(docs))
	r.run(job, docs)

	saved, err := r.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if saved.State != models.RebuildJobCompleted {
		t.Errorf("state = %s, want completed", saved.State)
	}
	if saved.Processed != 4 || saved.Failed != 0 {
		t.Errorf("processed/failed = %d/%d, want 4/0", saved.Processed, saved.Failed)
	}
	for _, d := range docs {
		if done, _ := f.progress.IsProcessed(context.Background(), job.ID, d.ID); !done {
			t.Errorf("document %s not checkpointed", d.ID)
		}
	}
}

func TestRebuildSkipsCheckpointedDocuments(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(3, time.Now().UTC())
	for _, d := range docs {
		f.docs.add(d)
	}
	r := newRebuilder(context.Background(), f)

	job := runningJob(len(docs))
	// First document was handled before the interruption
	if err := f.progress.MarkProcessed(context.Background(), job.ID, docs[0].ID, time.Hour); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	r.run(job, docs)

	saved, err := r.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if saved.State != models.RebuildJobCompleted {
		t.Errorf("state = %s, want completed", saved.State)
	}
	if saved.Processed != 2 {
		t.Errorf("processed = %d, want 2 (one skipped)", saved.Processed)
	}
}

func TestRebuildCancellationRecordsState(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(5, time.Now().UTC())
	for _, d := range docs {
		f.docs.add(d)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := newRebuilder(ctx, f)
	cancel()

	job := runningJob(len(docs))
	r.run(job, docs)

	saved, err := r.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if saved.State != models.RebuildJobCancelled {
		t.Errorf("state = %s, want cancelled", saved.State)
	}
	if saved.Processed != 0 {
		t.Errorf("processed = %d, want 0 after immediate cancel", saved.Processed)
	}
}

func TestRebuildCountsFailuresAndContinues(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(3, time.Now().UTC())
	// Only two of the three window documents exist in the store, so the
	// third fails association but must not stop the walk
	f.docs.add(docs[0])
	f.docs.add(docs[2])
	r := newRebuilder(context.Background(), f)

	job := runningJob(len(docs))
	r.run(job, docs)

	saved, err := r.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if saved.State != models.RebuildJobCompleted {
		t.Errorf("state = %s, want completed", saved.State)
	}
	if saved.Processed != 3 || saved.Failed != 1 {
		t.Errorf("processed/failed = %d/%d, want 3/1", saved.Processed, saved.Failed)
	}
}

func TestRebuildHonorsConfiguredCheckpointTTL(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(1, time.Now().UTC())
	f.docs.add(docs[0])
	r := newRebuilderTTL(context.Background(), f, 48*time.Hour)

	job := runningJob(len(docs))
	r.run(job, docs)

	if f.progress.lastTTL != 48*time.Hour {
		t.Errorf("checkpoint ttl = %v, want 48h from configuration", f.progress.lastTTL)
	}
}

func TestRebuildDefaultTTLWhenUnset(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	docs := windowDocuments(1, time.Now().UTC())
	f.docs.add(docs[0])
	r := newRebuilder(context.Background(), f)

	job := runningJob(len(docs))
	r.run(job, docs)

	if f.progress.lastTTL != defaultJobTTL {
		t.Errorf("checkpoint ttl = %v, want the %v default", f.progress.lastTTL, defaultJobTTL)
	}
}

func TestRebuildStatusUnknownJob(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	r := newRebuilder(context.Background(), f)
	if _, err := r.Status(context.Background(), uuid.NewString()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRebuildResumeCompletedJobIsNoop(t *testing.T) {
	f := &rebuildFixture{docs: newFakeDocumentStore(), progress: newFakeProgress()}
	r := newRebuilder(context.Background(), f)

	job := runningJob(0)
	job.State = models.RebuildJobCompleted
	if err := f.progress.SaveJob(context.Background(), job, time.Hour); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	resumed, err := r.Resume(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.State != models.RebuildJobCompleted {
		t.Errorf("state = %s, want completed unchanged", resumed.State)
	}
}
