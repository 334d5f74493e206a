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

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.EntityKind
		raw     string
		want    string
		wantErr bool
	}{
		{"domain lowercased", models.EntityKindIndicator, "Evil-C2.Example-Domain.NET", "evil-c2.example-domain.net", false},
		{"domain strips www", models.EntityKindIndicator, "www.bad-site.io", "bad-site.io", false},
		{"domain strips path", models.EntityKindIndicator, "bad-site.io/gate.php", "bad-site.io", false},
		{"ip canonical", models.EntityKindIndicator, "45.033.12.8", "", true},
		{"ip valid", models.EntityKindIndicator, "45.33.12.8", "45.33.12.8", false},
		{"hash lowercased", models.EntityKindIndicator, "D41D8CD98F00B204E9800998ECF8427E", "d41d8cd98f00b204e9800998ecf8427e", false},
		{"url host lowercased", models.EntityKindIndicator, "http://EVIL.example-c2.IO/Gate.PHP", "http://evil.example-c2.io/Gate.PHP", false},
		{"email lowercased", models.EntityKindIndicator, "Ops@Evil.NET", "ops@evil.net", false},
		{"cve uppercased", models.EntityKindIndicator, "cve-2024-21412", "CVE-2024-21412", false},
		{"technique uppercased", models.EntityKindTechnique, "t1566.001", "T1566.001", false},
		{"technique plain", models.EntityKindTechnique, "T1059", "T1059", false},
		{"technique malformed", models.EntityKindTechnique, "T15", "", true},
		{"technique bad subtechnique", models.EntityKindTechnique, "T1059.1", "", true},
		{"actor folded", models.EntityKindActor, "  Fancy   BEAR ", "fancy bear", false},
		{"empty rejected", models.EntityKindActor, "   ", "", true},
		{"bad domain rejected", models.EntityKindIndicator, "not_a_domain", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeValue(tt.kind, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEntity) {
					t.Fatalf("NormalizeValue(%q) error = %v, want ErrInvalidEntity", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeValue(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeValue(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLookupNormalizesRawValue(t *testing.T) {
	store := newFakeEntityStore()
	c := NewCanonicalizer(store, logger.NewNop())
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	recorded, err := c.Canonicalize(ctx, models.EntityKindActor, "apt28", uuid.New(), t0, 0.9)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	// The raw form a caller uses resolves to the canonical record
	found, err := c.Lookup(ctx, models.EntityKindActor, "  APT28 ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found == nil || found.ID != recorded.ID {
		t.Errorf("Lookup(APT28) = %+v, want the recorded apt28 entity", found)
	}

	missing, err := c.Lookup(ctx, models.EntityKindActor, "lazarus")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if missing != nil {
		t.Errorf("Lookup of an unrecorded value = %+v, want nil", missing)
	}

	if _, err := c.Lookup(ctx, models.EntityKindTechnique, "T15"); !errors.Is(err, ErrInvalidEntity) {
		t.Fatalf("Lookup(T15) error = %v, want ErrInvalidEntity", err)
	}
}

func TestCanonicalizeFoldsRepeatMentions(t *testing.T) {
	store := newFakeEntityStore()
	c := NewCanonicalizer(store, logger.NewNop())
	ctx := context.Background()

	docA, docB := uuid.New(), uuid.New()
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	first, err := c.Canonicalize(ctx, models.EntityKindIndicator, "Evil-Updates.NET", docA, t0, 0.9)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	second, err := c.Canonicalize(ctx, models.EntityKindIndicator, "evil-updates.net", docB, t0.Add(24*time.Hour), 0.8)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	if first.ID != second.ID {
		t.Error("differently cased mentions produced distinct canonical records")
	}
	if second.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", second.OccurrenceCount)
	}
	if !second.LastSeen.Equal(t0.Add(24 * time.Hour)) {
		t.Errorf("LastSeen = %v, want extended to second mention", second.LastSeen)
	}
	if len(store.entities) != 1 {
		t.Errorf("store holds %d entities, want 1", len(store.entities))
	}
}

func TestCanonicalizeMentionsSkipsMalformed(t *testing.T) {
	store := newFakeEntityStore()
	c := NewCanonicalizer(store, logger.NewNop())

	mentions := []models.Mention{
		{Kind: models.EntityKindIndicator, RawValue: "evil-updates.net", Confidence: 0.9},
		{Kind: models.EntityKindTechnique, RawValue: "completely wrong", Confidence: 1.0},
		{Kind: models.EntityKindActor, RawValue: "APT28", Confidence: 1.0},
	}

	entities, skipped, err := c.CanonicalizeMentions(context.Background(), uuid.New(), time.Now(), mentions)
	if err != nil {
		t.Fatalf("CanonicalizeMentions: %v", err)
	}
	if len(entities) != 2 {
		t.Errorf("recorded %d entities, want 2", len(entities))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestCanonicalizeMentionsPropagatesStoreErrors(t *testing.T) {
	store := newFakeEntityStore()
	store.err = errors.New("connection refused")
	c := NewCanonicalizer(store, logger.NewNop())

	_, _, err := c.CanonicalizeMentions(context.Background(), uuid.New(), time.Now(), []models.Mention{
		{Kind: models.EntityKindActor, RawValue: "APT28", Confidence: 1.0},
	})
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}
