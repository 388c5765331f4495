package history

import (
	"context"
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
)

func TestAppendAssignsSeqOrder(t *testing.T) {
	log := NewLog()
	ctx := context.Background()

	if err := log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "b"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := log.List(ctx, "p1", "l1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SeqOrder != 1 || entries[1].SeqOrder != 2 {
		t.Errorf("unexpected seq order: %+v", entries)
	}
	if entries[0].ID == entries[1].ID {
		t.Errorf("expected distinct auto-assigned IDs, got %q twice", entries[0].ID)
	}
}

func TestAppendRequiresProjectAndLayer(t *testing.T) {
	log := NewLog()
	if err := log.Append(context.Background(), domain.HistoryEntry{SubsetString: "a"}); err == nil {
		t.Fatal("expected error for missing ProjectUUID/LayerID")
	}
}

func TestListIsolatesDistinctLayers(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"})
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l2", SubsetString: "b"})

	l1, _ := log.List(ctx, "p1", "l1")
	l2, _ := log.List(ctx, "p1", "l2")
	if len(l1) != 1 || len(l2) != 1 {
		t.Fatalf("expected isolated single-entry histories, got %d and %d", len(l1), len(l2))
	}
	if l1[0].SubsetString != "a" || l2[0].SubsetString != "b" {
		t.Errorf("entries mixed across layers: %+v / %+v", l1, l2)
	}
}

func TestListReturnsCopyNotAliasedToInternalSlice(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"})

	got, _ := log.List(ctx, "p1", "l1")
	got[0].SubsetString = "mutated"

	again, _ := log.List(ctx, "p1", "l1")
	if again[0].SubsetString != "a" {
		t.Errorf("expected internal state unaffected by caller mutation, got %q", again[0].SubsetString)
	}
}

func TestLatestReturnsMostRecent(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	if _, ok, _ := log.Latest(ctx, "p1", "l1"); ok {
		t.Fatal("expected no latest entry before any append")
	}

	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"})
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "b"})

	latest, ok, _ := log.Latest(ctx, "p1", "l1")
	if !ok {
		t.Fatal("expected a latest entry")
	}
	if latest.SubsetString != "b" {
		t.Errorf("expected latest = %q, got %q", "b", latest.SubsetString)
	}
}

func TestPopLastRemovesTailAndExposesPrior(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"})
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "b"})

	popped, ok, err := log.PopLast(ctx, "p1", "l1")
	if err != nil || !ok {
		t.Fatalf("PopLast() = %+v, %v, %v", popped, ok, err)
	}
	if popped.SubsetString != "b" {
		t.Errorf("expected popped entry %q, got %q", "b", popped.SubsetString)
	}

	prior, ok, _ := log.Latest(ctx, "p1", "l1")
	if !ok || prior.SubsetString != "a" {
		t.Errorf("expected prior entry %q after pop, got %+v, %v", "a", prior, ok)
	}

	if _, ok, _ = log.PopLast(ctx, "p1", "l1"); !ok {
		t.Fatal("expected a second pop to succeed")
	}
	if _, ok, _ = log.PopLast(ctx, "p1", "l1"); ok {
		t.Fatal("expected PopLast on empty history to report false")
	}
}

func TestDeleteAllClearsLayerHistory(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l1", SubsetString: "a"})
	_ = log.Append(ctx, domain.HistoryEntry{ProjectUUID: "p1", LayerID: "l2", SubsetString: "x"})

	if err := log.DeleteAll(ctx, "p1", "l1"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}

	if _, ok, _ := log.Latest(ctx, "p1", "l1"); ok {
		t.Error("expected no entries left for l1")
	}
	if _, ok, _ := log.Latest(ctx, "p1", "l2"); !ok {
		t.Error("expected l2's history untouched")
	}
}
