package queue

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/alexsiroli/sagra-orders/internal/orders"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sub(key string) orders.Submission {
	return orders.Submission{
		Key:    key,
		Header: orders.Header{Customer: "tavolo 3"},
		Lines: []orders.LineInput{
			{MenuItemID: "item-gnocco", Quantity: 1, UnitPriceCents: 800},
		},
	}
}

func TestEnqueue_FIFOOrder(t *testing.T) {
	s, _ := openTestStore(t)

	for _, key := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(sub(key), 3); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, key := range []string{"a", "b", "c"} {
		if entries[i].Submission.Key != key {
			t.Fatalf("expected %s at position %d, got %s", key, i, entries[i].Submission.Key)
		}
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats error: %v", err)
	}
	if st.PendingCount != 3 {
		t.Fatalf("expected pending count 3, got %d", st.PendingCount)
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := s.Enqueue(sub("persist-me"), 3); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// a crash or power cut at the till must not lose queued orders
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()
	entries, err := s2.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(entries) != 1 || entries[0].Submission.Key != "persist-me" {
		t.Fatalf("queued order lost across reopen: %+v", entries)
	}
}

func TestRemove_UpdatesCount(t *testing.T) {
	s, _ := openTestStore(t)
	entry, err := s.Enqueue(sub("a"), 3)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	if err := s.Remove(entry.ID); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	entries, _ := s.List()
	if len(entries) != 0 {
		t.Fatalf("expected empty queue, got %d", len(entries))
	}
	st, _ := s.GetStats()
	if st.PendingCount != 0 {
		t.Fatalf("expected pending count 0, got %d", st.PendingCount)
	}

	err = s.Remove(entry.ID)
	if err == nil {
		t.Fatal("expected error removing missing entry")
	}
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %T", err)
	}
}

func TestUpdateRetryCount(t *testing.T) {
	s, _ := openTestStore(t)
	entry, _ := s.Enqueue(sub("a"), 3)

	if err := s.UpdateRetryCount(entry.ID, 2, "insufficient stock"); err != nil {
		t.Fatalf("UpdateRetryCount error: %v", err)
	}
	entries, _ := s.List()
	if entries[0].RetryCount != 2 || entries[0].LastError != "insufficient stock" {
		t.Fatalf("retry state not persisted: %+v", entries[0])
	}
}

func TestMoveToFailed_RetainsEntry(t *testing.T) {
	s, _ := openTestStore(t)
	entry, _ := s.Enqueue(sub("doomed"), 3)

	if err := s.MoveToFailed(entry.ID, "rejected for good"); err != nil {
		t.Fatalf("MoveToFailed error: %v", err)
	}

	pending, _ := s.List()
	if len(pending) != 0 {
		t.Fatalf("failed entry still pending: %+v", pending)
	}
	failed, err := s.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed error: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed entry was discarded, expected retention")
	}
	if failed[0].LastError != "rejected for good" || failed[0].FailedAt == nil {
		t.Fatalf("failure detail missing: %+v", failed[0])
	}

	st, _ := s.GetStats()
	if st.PendingCount != 0 || st.FailedCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestLastKnownSequence(t *testing.T) {
	s, _ := openTestStore(t)

	seq, err := s.LastKnownSequence()
	if err != nil {
		t.Fatalf("LastKnownSequence error: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 on fresh store, got %d", seq)
	}

	if err := s.UpdateStats(func(st *Stats) { st.LastKnownSequence = 77 }); err != nil {
		t.Fatalf("UpdateStats error: %v", err)
	}
	seq, _ = s.LastKnownSequence()
	if seq != 77 {
		t.Fatalf("expected 77, got %d", seq)
	}
}
