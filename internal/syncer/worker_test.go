package syncer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexsiroli/sagra-orders/internal/orders"
	"github.com/alexsiroli/sagra-orders/internal/queue"
)

type fakeCoord struct {
	mu          sync.Mutex
	committed   map[string]*orders.Order
	nextSeq     int64
	commitErr   error
	getErr      error
	commitCalls int
	blockCommit chan struct{} // when set, Commit waits for a receive
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{committed: map[string]*orders.Order{}, nextSeq: 100}
}

func (f *fakeCoord) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.committed[orderID], nil
}

func (f *fakeCoord) Commit(ctx context.Context, sub *orders.Submission) (*orders.CommitResult, error) {
	if f.blockCommit != nil {
		<-f.blockCommit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	if _, ok := f.committed[sub.Key]; ok {
		return nil, orders.ErrDuplicate
	}
	f.nextSeq++
	f.committed[sub.Key] = &orders.Order{OrderID: sub.Key, Sequence: f.nextSeq}
	return &orders.CommitResult{OrderID: sub.Key, Sequence: f.nextSeq}, nil
}

type fakeGauges struct {
	mu      sync.Mutex
	pending int
	failed  int
	calls   int
}

func (g *fakeGauges) PublishQueueGauges(ctx context.Context, pending, failed int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = pending
	g.failed = failed
	g.calls++
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testQueue(t *testing.T) *queue.Store {
	t.Helper()
	s, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, q *queue.Store, key string, maxRetries int) *queue.QueuedSubmission {
	t.Helper()
	entry, err := q.Enqueue(orders.Submission{
		Key:    key,
		Header: orders.Header{Customer: "tavolo 1", OfflineCreated: true},
		Lines:  []orders.LineInput{{MenuItemID: "item-gnocco", Quantity: 1, UnitPriceCents: 800}},
	}, maxRetries)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return entry
}

func TestRunCycle_DrainsQueueInOrder(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "a", 3)
	enqueue(t, q, "b", 3)
	enqueue(t, q, "c", 3)

	res, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if res.Synced != 3 || res.Failed != 0 || res.Retried != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	pending, _ := q.List()
	if len(pending) != 0 {
		t.Fatalf("queue not drained: %d left", len(pending))
	}
	// FIFO: "a" got the first fresh sequence
	if coord.committed["a"].Sequence != 101 || coord.committed["c"].Sequence != 103 {
		t.Fatalf("unexpected sequences: a=%d c=%d", coord.committed["a"].Sequence, coord.committed["c"].Sequence)
	}

	st, _ := q.GetStats()
	if st.LastKnownSequence != 103 {
		t.Fatalf("expected last known sequence 103, got %d", st.LastKnownSequence)
	}
	if st.LastSyncAt.IsZero() {
		t.Fatal("expected last sync timestamp to be set")
	}
}

func TestRunCycle_DropsAlreadyCommitted(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.committed["a"] = &orders.Order{OrderID: "a", Sequence: 55}
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "a", 3)

	res, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if res.Synced != 1 {
		t.Fatalf("expected synced 1, got %+v", res)
	}
	if coord.commitCalls != 0 {
		t.Fatal("a committed order must not be committed again")
	}
	pending, _ := q.List()
	if len(pending) != 0 {
		t.Fatal("duplicate entry not removed")
	}
}

func TestRunCycle_OfflineKeepsRetryBudget(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.commitErr = &orders.TransactionError{Unreachable: true, Err: errors.New("connection refused")}
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "a", 3)
	enqueue(t, q, "b", 3)

	res, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if res.Synced != 0 || res.Retried != 0 || res.Failed != 0 {
		t.Fatalf("offline cycle must not touch entries: %+v", res)
	}
	// the first unreachable error cuts the cycle short
	if coord.commitCalls != 1 {
		t.Fatalf("expected 1 commit attempt, got %d", coord.commitCalls)
	}

	pending, _ := q.List()
	if len(pending) != 2 {
		t.Fatalf("expected both entries kept, got %d", len(pending))
	}
	for _, e := range pending {
		if e.RetryCount != 0 {
			t.Fatalf("offline ticks must not consume retry budget: %+v", e)
		}
	}
}

func TestRunCycle_GetFailureAbortsCycle(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.getErr = errors.New("dial tcp: timeout")
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "a", 3)

	if _, err := w.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	pending, _ := q.List()
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Fatalf("entry must survive an unanswerable duplicate check: %+v", pending)
	}
}

func TestRunCycle_RejectionConsumesBudgetThenRetires(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.commitErr = &orders.TransactionError{Err: errors.New("insufficient stock for Farina")}
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "doomed", 2)

	res, err := w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if res.Retried != 1 {
		t.Fatalf("expected one retried entry, got %+v", res)
	}
	pending, _ := q.List()
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %+v", pending)
	}

	res, err = w.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected retirement on second rejection, got %+v", res)
	}
	pending, _ = q.List()
	if len(pending) != 0 {
		t.Fatal("retired entry still pending")
	}
	failed, _ := q.ListFailed()
	if len(failed) != 1 || failed[0].FailedAt == nil {
		t.Fatalf("retired entry must be retained: %+v", failed)
	}
}

func TestRunCycle_SingleFlight(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.blockCommit = make(chan struct{})
	w := New(q, coord, nil, testLogger(), 0)

	enqueue(t, q, "slow", 3)

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		_, _ = w.RunCycle(context.Background())
		close(finished)
	}()
	<-started
	// wait for the cycle to park inside Commit
	deadline := time.After(2 * time.Second)
	for {
		if w.running.Load() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cycle never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := w.RunCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}

	close(coord.blockCommit)
	<-finished
	if _, err := w.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle after release should run: %v", err)
	}
}

func TestRunCycle_PublishesGauges(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	coord.commitErr = &orders.TransactionError{Err: errors.New("rejected")}
	gauges := &fakeGauges{}
	w := New(q, coord, gauges, testLogger(), 0)

	enqueue(t, q, "doomed", 1) // budget of one: retired immediately

	if _, err := w.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if gauges.calls != 1 || gauges.pending != 0 || gauges.failed != 1 {
		t.Fatalf("unexpected gauges: %+v", gauges)
	}
}

func TestStartStop(t *testing.T) {
	q := testQueue(t)
	coord := newFakeCoord()
	w := New(q, coord, nil, testLogger(), 10*time.Millisecond)

	enqueue(t, q, "ticked", 3)

	w.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for {
		pending, _ := q.List()
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never drained the queue")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	w.Stop()

	if coord.committed["ticked"] == nil {
		t.Fatal("queued order was not committed by the timer loop")
	}
}
