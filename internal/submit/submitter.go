package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexsiroli/sagra-orders/internal/catalog"
	"github.com/alexsiroli/sagra-orders/internal/orders"
	"github.com/alexsiroli/sagra-orders/internal/queue"
	"github.com/alexsiroli/sagra-orders/internal/sequence"
	"github.com/alexsiroli/sagra-orders/internal/stock"
	"github.com/alexsiroli/sagra-orders/internal/validation"
)

// Committer commits submissions against the authoritative store.
type Committer interface {
	Commit(ctx context.Context, sub *orders.Submission) (*orders.CommitResult, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// ComponentReader reads current component stock for the advisory pre-check.
type ComponentReader interface {
	Get(ctx context.Context, componentID string) (*catalog.Component, error)
}

// Options tunes a single submission.
type Options struct {
	// DisableQueue surfaces store failures to the caller instead of
	// falling back to the local queue.
	DisableQueue bool
}

// Result is the outcome of a submission. Provisional results carry a
// device-local sequence that the sync worker replaces at commit time.
type Result struct {
	OrderID     string          `json:"order_id"`
	Sequence    int64           `json:"sequence"`
	Provisional bool            `json:"provisional"`
	Queued      bool            `json:"queued"`
	Duplicate   bool            `json:"duplicate"`
	LowStock    []stock.Warning `json:"low_stock,omitempty"`
}

// QueueStatus is the local queue summary shown on the cashier screen.
type QueueStatus struct {
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

// Submitter is the submission front door: validate, try a direct commit,
// and on an unreachable store fall back to the durable local queue so the
// cashier line keeps moving.
type Submitter struct {
	coord      Committer
	queue      *queue.Store
	alloc      *sequence.Allocator
	menu       catalog.Source
	components ComponentReader
	log        *logrus.Logger
	deviceID   string
	maxRetries int
}

// New wires a Submitter. components may be nil, which disables the
// advisory stock pre-check.
func New(coord Committer, q *queue.Store, alloc *sequence.Allocator, menu catalog.Source, components ComponentReader, log *logrus.Logger, deviceID string, maxRetries int) *Submitter {
	return &Submitter{
		coord:      coord,
		queue:      q,
		alloc:      alloc,
		menu:       menu,
		components: components,
		log:        log,
		deviceID:   deviceID,
		maxRetries: maxRetries,
	}
}

// SubmitOrder turns a validated request into a submission keyed by `key`
// and commits it. When the store is unreachable the submission is enqueued
// locally with a provisional sequence; authoritative rejections (duplicate
// key aside, which is reported as such) are surfaced and never queued.
func (s *Submitter) SubmitOrder(ctx context.Context, key string, req *validation.SubmitOrderRequest, opts Options) (*Result, error) {
	sub, err := s.buildSubmission(ctx, key, req)
	if err != nil {
		return nil, err
	}

	if err := s.advisoryCheck(ctx, sub); err != nil {
		return nil, err
	}

	res, err := s.coord.Commit(ctx, sub)
	if err == nil {
		s.rememberSequence(res.Sequence)
		return &Result{OrderID: res.OrderID, Sequence: res.Sequence, LowStock: res.LowStock}, nil
	}

	if errors.Is(err, orders.ErrDuplicate) {
		existing, gerr := s.coord.Get(ctx, key)
		if gerr != nil || existing == nil {
			return &Result{OrderID: key, Duplicate: true}, nil
		}
		return &Result{OrderID: key, Sequence: existing.Sequence, Duplicate: true}, nil
	}

	var te *orders.TransactionError
	if errors.As(err, &te) && te.Unreachable && !opts.DisableQueue {
		return s.enqueue(sub, err)
	}
	return nil, err
}

// buildSubmission captures catalog snapshots for each line. Unknown or
// inactive menu items and stale prices reject the whole submission.
func (s *Submitter) buildSubmission(ctx context.Context, key string, req *validation.SubmitOrderRequest) (*orders.Submission, error) {
	sub := &orders.Submission{
		Key: key,
		Header: orders.Header{
			Customer:      req.Customer,
			Note:          req.Note,
			Staff:         req.Staff,
			Priority:      req.Priority,
			CreatedBy:     req.CreatedBy,
			CreatedByName: req.CreatedByName,
			DeviceID:      s.deviceID,
		},
	}
	for _, ln := range req.Lines {
		item, err := s.menu.Item(ctx, ln.MenuItemID)
		if err != nil || item == nil {
			return nil, &validation.Error{Reason: fmt.Sprintf("unknown menu item %s", ln.MenuItemID)}
		}
		if !item.Active {
			return nil, &validation.Error{Reason: fmt.Sprintf("menu item %s is not on sale", item.Name)}
		}
		if ln.UnitPriceCents != item.PriceCents {
			return nil, &validation.Error{Reason: fmt.Sprintf("price for %s is out of date", item.Name)}
		}
		sub.Lines = append(sub.Lines, orders.LineInput{
			MenuItemID:        item.MenuItemID,
			Quantity:          ln.Quantity,
			UnitPriceCents:    item.PriceCents,
			Note:              ln.Note,
			NameSnapshot:      item.Name,
			CategorySnapshot:  item.Category,
			AllergensSnapshot: item.Allergens,
		})
	}
	return sub, nil
}

// advisoryCheck rejects submissions that clearly cannot commit against
// the last known stock levels. It is best effort only: a read failure is
// ignored, and a pass here proves nothing, since the coordinator
// re-validates against fresh reads under write conditions.
func (s *Submitter) advisoryCheck(ctx context.Context, sub *orders.Submission) error {
	if s.components == nil {
		return nil
	}
	deltas, err := catalog.StockDeltas(ctx, s.menu, submissionRefs(sub))
	if err != nil {
		return &validation.Error{Reason: err.Error()}
	}
	for _, d := range deltas {
		comp, err := s.components.Get(ctx, d.ComponentID)
		if err != nil || comp == nil || comp.Unlimited {
			continue
		}
		if comp.StockQty+d.Change < 0 {
			return &validation.Error{Reason: fmt.Sprintf("not enough %s in stock", comp.Name)}
		}
	}
	return nil
}

// enqueue stores the submission durably and answers with a provisional,
// device-local sequence. A queue write failure means no durability at all,
// so the original commit error is surfaced instead of a false accept.
func (s *Submitter) enqueue(sub *orders.Submission, cause error) (*Result, error) {
	provisional, perr := s.alloc.NextOffline()
	if perr != nil {
		s.log.WithError(perr).Warn("no local sequence cache, provisional sequence unavailable")
	}
	sub.Header.OfflineCreated = true
	sub.Header.ProvisionalSeq = provisional

	if _, qerr := s.queue.Enqueue(*sub, s.maxRetries); qerr != nil {
		s.log.WithError(qerr).WithField("order_id", sub.Key).Error("local queue write failed, order not accepted")
		return nil, cause
	}

	s.log.WithFields(logrus.Fields{
		"order_id":        sub.Key,
		"provisional_seq": provisional,
	}).Info("store unreachable, order queued locally")
	return &Result{OrderID: sub.Key, Sequence: provisional, Provisional: true, Queued: true}, nil
}

// rememberSequence refreshes the local sequence cache after a confirmed
// commit so offline provisionals start from a recent point.
func (s *Submitter) rememberSequence(seq int64) {
	err := s.queue.UpdateStats(func(st *queue.Stats) {
		if seq > st.LastKnownSequence {
			st.LastKnownSequence = seq
		}
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to update local sequence cache")
	}
}

// Status reports the local queue counters for the cashier screen.
func (s *Submitter) Status() (*QueueStatus, error) {
	stats, err := s.queue.GetStats()
	if err != nil {
		return nil, err
	}
	st := &QueueStatus{PendingCount: stats.PendingCount, FailedCount: stats.FailedCount}
	if !stats.LastSyncAt.IsZero() {
		t := stats.LastSyncAt
		st.LastSyncAt = &t
	}
	return st, nil
}

func submissionRefs(sub *orders.Submission) []catalog.LineRef {
	refs := make([]catalog.LineRef, 0, len(sub.Lines))
	for _, l := range sub.Lines {
		refs = append(refs, catalog.LineRef{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	return refs
}
