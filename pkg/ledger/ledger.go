// Package ledger implements CostLedger (spec.md §4.3): the per-run
// append-only log of CostEvents, idempotent by idempotencyKey, with pure
// on-read aggregation. Per-run serialization is grounded in the teacher's
// pkg/queue/pool.go registry-of-locks pattern, generalized from a
// session-cancel-func registry to a run-scoped mutex registry via
// store.DurableStore.BlockConcurrencyWhile.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/runcore-labs/runcore/pkg/metrics"
	"github.com/runcore-labs/runcore/pkg/runmodel"
	"github.com/runcore-labs/runcore/pkg/store"
)

func eventsKey(runID string) string { return fmt.Sprintf("run:%s:cost:events", runID) }
func idempotencyKey(runID, key string) string {
	return fmt.Sprintf("run:%s:cost:idempotency:%s", runID, key)
}

// Ledger is the CostLedger implementation backed by a DurableStore.
type Ledger struct {
	store   store.DurableStore
	metrics *metrics.Metrics
}

// New builds a Ledger over the given store.
func New(s store.DurableStore) *Ledger {
	return &Ledger{store: s}
}

// WithMetrics wires a Metrics handle so Append increments
// runcore_ledger_appends_total by result. A nil Ledger.metrics is a no-op.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

func (l *Ledger) recordAppend(result string) {
	if l.metrics == nil {
		return
	}
	l.metrics.LedgerAppends.WithLabelValues(result).Inc()
}

// Append appends event under the run's serialized lock, suppressing
// duplicates by IdempotencyKey. Returns true iff a new event was appended
// (callers use this to decide whether to call BudgetManager.PostCommit).
func (l *Ledger) Append(ctx context.Context, event runmodel.CostEvent) (appended bool, err error) {
	lockKey := "lock:" + eventsKey(event.RunID)
	err = l.store.BlockConcurrencyWhile(ctx, lockKey, func(ctx context.Context) error {
		idemKey := idempotencyKey(event.RunID, event.IdempotencyKey)
		_, exists, getErr := l.store.Get(ctx, idemKey)
		if getErr != nil {
			return fmt.Errorf("check idempotency key: %w", getErr)
		}
		if exists {
			appended = false
			return nil
		}

		events, loadErr := l.loadEvents(ctx, event.RunID)
		if loadErr != nil {
			return loadErr
		}
		events = append(events, event)

		payload, marshalErr := json.Marshal(events)
		if marshalErr != nil {
			return fmt.Errorf("marshal events: %w", marshalErr)
		}
		if putErr := l.store.Put(ctx, eventsKey(event.RunID), payload); putErr != nil {
			return &runmodel.LedgerIntegrityError{RunID: event.RunID, Cause: putErr}
		}
		if putErr := l.store.Put(ctx, idemKey, []byte(event.EventID)); putErr != nil {
			return &runmodel.LedgerIntegrityError{RunID: event.RunID, Cause: putErr}
		}
		appended = true
		return nil
	})

	switch {
	case err != nil:
		l.recordAppend("error")
	case appended:
		l.recordAppend("appended")
	default:
		l.recordAppend("duplicate")
	}
	return appended, err
}

// GetEvents returns the full event list for runID in insertion order.
func (l *Ledger) GetEvents(ctx context.Context, runID string) ([]runmodel.CostEvent, error) {
	return l.loadEvents(ctx, runID)
}

func (l *Ledger) loadEvents(ctx context.Context, runID string) ([]runmodel.CostEvent, error) {
	raw, exists, err := l.store.Get(ctx, eventsKey(runID))
	if err != nil {
		return nil, fmt.Errorf("load events for run %s: %w", runID, err)
	}
	if !exists {
		return nil, nil
	}
	var events []runmodel.CostEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, &runmodel.LedgerIntegrityError{RunID: runID, Cause: err}
	}
	return events, nil
}

// Aggregate reads all events for runID and folds them into a CostSnapshot.
// Recomputed on every call; never cached, per spec.md §4.3.
func (l *Ledger) Aggregate(ctx context.Context, runID string) (runmodel.CostSnapshot, error) {
	events, err := l.loadEvents(ctx, runID)
	if err != nil {
		return runmodel.CostSnapshot{}, err
	}

	snapshot := runmodel.CostSnapshot{
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	type modelKey struct{ provider, model string }
	byModel := make(map[modelKey]*runmodel.ModelCostBreakdown)
	byProvider := make(map[string]*runmodel.ProviderCostBreakdown)
	modelOrder := []modelKey{}
	providerOrder := []string{}

	for _, e := range events {
		snapshot.TotalCost += e.CalculatedCostUSD
		snapshot.TotalTokens += e.TotalTokens
		snapshot.EventCount++

		mk := modelKey{e.Provider, e.Model}
		mb, ok := byModel[mk]
		if !ok {
			mb = &runmodel.ModelCostBreakdown{Provider: e.Provider, Model: e.Model}
			byModel[mk] = mb
			modelOrder = append(modelOrder, mk)
		}
		mb.PromptTokens += e.PromptTokens
		mb.CompletionTokens += e.CompletionTokens
		mb.TotalTokens += e.TotalTokens
		mb.Cost += e.CalculatedCostUSD

		pb, ok := byProvider[e.Provider]
		if !ok {
			pb = &runmodel.ProviderCostBreakdown{Provider: e.Provider}
			byProvider[e.Provider] = pb
			providerOrder = append(providerOrder, e.Provider)
		}
		pb.Cost += e.CalculatedCostUSD
	}

	for _, mk := range modelOrder {
		snapshot.ByModel = append(snapshot.ByModel, *byModel[mk])
	}
	for _, p := range providerOrder {
		snapshot.ByProvider = append(snapshot.ByProvider, *byProvider[p])
	}

	return snapshot, nil
}

// GetCurrentCost is shorthand for Aggregate(runID).TotalCost.
func (l *Ledger) GetCurrentCost(ctx context.Context, runID string) (float64, error) {
	snapshot, err := l.Aggregate(ctx, runID)
	if err != nil {
		return 0, err
	}
	return snapshot.TotalCost, nil
}
