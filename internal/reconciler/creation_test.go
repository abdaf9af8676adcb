package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLedger struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *failingLedger) CreateEntry(ctx context.Context, draft models.LedgerEntry) (models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return models.LedgerEntry{}, fmt.Errorf("ledger unavailable")
	}
	draft.ID = "ledger-" + draft.ID
	return draft, nil
}

// gatedLedger blocks until release is closed so tests can observe the
// creating state.
type gatedLedger struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLedger) CreateEntry(ctx context.Context, draft models.LedgerEntry) (models.LedgerEntry, error) {
	close(g.entered)
	select {
	case <-g.release:
		return draft, nil
	case <-ctx.Done():
		return models.LedgerEntry{}, ctx.Err()
	}
}

func TestCreateLedgerEntry(t *testing.T) {
	e, rec := newQ2Engine(t)
	before := e.Snapshot().MonetaryMass()

	entry, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{Category: "Bank Charges"})
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(amt("-35")))
	assert.Equal(t, day("2024-06-30"), entry.Date)
	assert.Equal(t, "BANK SERVICE CHARGE", entry.Description)
	assert.Equal(t, "Bank Charges", entry.Category)

	o1 := attentionItem(t, e, "o1").(*models.MissingInLedger)
	assert.Equal(t, models.CreationCreated, o1.State)
	require.NotNil(t, o1.Created)
	assert.Equal(t, entry.ID, o1.Created.ID)
	assert.True(t, before.Add(amt("35")).Equal(e.Snapshot().MonetaryMass()))

	assert.Equal(t, []EventType{
		EventPeriodImported,
		EventLedgerEntryCreationStarted,
		EventLedgerEntryCreated,
	}, rec.types())

	require.NoError(t, e.ResolveCreated("o1"))
	r := resolvedRecord(t, e, "o1")
	assert.Equal(t, models.MethodCreated, r.Method)
	require.Len(t, r.Ledger, 1)
	assert.True(t, r.NetAmount().Equal(amt("-35")))
}

func TestCreateLedgerEntryDefaultCategory(t *testing.T) {
	e, _ := newQ2Engine(t)
	entry, err := e.CreateLedgerEntry(context.Background(), "o2", LedgerEntryFields{})
	require.NoError(t, err)
	assert.Equal(t, "Uncategorized", entry.Category)
}

func TestCreateLedgerEntryFailure(t *testing.T) {
	svc := &failingLedger{fails: 1}
	e, rec := newQ2Engine(t, WithLedgerService(svc))
	before := e.Snapshot()

	_, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExternalFailure)
	assert.Contains(t, err.Error(), "ledger unavailable")

	o1 := attentionItem(t, e, "o1").(*models.MissingInLedger)
	assert.Equal(t, models.CreationMissing, o1.State)
	assert.Nil(t, o1.Created)
	assert.Equal(t, before.Attention, e.Snapshot().Attention)
	assert.Equal(t, EventLedgerEntryCreationFailed, rec.last().EventHeader().Type)

	// The item can be retried.
	entry, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
	require.NoError(t, err)
	assert.Contains(t, entry.ID, "ledger-")
	assert.Equal(t, 2, svc.calls)
}

func TestCreateLedgerEntryInvalidResult(t *testing.T) {
	e, _ := newQ2Engine(t)

	_, err := e.BeginLedgerEntryCreation("o1", LedgerEntryFields{})
	require.NoError(t, err)

	err = e.CompleteLedgerEntryCreation("o1", models.LedgerEntry{ID: "bad"}, nil)
	assert.ErrorIs(t, err, errors.ErrExternalFailure)
	assert.Equal(t, models.CreationMissing, attentionItem(t, e, "o1").(*models.MissingInLedger).State)
}

func TestCreatingStateBlocksOperations(t *testing.T) {
	e, _ := newQ2Engine(t)

	draft, err := e.BeginLedgerEntryCreation("o1", LedgerEntryFields{})
	require.NoError(t, err)
	assert.Equal(t, models.CreationCreating, attentionItem(t, e, "o1").(*models.MissingInLedger).State)

	_, err = e.BeginLedgerEntryCreation("o1", LedgerEntryFields{})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.ErrorIs(t, e.ResolveCreated("o1"), errors.ErrInvalidTransition)
	assert.ErrorIs(t, e.Accept("o1"), errors.ErrInvalidTransition)
	_, err = e.ManualResolve([]string{"a3"}, []string{"o1"})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	// Other items stay workable.
	require.NoError(t, e.Accept("a1"))

	require.NoError(t, e.CompleteLedgerEntryCreation("o1", draft, nil))
	assert.ErrorIs(t, e.CompleteLedgerEntryCreation("o1", draft, nil), errors.ErrInvalidTransition)
	require.NoError(t, e.ResolveCreated("o1"))
}

func TestCreateLedgerEntryReleasesLock(t *testing.T) {
	gate := &gatedLedger{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newQ2Engine(t, WithLedgerService(gate))

	done := make(chan error, 1)
	go func() {
		_, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
		done <- err
	}()

	<-gate.entered
	s := e.Snapshot()
	assert.Equal(t, models.CreationCreating, attentionItem(t, e, "o1").(*models.MissingInLedger).State)
	assert.False(t, s.CanFinalize())
	require.NoError(t, e.Accept("a3"))

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, models.CreationCreated, attentionItem(t, e, "o1").(*models.MissingInLedger).State)
}

func TestCreateLedgerEntryCancelled(t *testing.T) {
	gate := &gatedLedger{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newQ2Engine(t, WithLedgerService(gate))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.CreateLedgerEntry(ctx, "o2", LedgerEntryFields{})
		done <- err
	}()

	<-gate.entered
	cancel()
	err := <-done
	assert.ErrorIs(t, err, errors.ErrExternalFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.CreationMissing, attentionItem(t, e, "o2").(*models.MissingInLedger).State)
}

func TestResolveCreatedRequiresCreatedEntry(t *testing.T) {
	e, _ := newQ2Engine(t)
	assert.ErrorIs(t, e.ResolveCreated("o1"), errors.ErrInvalidTransition)
	assert.ErrorIs(t, e.ResolveCreated("a1"), errors.ErrInvalidTransition)
	_, err := e.BeginLedgerEntryCreation("b1", LedgerEntryFields{})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestEditCreatedEntry(t *testing.T) {
	e, _ := newQ2Engine(t)
	_, err := e.CreateLedgerEntry(context.Background(), "o1", LedgerEntryFields{})
	require.NoError(t, err)

	cat := "Bank Charges"
	require.NoError(t, e.EditLedgerEntry("o1", LedgerPatch{Category: &cat}))
	assert.Equal(t, cat, attentionItem(t, e, "o1").(*models.MissingInLedger).Created.Category)
}
