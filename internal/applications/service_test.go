package applications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebridge/backend/internal/ledger"
	"github.com/tradebridge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
//
// world emulates the database: a coarse transaction mutex serializes
// transactions the way row locks do, and every mutation inside a
// transaction records an undo so Rollback restores the previous state.
// ---------------------------------------------------------------------------

type world struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	apps     map[uuid.UUID]*models.Application
	jobs     map[uuid.UUID]*models.Job
	balances map[uuid.UUID]int
	entries  []*models.LedgerEntry
}

func newWorld() *world {
	return &world{
		apps:     map[uuid.UUID]*models.Application{},
		jobs:     map[uuid.UUID]*models.Job{},
		balances: map[uuid.UUID]int{},
	}
}

type memTx struct {
	w    *world
	undo []func()
	done bool
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.w.txMu.Unlock()
	return nil
}
func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.w.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.w.mu.Unlock()
	t.w.txMu.Unlock()
	return nil
}
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type mockStore struct{ w *world }

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) {
	m.w.txMu.Lock()
	return &memTx{w: m.w}, nil
}

func (m *mockStore) CreateTx(_ context.Context, tx pgx.Tx, a *models.Application) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	for _, existing := range m.w.apps {
		if existing.JobID == a.JobID && existing.TradespersonID == a.TradespersonID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "applications_job_tradesperson_key"}
		}
	}
	cp := *a
	m.w.apps[a.ID] = &cp
	id := a.ID
	recordUndo(tx, func() { delete(m.w.apps, id) })
	return nil
}

func (m *mockStore) GetByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	a, ok := m.w.apps[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Application, error) {
	return m.GetByID(ctx, id)
}

func (m *mockStore) TransitionStatus(_ context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	a, ok := m.w.apps[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if a.Status == f {
			a.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) AcceptTx(_ context.Context, tx pgx.Tx, id uuid.UUID, from []string) (bool, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	a, ok := m.w.apps[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if a.Status == f {
			prev := a.Status
			a.Status = models.ApplicationStatusAccepted
			recordUndo(tx, func() { a.Status = prev })
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) RejectOthersTx(_ context.Context, tx pgx.Tx, jobID, acceptedID uuid.UUID) (int64, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var n int64
	for _, a := range m.w.apps {
		if a.JobID != jobID || a.ID == acceptedID || models.ApplicationTerminal(a.Status) {
			continue
		}
		a := a
		prev := a.Status
		a.Status = models.ApplicationStatusRejected
		recordUndo(tx, func() { a.Status = prev })
		n++
	}
	return n, nil
}

func (m *mockStore) MarkViewed(_ context.Context, jobID uuid.UUID) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	for _, a := range m.w.apps {
		if a.JobID == jobID && a.Status == models.ApplicationStatusPending {
			a.Status = models.ApplicationStatusViewed
		}
	}
	return nil
}

func (m *mockStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []*models.Application
	for _, a := range m.w.apps {
		if a.JobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListByTradesperson(_ context.Context, tradespersonID uuid.UUID) ([]*models.Application, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []*models.Application
	for _, a := range m.w.apps {
		if a.TradespersonID == tradespersonID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockJobs struct{ w *world }

func (m *mockJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	j, ok := m.w.jobs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobs) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return m.GetByID(ctx, id)
}

func (m *mockJobs) StartTx(_ context.Context, tx pgx.Tx, id, tradespersonID uuid.UUID, startDate time.Time) (bool, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	j, ok := m.w.jobs[id]
	if !ok || j.Status != models.JobStatusOpen {
		return false, nil
	}
	prev := *j
	j.Status = models.JobStatusInProgress
	tp := tradespersonID
	j.SelectedTradespersonID = &tp
	sd := startDate
	j.StartDate = &sd
	recordUndo(tx, func() { *j = prev })
	return true, nil
}

// mockAccounts backs a real ledger.Service so debits exercise the
// same fail-closed path production uses.
type mockAccounts struct{ w *world }

func (m *mockAccounts) Deduct(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (int, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	bal := m.w.balances[userID]
	if bal < amount {
		return 0, pgx.ErrNoRows
	}
	m.w.balances[userID] = bal - amount
	recordUndo(tx, func() { m.w.balances[userID] = bal })
	return bal - amount, nil
}

func (m *mockAccounts) Add(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (int, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	bal := m.w.balances[userID] + amount
	m.w.balances[userID] = bal
	prev := bal - amount
	recordUndo(tx, func() { m.w.balances[userID] = prev })
	return bal, nil
}

type mockEntries struct{ w *world }

func (m *mockEntries) CreateTx(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	m.w.entries = append(m.w.entries, e)
	recordUndo(tx, func() { m.w.entries = m.w.entries[:len(m.w.entries)-1] })
	return nil
}

func (m *mockEntries) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.w.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.w.entries[i].AccountID == accountID {
			out = append(out, m.w.entries[i])
		}
	}
	return out, nil
}

func recordUndo(tx pgx.Tx, fn func()) {
	if mt, ok := tx.(*memTx); ok {
		mt.undo = append(mt.undo, fn)
	}
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fixture struct {
	w        *world
	svc      *Service
	customer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := newWorld()
	led := ledger.NewService(&mockAccounts{w: w}, &mockEntries{w: w})
	svc := NewService(&mockStore{w: w}, &mockJobs{w: w}, led, nil)
	return &fixture{w: w, svc: svc, customer: uuid.New()}
}

func (f *fixture) addJob(status string, creditCost int) *models.Job {
	j := &models.Job{
		ID:         uuid.New(),
		CustomerID: f.customer,
		Title:      "Replace boiler",
		Trade:      "plumbing",
		Status:     status,
		CreditCost: creditCost,
	}
	f.w.jobs[j.ID] = j
	return j
}

func (f *fixture) addTradesperson(credits int) uuid.UUID {
	id := uuid.New()
	f.w.balances[id] = credits
	return id
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestApplyDebitsCredits(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 2)
	tp := f.addTradesperson(5)

	app, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID, Message: "can start Monday"})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	assert.Equal(t, 2, app.CreditCost)
	assert.Equal(t, 3, f.w.balances[tp])

	require.Len(t, f.w.entries, 1)
	entry := f.w.entries[0]
	assert.Equal(t, -2, entry.Amount)
	assert.Equal(t, models.EntryTypeUsage, entry.EntryType)
	require.NotNil(t, entry.RelatedID)
	assert.Equal(t, app.ID, *entry.RelatedID)
}

func TestApplyInsufficientCreditsWritesNothing(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 3)
	tp := f.addTradesperson(2)

	_, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	// Balance untouched, no ledger entry, and the tradesperson can
	// still apply once topped up: the failed attempt left no
	// application row behind.
	assert.Equal(t, 2, f.w.balances[tp])
	assert.Empty(t, f.w.entries)

	f.w.balances[tp] = 3
	_, err = f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.NoError(t, err)
}

func TestApplyDuplicate(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	tp := f.addTradesperson(10)

	_, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	_, err = f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.ErrorIs(t, err, ErrDuplicateApplication)
	// Only the first application was charged.
	assert.Equal(t, 9, f.w.balances[tp])
}

func TestApplyRequiresOpenJob(t *testing.T) {
	f := newFixture(t)
	tp := f.addTradesperson(10)

	for _, status := range []string{
		models.JobStatusDraft,
		models.JobStatusInProgress,
		models.JobStatusCompleted,
		models.JobStatusCanceled,
		models.JobStatusExpired,
	} {
		job := f.addJob(status, 1)
		_, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
		assert.ErrorIs(t, err, ErrJobNotOpen, "status %s", status)
	}
	assert.Equal(t, 10, f.w.balances[tp])

	_, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: uuid.New()})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestApplyToOwnJob(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	f.w.balances[f.customer] = 10

	_, err := f.svc.Apply(context.Background(), f.customer, ApplyInput{JobID: job.ID})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestShortlistAndReject(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	tp := f.addTradesperson(10)

	app, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	// The applicant cannot decide their own application.
	_, err = f.svc.Shortlist(context.Background(), tp, models.RoleTradesperson, app.ID)
	require.ErrorIs(t, err, ErrForbidden)

	short, err := f.svc.Shortlist(context.Background(), f.customer, models.RoleCustomer, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusShortlisted, short.Status)

	rejected, err := f.svc.Reject(context.Background(), f.customer, models.RoleCustomer, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusRejected, rejected.Status)

	// Rejection is terminal and never refunds.
	_, err = f.svc.Shortlist(context.Background(), f.customer, models.RoleCustomer, app.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, 9, f.w.balances[tp])
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	tp := f.addTradesperson(10)

	app, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	_, err = f.svc.Withdraw(context.Background(), uuid.New(), app.ID)
	require.ErrorIs(t, err, ErrForbidden)

	withdrawn, err := f.svc.Withdraw(context.Background(), tp, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusWithdrawn, withdrawn.Status)
	assert.Equal(t, 9, f.w.balances[tp])

	_, err = f.svc.Withdraw(context.Background(), tp, app.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAcceptCompound(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	winner := f.addTradesperson(10)
	loser1 := f.addTradesperson(10)
	loser2 := f.addTradesperson(10)

	winApp, err := f.svc.Apply(context.Background(), winner, ApplyInput{JobID: job.ID})
	require.NoError(t, err)
	loseApp1, err := f.svc.Apply(context.Background(), loser1, ApplyInput{JobID: job.ID})
	require.NoError(t, err)
	loseApp2, err := f.svc.Apply(context.Background(), loser2, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	// Shortlisted and withdrawn applications behave differently on
	// accept: shortlisted ones get rejected, withdrawn ones stay put.
	_, err = f.svc.Shortlist(context.Background(), f.customer, models.RoleCustomer, loseApp1.ID)
	require.NoError(t, err)
	_, err = f.svc.Withdraw(context.Background(), loser2, loseApp2.ID)
	require.NoError(t, err)

	start := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	accepted, err := f.svc.Accept(context.Background(), f.customer, models.RoleCustomer, winApp.ID, start)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusAccepted, accepted.Status)

	gotJob := f.w.jobs[job.ID]
	assert.Equal(t, models.JobStatusInProgress, gotJob.Status)
	require.NotNil(t, gotJob.SelectedTradespersonID)
	assert.Equal(t, winner, *gotJob.SelectedTradespersonID)
	require.NotNil(t, gotJob.StartDate)
	assert.True(t, gotJob.StartDate.Equal(start))

	assert.Equal(t, models.ApplicationStatusRejected, f.w.apps[loseApp1.ID].Status)
	assert.Equal(t, models.ApplicationStatusWithdrawn, f.w.apps[loseApp2.ID].Status)
}

func TestAcceptOnlyOnceAcrossApplications(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	tp1 := f.addTradesperson(10)
	tp2 := f.addTradesperson(10)

	app1, err := f.svc.Apply(context.Background(), tp1, ApplyInput{JobID: job.ID})
	require.NoError(t, err)
	app2, err := f.svc.Apply(context.Background(), tp2, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), f.customer, models.RoleCustomer, app1.ID, time.Time{})
	require.NoError(t, err)

	// The second accept loses: the job already left open, and the
	// first accept already rejected the second application.
	_, err = f.svc.Accept(context.Background(), f.customer, models.RoleCustomer, app2.ID, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotOpen)

	assert.Equal(t, models.ApplicationStatusAccepted, f.w.apps[app1.ID].Status)
	assert.Equal(t, models.ApplicationStatusRejected, f.w.apps[app2.ID].Status)
}

func TestAcceptConcurrent(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)

	var appIDs []uuid.UUID
	for i := 0; i < 5; i++ {
		tp := f.addTradesperson(5)
		app, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
		require.NoError(t, err)
		appIDs = append(appIDs, app.ID)
	}

	var wg sync.WaitGroup
	okCh := make(chan uuid.UUID, len(appIDs))
	for _, id := range appIDs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := f.svc.Accept(context.Background(), f.customer, models.RoleCustomer, id, time.Time{}); err == nil {
				okCh <- id
			}
		}(id)
	}
	wg.Wait()
	close(okCh)

	var winners []uuid.UUID
	for id := range okCh {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one accept must win")

	var acceptedCount int
	for _, id := range appIDs {
		if f.w.apps[id].Status == models.ApplicationStatusAccepted {
			acceptedCount++
		} else {
			assert.Equal(t, models.ApplicationStatusRejected, f.w.apps[id].Status)
		}
	}
	assert.Equal(t, 1, acceptedCount)
	assert.Equal(t, models.JobStatusInProgress, f.w.jobs[job.ID].Status)
}

func TestListForJobMarksViewed(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(models.JobStatusOpen, 1)
	tp := f.addTradesperson(5)

	app, err := f.svc.Apply(context.Background(), tp, ApplyInput{JobID: job.ID})
	require.NoError(t, err)

	// A stranger cannot list the job's applications.
	_, err = f.svc.ListForJob(context.Background(), uuid.New(), models.RoleCustomer, job.ID)
	require.ErrorIs(t, err, ErrForbidden)

	apps, err := f.svc.ListForJob(context.Background(), f.customer, models.RoleCustomer, job.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, app.ID, apps[0].ID)
	assert.Equal(t, models.ApplicationStatusViewed, apps[0].Status)
}
