package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leadflow/leadflow-backend/internal/lead/catalog"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/service"
	"github.com/leadflow/leadflow-backend/internal/lead/store"
	"github.com/leadflow/leadflow-backend/internal/lead/validation"
	"github.com/leadflow/leadflow-backend/internal/lead/workflow"
	"github.com/leadflow/leadflow-backend/pkg/config"
	apperrors "github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/i18n"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/leadflow/leadflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	uploads     []string
	failOn      map[string]bool
	block       chan struct{}
}

func (g *fakeGateway) CreateLead(ctx context.Context, form domain.FormState) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	return "L-1", nil
}

func (g *fakeGateway) UploadDocument(ctx context.Context, leadID string, file domain.QueuedFile) error {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, file.File.Name)
	if g.failOn[file.File.Name] {
		return fmt.Errorf("status 500")
	}
	return nil
}

type fixture struct {
	svc   *service.LeadService
	repo  *testutil.MemoryRepository
	gw    *fakeGateway
	store *store.Store
}

// gatedRepository holds every Get until the test releases it.
type gatedRepository struct {
	*testutil.MemoryRepository
	arrived chan chan struct{}
}

func (r *gatedRepository) Get(ctx context.Context, id, userID string) (*domain.LeadSession, error) {
	if r.arrived != nil {
		release := make(chan struct{})
		r.arrived <- release
		<-release
	}
	return r.MemoryRepository.Get(ctx, id, userID)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := testutil.NewMemoryRepository()
	return newFixtureWith(t, repo, repo)
}

func newFixtureWith(t *testing.T, sessions service.SessionRepository, repo *testutil.MemoryRepository) *fixture {
	t.Helper()
	gw := &fakeGateway{failOn: map[string]bool{}}
	st := store.New(time.Hour, config.DefaultMaxFileSize)
	log := logger.Nop()

	orch := workflow.New(gw, workflow.Options{
		Listeners: []workflow.Listener{service.NewAuditListener(repo, log)},
	}, log)
	svc := service.NewLeadService(st, sessions, repo, orch, catalog.Default(), validation.New(), log)
	return &fixture{svc: svc, repo: repo, gw: gw, store: st}
}

func (f *fixture) startWithForm(t *testing.T, userID string, form domain.FormState) string {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.Start(ctx, userID)
	require.NoError(t, err)
	_, err = f.svc.UpdateForm(ctx, userID, v.ID, form)
	require.NoError(t, err)
	return v.ID
}

func TestLeadService_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	v, err := f.svc.CreateLead(ctx, "agent-1", id)
	require.NoError(t, err)
	assert.Equal(t, "L-1", v.LeadID)
	assert.Equal(t, domain.StepDocuments, v.Step)
	assert.Len(t, v.Requirements, 9)

	stored, err := f.repo.Get(ctx, id, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "L-1", stored.LeadID, "lead id is persisted")

	added, err := f.svc.AddDocuments(ctx, "agent-1", id, "PAN_CARD", []domain.PickedFile{testutil.PickedFile("pan.pdf", 1024)})
	require.NoError(t, err)
	assert.Empty(t, added.Rejected)
	require.Len(t, added.Session.Documents, 1)

	result, err := f.svc.Submit(ctx, "agent-1", id)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 1, result.Uploaded)

	history, err := f.svc.Uploads(ctx, "agent-1", id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusSucceeded, history[0].Status)
	assert.Equal(t, "L-1", history[0].LeadID)
}

func TestLeadService_CreateLeadTwiceCallsGatewayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateLead(ctx, "agent-1", id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.gw.createCalls)
}

func TestLeadService_CreateLeadInvalidForm(t *testing.T) {
	f := newFixture(t)
	id := f.startWithForm(t, "agent-1", domain.FormState{domain.FieldPhone: "123"})

	_, err := f.svc.CreateLead(context.Background(), "agent-1", id)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 0, f.gw.createCalls)
}

func TestLeadService_UpdateForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Start(ctx, "agent-1")
	require.NoError(t, err)

	t.Run("unknown field is rejected", func(t *testing.T) {
		_, err := f.svc.UpdateForm(ctx, "agent-1", v.ID, map[string]string{"salary": "1"})
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Details, "salary")
	})

	t.Run("merge keeps other fields", func(t *testing.T) {
		_, err := f.svc.UpdateForm(ctx, "agent-1", v.ID, map[string]string{domain.FieldClientName: "A"})
		require.NoError(t, err)
		got, err := f.svc.UpdateForm(ctx, "agent-1", v.ID, map[string]string{domain.FieldLocation: "B"})
		require.NoError(t, err)
		assert.Equal(t, "A", got.Form.Get(domain.FieldClientName))
		assert.Equal(t, "B", got.Form.Get(domain.FieldLocation))
	})

	t.Run("frozen after lead creation", func(t *testing.T) {
		_, err := f.svc.UpdateForm(ctx, "agent-1", v.ID, testutil.ValidForm())
		require.NoError(t, err)
		_, err = f.svc.CreateLead(ctx, "agent-1", v.ID)
		require.NoError(t, err)

		_, err = f.svc.UpdateForm(ctx, "agent-1", v.ID, map[string]string{domain.FieldClientName: "Z"})
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	})
}

func TestLeadService_ValidateLocalized(t *testing.T) {
	f := newFixture(t)
	id := f.startWithForm(t, "agent-1", domain.FormState{domain.FieldPhone: "123"})

	errs, err := f.svc.Validate(i18n.WithLocale(context.Background(), i18n.LocaleEnglish), "agent-1", id)
	require.NoError(t, err)
	assert.Equal(t, "Phone number must be exactly 10 digits", errs[domain.FieldPhone])
	assert.Contains(t, errs, domain.FieldClientName)
}

func TestLeadService_OtherUsersSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	_, err := f.svc.Get(context.Background(), "agent-2", id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestLeadService_AddDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	t.Run("unknown key", func(t *testing.T) {
		_, err := f.svc.AddDocuments(ctx, "agent-1", id, "PASSPORT", []domain.PickedFile{testutil.PickedFile("p.pdf", 10)})
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "UNKNOWN_DOCUMENT", appErr.Code)
	})

	t.Run("conditional key needs its condition", func(t *testing.T) {
		_, err := f.svc.AddDocuments(ctx, "agent-1", id, "EXISTING_LOAN_STATEMENT", []domain.PickedFile{testutil.PickedFile("l.pdf", 10)})
		require.Error(t, err)
	})

	t.Run("oversized files are listed individually", func(t *testing.T) {
		picked := []domain.PickedFile{
			testutil.PickedFile("a.pdf", 1000),
			testutil.PickedFile("big1.pdf", int(config.DefaultMaxFileSize)+1),
			testutil.PickedFile("big2.pdf", int(config.DefaultMaxFileSize)+1),
		}
		res, err := f.svc.AddDocuments(ctx, "agent-1", id, "BANK_STATEMENT", picked)
		require.NoError(t, err)
		require.Len(t, res.Rejected, 2)
		assert.Equal(t, "FILE_TOO_LARGE", res.Rejected[0].Code)
		assert.Equal(t, "big1.pdf", res.Rejected[0].File)
		assert.Equal(t, "big2.pdf", res.Rejected[1].File)
		assert.Len(t, res.Session.Documents, 1)
	})
}

func TestLeadService_RemoveDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())
	_, err := f.svc.CreateLead(ctx, "agent-1", id)
	require.NoError(t, err)

	_, err = f.svc.AddDocuments(ctx, "agent-1", id, "PAN_CARD", []domain.PickedFile{testutil.PickedFile("pan.pdf", 10)})
	require.NoError(t, err)
	_, err = f.svc.AddDocuments(ctx, "agent-1", id, "PHOTOGRAPH", []domain.PickedFile{testutil.PickedFile("me.jpg", 10)})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "agent-1", id)
	require.NoError(t, err)

	_, err = f.svc.RemoveDocument(ctx, "agent-1", id, "PAN_CARD", "pan.pdf")
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "succeeded files stay")

	_, err = f.svc.RemoveDocument(ctx, "agent-1", id, "PAN_CARD", "nope.pdf")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.AddDocuments(ctx, "agent-1", id, "BANK_STATEMENT", []domain.PickedFile{testutil.PickedFile("b.pdf", 10)})
	require.NoError(t, err)
	v, err := f.svc.RemoveDocument(ctx, "agent-1", id, "BANK_STATEMENT", "b.pdf")
	require.NoError(t, err)
	assert.Len(t, v.Documents, 2)
}

func TestLeadService_SubmitResumesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())
	_, err := f.svc.CreateLead(ctx, "agent-1", id)
	require.NoError(t, err)

	for _, name := range []string{"b1.pdf", "b2.pdf", "b3.pdf"} {
		_, err := f.svc.AddDocuments(ctx, "agent-1", id, "BANK_STATEMENT", []domain.PickedFile{testutil.PickedFile(name, 10)})
		require.NoError(t, err)
	}

	f.gw.failOn["b2.pdf"] = true
	result, err := f.svc.Submit(ctx, "agent-1", id)
	require.Error(t, err)
	assert.False(t, result.Complete)
	require.NotNil(t, result.Failed)
	assert.Equal(t, "b2.pdf", result.Failed.File.Name)

	f.gw.failOn["b2.pdf"] = false
	result, err = f.svc.Submit(ctx, "agent-1", id)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"b1.pdf", "b2.pdf", "b2.pdf", "b3.pdf"}, f.gw.uploads)

	history, err := f.svc.Uploads(ctx, "agent-1", id)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.StatusFailed, history[1].Status)
	assert.Equal(t, "status 500", history[1].Error)
}

func TestLeadService_SubmitSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())
	_, err := f.svc.CreateLead(context.Background(), "agent-1", id)
	require.NoError(t, err)
	_, err = f.svc.AddDocuments(context.Background(), "agent-1", id, "PAN_CARD", []domain.PickedFile{testutil.PickedFile("pan.pdf", 10)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.svc.Submit(ctx, "agent-1", id)
	require.NoError(t, err)
	assert.True(t, result.Complete)
}

func TestLeadService_RestoresSweptSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())
	_, err := f.svc.CreateLead(ctx, "agent-1", id)
	require.NoError(t, err)

	f.store.Delete(id)

	v, err := f.svc.Get(ctx, "agent-1", id)
	require.NoError(t, err)
	assert.Equal(t, "L-1", v.LeadID)
	assert.Empty(t, v.Documents, "queued content does not survive")
}

func TestLeadService_Abandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	require.NoError(t, f.svc.Abandon(ctx, "agent-1", id))
	assert.Equal(t, 0, f.store.Len())

	_, err := f.svc.Get(ctx, "agent-1", id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestLeadService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startWithForm(t, "agent-1", testutil.ValidForm())
	f.startWithForm(t, "agent-1", testutil.ValidForm())
	f.startWithForm(t, "agent-2", testutil.ValidForm())

	got, err := f.svc.List(ctx, "agent-1", 20)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLeadService_ConcurrentRestoreKeepsQueuedFiles(t *testing.T) {
	repo := &gatedRepository{MemoryRepository: testutil.NewMemoryRepository()}
	f := newFixtureWith(t, repo, repo.MemoryRepository)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())

	f.store.Delete(id)
	repo.arrived = make(chan chan struct{})

	addDone := make(chan *service.AddDocumentsResult, 1)
	go func() {
		res, err := f.svc.AddDocuments(ctx, "agent-1", id, "BANK_STATEMENT", []domain.PickedFile{testutil.PickedFile("a.pdf", 10)})
		assert.NoError(t, err)
		addDone <- res
	}()
	releaseAdd := <-repo.arrived

	getDone := make(chan struct{})
	go func() {
		defer close(getDone)
		_, err := f.svc.Get(ctx, "agent-1", id)
		assert.NoError(t, err)
	}()
	releaseGet := <-repo.arrived

	close(releaseAdd)
	res := <-addDone
	require.NotNil(t, res)
	assert.Empty(t, res.Rejected)

	close(releaseGet)
	<-getDone

	repo.arrived = nil
	v, err := f.svc.Get(ctx, "agent-1", id)
	require.NoError(t, err)
	require.Len(t, v.Documents, 1)
	assert.Equal(t, "a.pdf", v.Documents[0].File.Name)
	assert.Len(t, v.Documents[0].File.Data, 10)
}

func TestLeadService_AbandonWaitsForSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startWithForm(t, "agent-1", testutil.ValidForm())
	_, err := f.svc.CreateLead(ctx, "agent-1", id)
	require.NoError(t, err)
	for _, name := range []string{"b1.pdf", "b2.pdf"} {
		_, err := f.svc.AddDocuments(ctx, "agent-1", id, "BANK_STATEMENT", []domain.PickedFile{testutil.PickedFile(name, 10)})
		require.NoError(t, err)
	}

	f.gw.block = make(chan struct{})
	done := make(chan domain.SubmissionResult, 1)
	go func() {
		result, err := f.svc.Submit(ctx, "agent-1", id)
		assert.NoError(t, err)
		done <- result
	}()
	require.Eventually(t, func() bool {
		v, err := f.svc.Get(ctx, "agent-1", id)
		return err == nil && v.Submitting
	}, time.Second, 5*time.Millisecond)

	err = f.svc.Abandon(ctx, "agent-1", id)
	assert.True(t, apperrors.Is(err, apperrors.ErrSubmitInFlight))

	close(f.gw.block)
	result := <-done
	assert.True(t, result.Complete)
	assert.Equal(t, 2, result.Uploaded)

	require.NoError(t, f.svc.Abandon(ctx, "agent-1", id))
	assert.Zero(t, f.store.Len())
}
