package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/queue"
	"github.com/leadflow/leadflow-backend/internal/lead/workflow"
	"github.com/leadflow/leadflow-backend/pkg/config"
	apperrors "github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/leadflow/leadflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway records calls and fails uploads for names in failOn.
type fakeGateway struct {
	mu          sync.Mutex
	leadID      string
	createErr   error
	createCalls int
	uploads     []string
	failOn      map[string]bool
	block       chan struct{}
}

func (g *fakeGateway) CreateLead(ctx context.Context, form domain.FormState) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return "", g.createErr
	}
	return g.leadID, nil
}

func (g *fakeGateway) UploadDocument(ctx context.Context, leadID string, file domain.QueuedFile) error {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, file.File.Name)
	if g.failOn[file.File.Name] {
		return fmt.Errorf("upstream rejected %s", file.File.Name)
	}
	return nil
}

func (g *fakeGateway) uploaded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.uploads...)
}

type recordingListener struct {
	mu        sync.Mutex
	created   int
	uploads   []string
	completed int
}

func (l *recordingListener) LeadCreated(ctx context.Context, s *domain.LeadSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created++
}

func (l *recordingListener) DocumentUploaded(ctx context.Context, s *domain.LeadSession, f domain.QueuedFile, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uploads = append(l.uploads, fmt.Sprintf("%s:%s", f.File.Name, f.Status))
}

func (l *recordingListener) SubmissionCompleted(ctx context.Context, s *domain.LeadSession, r domain.SubmissionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed++
}

func newSession(form domain.FormState) *domain.LeadSession {
	s := domain.NewLeadSession("s-1", "u-1", time.Now())
	s.Form = form
	return s
}

func sessionWithLead() *domain.LeadSession {
	s := newSession(testutil.ValidForm())
	_ = s.AttachLead("L-1", time.Now())
	return s
}

func threeFileQueue() *queue.Queue {
	q := queue.New(config.DefaultMaxFileSize)
	q.AddFiles("PAN_CARD", "PAN Card", false, []domain.PickedFile{testutil.PickedFile("file1.pdf", 10)})
	q.AddFiles("BANK_STATEMENT", "Bank Statement", true, []domain.PickedFile{
		testutil.PickedFile("file2.pdf", 10),
		testutil.PickedFile("file3.pdf", 10),
	})
	return q
}

func statuses(q *queue.Queue) []domain.FileStatus {
	var out []domain.FileStatus
	for _, e := range q.Snapshot() {
		out = append(out, e.Status)
	}
	return out
}

func TestCreateLead_EndToEnd(t *testing.T) {
	gw := &fakeGateway{leadID: "L-500"}
	listener := &recordingListener{}
	o := workflow.New(gw, workflow.Options{Listeners: []workflow.Listener{listener}}, logger.Nop())
	session := newSession(testutil.ValidForm())

	id, err := o.CreateLead(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, "L-500", id)
	assert.Equal(t, 1, gw.createCalls)
	assert.Equal(t, domain.StepDocuments, session.Step)
	assert.Equal(t, "L-500", session.LeadID)
	assert.Equal(t, 1, listener.created)
}

func TestCreateLead_InvalidFormSkipsGateway(t *testing.T) {
	gw := &fakeGateway{leadID: "L-1"}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())
	session := newSession(testutil.ValidForm().With(domain.FieldPhone, "12"))

	_, err := o.CreateLead(context.Background(), session)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Contains(t, appErr.Details, domain.FieldPhone)
	assert.Zero(t, gw.createCalls)
	assert.Equal(t, domain.StepDetails, session.Step)
}

func TestCreateLead_GatewayFailureIsRetryable(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("connection reset")}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())
	session := newSession(testutil.ValidForm())

	_, err := o.CreateLead(context.Background(), session)

	assert.True(t, apperrors.Is(err, apperrors.ErrLeadCreation))
	assert.False(t, session.HasLead())
	assert.Equal(t, domain.StepDetails, session.Step)

	gw.createErr = nil
	gw.leadID = "L-2"
	id, err := o.CreateLead(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "L-2", id)
	assert.Equal(t, 2, gw.createCalls)
}

func TestCreateLead_ExistingLeadIsReturned(t *testing.T) {
	gw := &fakeGateway{leadID: "other"}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())
	session := sessionWithLead()

	id, err := o.CreateLead(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, "L-1", id)
	assert.Zero(t, gw.createCalls)
}

func TestSubmitDocuments_AllSucceed(t *testing.T) {
	gw := &fakeGateway{}
	listener := &recordingListener{}
	o := workflow.New(gw, workflow.Options{Listeners: []workflow.Listener{listener}}, logger.Nop())
	q := threeFileQueue()

	result, err := o.SubmitDocuments(context.Background(), sessionWithLead(), q)

	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 3, result.Uploaded)
	assert.Equal(t, []string{"file1.pdf", "file2.pdf", "file3.pdf"}, gw.uploaded())
	assert.Equal(t, []domain.FileStatus{domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusSucceeded}, statuses(q))
	assert.Equal(t, 1, listener.completed)
	assert.Len(t, listener.uploads, 3)
}

func TestSubmitDocuments_HaltsOnFirstFailureAndResumes(t *testing.T) {
	gw := &fakeGateway{failOn: map[string]bool{"file2.pdf": true}}
	listener := &recordingListener{}
	o := workflow.New(gw, workflow.Options{Listeners: []workflow.Listener{listener}}, logger.Nop())
	session := sessionWithLead()
	q := threeFileQueue()

	result, err := o.SubmitDocuments(context.Background(), session, q)

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "DOCUMENT_UPLOAD_FAILED", appErr.Code)
	assert.Equal(t, "Bank Statement", appErr.Details["document"])
	assert.Equal(t, "file2.pdf", appErr.Details["file"])

	assert.False(t, result.Complete)
	require.NotNil(t, result.Failed)
	assert.Equal(t, "file2.pdf", result.Failed.File.Name)
	assert.Equal(t, []domain.FileStatus{domain.StatusSucceeded, domain.StatusFailed, domain.StatusPending}, statuses(q))
	assert.Equal(t, []string{"file1.pdf", "file2.pdf"}, gw.uploaded())
	assert.Zero(t, listener.completed)

	// resume: file1 is skipped, file2 and file3 are attempted in order
	gw.failOn = nil
	result, err = o.SubmitDocuments(context.Background(), session, q)

	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, []string{"file1.pdf", "file2.pdf", "file2.pdf", "file3.pdf"}, gw.uploaded())
	assert.Equal(t, []domain.FileStatus{domain.StatusSucceeded, domain.StatusSucceeded, domain.StatusSucceeded}, statuses(q))
	assert.Equal(t, 1, listener.completed)
}

func TestSubmitDocuments_RequiresLead(t *testing.T) {
	gw := &fakeGateway{}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())

	_, err := o.SubmitDocuments(context.Background(), newSession(testutil.ValidForm()), threeFileQueue())

	assert.True(t, apperrors.Is(err, apperrors.ErrLeadMissing))
	assert.Empty(t, gw.uploaded())
}

func TestSubmitDocuments_EmptyQueue(t *testing.T) {
	gw := &fakeGateway{}

	t.Run("succeeds by default", func(t *testing.T) {
		o := workflow.New(gw, workflow.Options{}, logger.Nop())
		result, err := o.SubmitDocuments(context.Background(), sessionWithLead(), queue.New(config.DefaultMaxFileSize))
		require.NoError(t, err)
		assert.True(t, result.Complete)
		assert.Zero(t, result.Uploaded)
	})

	t.Run("rejected when documents are required", func(t *testing.T) {
		o := workflow.New(gw, workflow.Options{RequireDocuments: true}, logger.Nop())
		_, err := o.SubmitDocuments(context.Background(), sessionWithLead(), queue.New(config.DefaultMaxFileSize))
		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "DOCUMENTS_REQUIRED", appErr.Code)
	})
}

func TestSubmitDocuments_RejectsOverlappingRuns(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())
	session := sessionWithLead()
	q := threeFileQueue()

	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitDocuments(context.Background(), session, q)
		done <- err
	}()

	require.Eventually(t, func() bool { return o.InFlight(session.ID) }, time.Second, 5*time.Millisecond)

	_, err := o.SubmitDocuments(context.Background(), session, q)
	assert.True(t, apperrors.Is(err, apperrors.ErrSubmitInFlight))

	close(gw.block)
	require.NoError(t, <-done)
	assert.False(t, o.InFlight(session.ID))
	assert.Equal(t, []string{"file1.pdf", "file2.pdf", "file3.pdf"}, gw.uploaded())
}

func TestExclusive_BlocksSubmissionBothWays(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	o := workflow.New(gw, workflow.Options{}, logger.Nop())
	session := sessionWithLead()
	q := threeFileQueue()

	t.Run("submission cannot start inside fn", func(t *testing.T) {
		var submitErr error
		err := o.Exclusive(session.ID, func() {
			_, submitErr = o.SubmitDocuments(context.Background(), session, q)
		})
		require.NoError(t, err)
		assert.True(t, apperrors.Is(submitErr, apperrors.ErrSubmitInFlight))
		assert.False(t, o.InFlight(session.ID), "slot released after fn")
	})

	t.Run("fn does not run while a submission is running", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := o.SubmitDocuments(context.Background(), session, q)
			done <- err
		}()
		require.Eventually(t, func() bool { return o.InFlight(session.ID) }, time.Second, 5*time.Millisecond)

		ran := false
		err := o.Exclusive(session.ID, func() { ran = true })
		assert.True(t, apperrors.Is(err, apperrors.ErrSubmitInFlight))
		assert.False(t, ran)

		close(gw.block)
		require.NoError(t, <-done)
	})
}

// removingGateway drops a queue entry while the first upload is running.
type removingGateway struct {
	q      *queue.Queue
	key    string
	name   string
	called int
}

func (g *removingGateway) CreateLead(ctx context.Context, form domain.FormState) (string, error) {
	return "L-1", nil
}

func (g *removingGateway) UploadDocument(ctx context.Context, leadID string, file domain.QueuedFile) error {
	if g.called == 0 {
		g.q.RemoveFile(g.key, g.name)
	}
	g.called++
	return nil
}

func TestSubmitDocuments_LogsEntriesGoneMidRun(t *testing.T) {
	var buf bytes.Buffer
	q := threeFileQueue()
	gw := &removingGateway{q: q, key: "BANK_STATEMENT", name: "file3.pdf"}
	o := workflow.New(gw, workflow.Options{}, logger.NewWithWriter("test", &buf))

	result, err := o.SubmitDocuments(context.Background(), sessionWithLead(), q)
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, 2, gw.called)
	assert.Contains(t, buf.String(), "queue entry gone before upload")
}
