//go:build integration

package repository_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/repository"
	"github.com/leadflow/leadflow-backend/pkg/database"
	"github.com/leadflow/leadflow-backend/pkg/errors"
	"github.com/leadflow/leadflow-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	container *testutil.PostgresContainer
	db        *database.DB
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	container, err = testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	db, err = container.ConnectMigrated(ctx)
	if err != nil {
		container.Terminate(ctx)
		log.Fatalf("migrate: %v", err)
	}

	code := m.Run()

	db.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	require.NoError(t, container.Truncate(ctx, db))

	sessions := repository.NewSessionRepository(db)
	uploads := repository.NewUploadRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	s := domain.NewLeadSession(uuid.NewString(), "agent-1", now)
	s.Form = testutil.ValidForm()
	require.NoError(t, sessions.Create(ctx, s))

	require.NoError(t, s.AttachLead("L-42", now.Add(time.Second)))
	require.NoError(t, sessions.Update(ctx, s))

	loaded, err := sessions.Get(ctx, s.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "L-42", loaded.LeadID)
	assert.Equal(t, domain.StepDocuments, loaded.Step)
	assert.Equal(t, s.Form, loaded.Form)

	_, err = sessions.Get(ctx, s.ID, "agent-2")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "sessions are scoped to their owner")

	for _, status := range []domain.FileStatus{domain.StatusFailed, domain.StatusSucceeded} {
		require.NoError(t, uploads.Record(ctx, &domain.UploadRecord{
			SessionID:   s.ID,
			LeadID:      "L-42",
			DocumentKey: "PAN_CARD",
			FileName:    "pan.pdf",
			SizeBytes:   100,
			Status:      status,
			AttemptedAt: time.Now(),
		}))
	}

	records, err := uploads.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.StatusFailed, records[0].Status)
	assert.Equal(t, domain.StatusSucceeded, records[1].Status)

	require.NoError(t, sessions.Delete(ctx, s.ID, "agent-1"))
	records, err = uploads.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "audit rows cascade with the session")
}

func TestIntegration_LeadIDIsUnique(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	require.NoError(t, container.Truncate(ctx, db))
	sessions := repository.NewSessionRepository(db)

	for i, want := range []error{nil, errors.ErrConflict} {
		s := domain.NewLeadSession(uuid.NewString(), "agent-1", time.Now())
		require.NoError(t, s.AttachLead("L-dup", time.Now()))
		err := sessions.Create(ctx, s)
		if want == nil {
			require.NoError(t, err, "insert %d", i)
		} else {
			assert.True(t, errors.Is(err, want), "insert %d: %v", i, err)
		}
	}
}

func TestIntegration_UploadForUnknownSession(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	uploads := repository.NewUploadRepository(db)

	err := uploads.Record(ctx, &domain.UploadRecord{
		SessionID:   uuid.NewString(),
		LeadID:      "L-1",
		DocumentKey: "PAN_CARD",
		FileName:    "pan.pdf",
		Status:      domain.StatusSucceeded,
		AttemptedAt: time.Now(),
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
