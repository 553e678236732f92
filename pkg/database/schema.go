package database

// Schema holds the DDL for the lead tables, applied in order by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS lead_sessions (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		lead_id     TEXT,
		step        TEXT NOT NULL DEFAULT 'details',
		form_data   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT lead_sessions_step_valid CHECK (step IN ('details', 'documents')),
		CONSTRAINT lead_sessions_lead_id_unique UNIQUE (lead_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_sessions_user ON lead_sessions (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS lead_document_uploads (
		id            UUID PRIMARY KEY,
		session_id    UUID NOT NULL REFERENCES lead_sessions(id) ON DELETE CASCADE,
		lead_id       TEXT NOT NULL,
		document_key  TEXT NOT NULL,
		file_name     TEXT NOT NULL,
		size_bytes    BIGINT NOT NULL,
		status        TEXT NOT NULL,
		error         TEXT,
		attempted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT lead_document_uploads_status_valid CHECK (status IN ('succeeded', 'failed'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_document_uploads_session ON lead_document_uploads (session_id, attempted_at)`,
}
