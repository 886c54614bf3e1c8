package postgres

// schema is applied by Open. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS eventpipe_jobs (
    queue            TEXT        NOT NULL,
    id               TEXT        NOT NULL,
    seq              BIGSERIAL,
    state            TEXT        NOT NULL,
    attempts         INT         NOT NULL DEFAULT 0,
    options          JSONB       NOT NULL,
    payload          BYTEA       NOT NULL,
    last_error       TEXT        NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    ready_at         TIMESTAMPTZ NOT NULL,
    lease_token      TEXT        NOT NULL DEFAULT '',
    lease_expires_at TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    PRIMARY KEY (queue, id)
);
CREATE INDEX IF NOT EXISTS eventpipe_jobs_ready_idx
    ON eventpipe_jobs (queue, ready_at, seq) WHERE state IN ('waiting', 'retrying');
CREATE INDEX IF NOT EXISTS eventpipe_jobs_lease_idx
    ON eventpipe_jobs (queue, lease_expires_at) WHERE state = 'active';
CREATE INDEX IF NOT EXISTS eventpipe_jobs_failed_idx
    ON eventpipe_jobs (queue, finished_at, seq) WHERE state = 'failed';
`

const jobColumns = `id, state, attempts, options, payload, last_error, created_at, updated_at, ready_at, lease_token, lease_expires_at, finished_at`
