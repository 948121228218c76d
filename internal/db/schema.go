package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- SESSION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS business_name ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS business_description ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS current_bucket ON session TYPE string;
    -- Per-analyzer high-water marks of processed message sequence numbers
    DEFINE FIELD IF NOT EXISTS watermarks ON session TYPE option<object> FLEXIBLE;
    -- Monotonic message sequence counter, bumped on every append
    DEFINE FIELD IF NOT EXISTS next_seq ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON session TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON session TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session ON message TYPE record<session>;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON message TYPE int;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_session_seq ON message FIELDS session, seq UNIQUE;

    -- ==========================================================================
    -- PROFILE_FIELD TABLE
    -- ==========================================================================
    -- One row per (session, slot); record IDs are [session, slot] arrays so
    -- writes are natural upserts
    DEFINE TABLE IF NOT EXISTS profile_field SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session ON profile_field TYPE record<session>;
    DEFINE FIELD IF NOT EXISTS slot ON profile_field TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON profile_field FLEXIBLE TYPE any;
    DEFINE FIELD IF NOT EXISTS confidence ON profile_field TYPE string ASSERT $value IN ["low", "medium", "high"];
    DEFINE FIELD IF NOT EXISTS updated_at ON profile_field TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS profile_field_slot ON profile_field FIELDS session, slot UNIQUE;

    -- ==========================================================================
    -- PIPELINE_JOB TABLE (ops inspection; admission lives in memory)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS pipeline_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session ON pipeline_job TYPE string;
    DEFINE FIELD IF NOT EXISTS analyzer_key ON pipeline_job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON pipeline_job TYPE string ASSERT $value IN ["queued", "running", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS bucket ON pipeline_job TYPE string;
    DEFINE FIELD IF NOT EXISTS result ON pipeline_job TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON pipeline_job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON pipeline_job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completed_at ON pipeline_job TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS pipeline_job_session ON pipeline_job FIELDS session;

    -- ==========================================================================
    -- ANALYSIS TABLE (audit trail of analyzer prose)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS analysis SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session ON analysis TYPE string;
    DEFINE FIELD IF NOT EXISTS analyzer ON analysis TYPE string;
    DEFINE FIELD IF NOT EXISTS prose ON analysis TYPE string;
    DEFINE FIELD IF NOT EXISTS input_messages ON analysis TYPE int;
    DEFINE FIELD IF NOT EXISTS created_at ON analysis TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS analysis_session ON analysis FIELDS session;
`
