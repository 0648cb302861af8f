package db

// Times are unix seconds. On activities 0 means unset; on overrides NULL
// means unset and 0 means "no bound".
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS activities (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  type TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  time_open INTEGER NOT NULL DEFAULT 0,
  time_close INTEGER NOT NULL DEFAULT 0,
  time_limit INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS activities_course ON activities(course_id);

CREATE TABLE IF NOT EXISTS enrolments (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  course_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  UNIQUE (course_id, user_id)
);

CREATE TABLE IF NOT EXISTS course_groups (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  course_id TEXT NOT NULL,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
  group_id TEXT NOT NULL REFERENCES course_groups(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS overrides (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  activity_id TEXT NOT NULL,
  user_id TEXT,
  group_id TEXT,
  time_open INTEGER,
  time_close INTEGER,
  time_limit INTEGER,
  UNIQUE (activity_id, user_id),
  UNIQUE (activity_id, group_id)
);

CREATE TABLE IF NOT EXISTS extension_history (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  activity_id TEXT NOT NULL,
  extension_minutes INTEGER NOT NULL,
  applied_at INTEGER NOT NULL,
  applied_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS extension_history_activity ON extension_history(activity_id, seq);

CREATE TABLE IF NOT EXISTS override_audit (
  activity_id TEXT NOT NULL,
  override_id TEXT NOT NULL,
  extension_minutes INTEGER NOT NULL,
  original_snapshot TEXT,
  modified_by TEXT NOT NULL DEFAULT '',
  modified_at INTEGER NOT NULL,
  PRIMARY KEY (activity_id, override_id)
);

CREATE TABLE IF NOT EXISTS course_guard (
  course_id TEXT PRIMARY KEY,
  marked_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS role_assignments (
  course_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  assigned_at INTEGER NOT NULL,
  PRIMARY KEY (course_id, user_id, role)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS activities (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL,
  type TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  time_open BIGINT NOT NULL DEFAULT 0,
  time_close BIGINT NOT NULL DEFAULT 0,
  time_limit BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS activities_course ON activities(course_id);

CREATE TABLE IF NOT EXISTS enrolments (
  seq BIGSERIAL PRIMARY KEY,
  course_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  UNIQUE (course_id, user_id)
);

CREATE TABLE IF NOT EXISTS course_groups (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  course_id TEXT NOT NULL,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
  group_id TEXT NOT NULL REFERENCES course_groups(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS overrides (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  activity_id TEXT NOT NULL,
  user_id TEXT,
  group_id TEXT,
  time_open BIGINT,
  time_close BIGINT,
  time_limit BIGINT,
  UNIQUE (activity_id, user_id),
  UNIQUE (activity_id, group_id)
);

CREATE TABLE IF NOT EXISTS extension_history (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  activity_id TEXT NOT NULL,
  extension_minutes INTEGER NOT NULL,
  applied_at BIGINT NOT NULL,
  applied_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS extension_history_activity ON extension_history(activity_id, seq);

CREATE TABLE IF NOT EXISTS override_audit (
  activity_id TEXT NOT NULL,
  override_id TEXT NOT NULL,
  extension_minutes INTEGER NOT NULL,
  original_snapshot TEXT,
  modified_by TEXT NOT NULL DEFAULT '',
  modified_at BIGINT NOT NULL,
  PRIMARY KEY (activity_id, override_id)
);

CREATE TABLE IF NOT EXISTS course_guard (
  course_id TEXT PRIMARY KEY,
  marked_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS role_assignments (
  course_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  assigned_at BIGINT NOT NULL,
  PRIMARY KEY (course_id, user_id, role)
);
`
