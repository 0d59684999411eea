package sqlite

const schema = `
-- Catalog entities
CREATE TABLE IF NOT EXISTS avatars (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    photo_data BLOB NOT NULL,
    info_data TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS information_copies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    wav_data BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    request_data TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Groups and membership relations (membership is unordered)
CREATE TABLE IF NOT EXISTS avatar_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS avatar_group_members (
    group_id INTEGER NOT NULL REFERENCES avatar_groups(id) ON DELETE CASCADE,
    avatar_id INTEGER NOT NULL REFERENCES avatars(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, avatar_id)
);

CREATE TABLE IF NOT EXISTS ic_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS ic_group_members (
    group_id INTEGER NOT NULL REFERENCES ic_groups(id) ON DELETE CASCADE,
    ic_id INTEGER NOT NULL REFERENCES information_copies(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, ic_id)
);

CREATE TABLE IF NOT EXISTS request_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS request_group_members (
    group_id INTEGER NOT NULL REFERENCES request_groups(id) ON DELETE CASCADE,
    request_id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, request_id)
);

-- Sessions: two-level tree. A parent row (is_group_session=1) bookkeeps a
-- group operation; leaves map one-to-one to worker processes. Entity
-- references cascade (removing an entity removes its sessions); group
-- references null out so a parent survives its group's deletion.
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_session_id INTEGER REFERENCES sessions(id) ON DELETE CASCADE,
    is_group_session INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    avatar_id INTEGER REFERENCES avatars(id) ON DELETE CASCADE,
    ic_id INTEGER REFERENCES information_copies(id) ON DELETE CASCADE,
    request_id INTEGER REFERENCES requests(id) ON DELETE CASCADE,
    destination_avatar_id INTEGER REFERENCES avatars(id) ON DELETE CASCADE,
    avatar_group_id INTEGER REFERENCES avatar_groups(id) ON DELETE SET NULL,
    ic_group_id INTEGER REFERENCES ic_groups(id) ON DELETE SET NULL,
    request_group_id INTEGER REFERENCES request_groups(id) ON DELETE SET NULL,
    session_type TEXT NOT NULL,
    start_time DATETIME NOT NULL,
    end_time DATETIME,
    status TEXT NOT NULL DEFAULT 'scheduled',
    worker_pid INTEGER,
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    -- parents never have grandparents
    CHECK (is_group_session = 0 OR parent_session_id IS NULL),
    -- worker_pid is set iff the session is running
    CHECK ((status = 'running') = (worker_pid IS NOT NULL) OR is_group_session = 1)
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_avatar ON sessions(avatar_id);
CREATE INDEX IF NOT EXISTS idx_sessions_dest_avatar ON sessions(destination_avatar_id);
CREATE INDEX IF NOT EXISTS idx_sessions_avatar_group ON sessions(avatar_group_id);
CREATE INDEX IF NOT EXISTS idx_sessions_ic_group ON sessions(ic_group_id);
CREATE INDEX IF NOT EXISTS idx_sessions_request_group ON sessions(request_group_id);
`

// dropSchema tears everything down, children first. Used only by the
// destructive bootstrap.
const dropSchema = `
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS avatar_group_members;
DROP TABLE IF EXISTS ic_group_members;
DROP TABLE IF EXISTS request_group_members;
DROP TABLE IF EXISTS avatar_groups;
DROP TABLE IF EXISTS ic_groups;
DROP TABLE IF EXISTS request_groups;
DROP TABLE IF EXISTS avatars;
DROP TABLE IF EXISTS information_copies;
DROP TABLE IF EXISTS requests;
`
