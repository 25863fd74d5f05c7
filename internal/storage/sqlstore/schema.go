package sqlstore

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS routes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	route_id INTEGER NOT NULL,
	lat REAL,
	lon REAL,
	year INTEGER,
	material TEXT,
	location_state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (route_id) REFERENCES routes(id)
);
CREATE INDEX IF NOT EXISTS idx_assets_route ON assets(route_id);
CREATE INDEX IF NOT EXISTS idx_assets_state ON assets(location_state);

CREATE TABLE IF NOT EXISTS inspection_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER NOT NULL UNIQUE,
	asset_id INTEGER NOT NULL,
	method TEXT NOT NULL,
	event_date INTEGER NOT NULL,
	temperature REAL,
	humidity REAL,
	illumination REAL,
	defect_found INTEGER NOT NULL DEFAULT 0,
	defect_description TEXT NOT NULL DEFAULT '',
	param1 REAL,
	param2 REAL,
	param3 REAL,
	quality_grade TEXT,
	label TEXT,
	batch_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (asset_id) REFERENCES assets(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_asset ON inspection_events(asset_id);
CREATE INDEX IF NOT EXISTS idx_events_label ON inspection_events(label);
CREATE INDEX IF NOT EXISTS idx_events_batch ON inspection_events(batch_id);

CREATE TABLE IF NOT EXISTS prediction_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_external_id INTEGER,
	label TEXT NOT NULL,
	strategy TEXT NOT NULL,
	model_version TEXT NOT NULL DEFAULT '',
	prob_normal REAL,
	prob_medium REAL,
	prob_high REAL,
	feature_hash TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_event ON prediction_logs(event_external_id);

CREATE TABLE IF NOT EXISTS model_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	version TEXT NOT NULL UNIQUE,
	sequence INTEGER NOT NULL,
	samples INTEGER NOT NULL,
	metrics BLOB NOT NULL,
	encoder BLOB NOT NULL,
	scaler BLOB NOT NULL,
	forest BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS routes (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id BIGSERIAL PRIMARY KEY,
	external_id BIGINT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	route_id BIGINT NOT NULL REFERENCES routes(id),
	lat DOUBLE PRECISION,
	lon DOUBLE PRECISION,
	year INTEGER,
	material TEXT,
	location_state TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_route ON assets(route_id);
CREATE INDEX IF NOT EXISTS idx_assets_state ON assets(location_state);

CREATE TABLE IF NOT EXISTS inspection_events (
	id BIGSERIAL PRIMARY KEY,
	external_id BIGINT NOT NULL UNIQUE,
	asset_id BIGINT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	method TEXT NOT NULL,
	event_date BIGINT NOT NULL,
	temperature DOUBLE PRECISION,
	humidity DOUBLE PRECISION,
	illumination DOUBLE PRECISION,
	defect_found BOOLEAN NOT NULL DEFAULT FALSE,
	defect_description TEXT NOT NULL DEFAULT '',
	param1 DOUBLE PRECISION,
	param2 DOUBLE PRECISION,
	param3 DOUBLE PRECISION,
	quality_grade TEXT,
	label TEXT,
	batch_id TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_asset ON inspection_events(asset_id);
CREATE INDEX IF NOT EXISTS idx_events_label ON inspection_events(label);
CREATE INDEX IF NOT EXISTS idx_events_batch ON inspection_events(batch_id);

CREATE TABLE IF NOT EXISTS prediction_logs (
	id BIGSERIAL PRIMARY KEY,
	event_external_id BIGINT,
	label TEXT NOT NULL,
	strategy TEXT NOT NULL,
	model_version TEXT NOT NULL DEFAULT '',
	prob_normal DOUBLE PRECISION,
	prob_medium DOUBLE PRECISION,
	prob_high DOUBLE PRECISION,
	feature_hash TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_event ON prediction_logs(event_external_id);

CREATE TABLE IF NOT EXISTS model_snapshots (
	id BIGSERIAL PRIMARY KEY,
	version TEXT NOT NULL UNIQUE,
	sequence BIGINT NOT NULL,
	samples INTEGER NOT NULL,
	metrics BYTEA NOT NULL,
	encoder BYTEA NOT NULL,
	scaler BYTEA NOT NULL,
	forest BYTEA NOT NULL,
	created_at BIGINT NOT NULL
);
`
