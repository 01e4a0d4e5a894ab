package sqlite

const (
	// SchemaVersion is the version of the SQLite schema understood by this backend.
	// Whenever changes to the schema are made, this version number should be increased
	// to prevent data corruption between incompatible database schemas.
	SchemaVersion = 1
	// Schema is the SQLite database layout.
	Schema = `
	CREATE TABLE trust_anchor(
		id INTEGER PRIMARY KEY CHECK (id = 0),
		content DATA NOT NULL
	);
	CREATE TABLE intermediates(
		ski_aki TEXT NOT NULL PRIMARY KEY,
		content DATA NOT NULL
	);
	CREATE TABLE crls(
		distribution_point TEXT NOT NULL PRIMARY KEY,
		content DATA NOT NULL
	);
	`
)
