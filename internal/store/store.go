package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; concurrent memo writes queue instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		question TEXT NOT NULL,
		translations TEXT NOT NULL DEFAULT '{}',
		re_translations TEXT NOT NULL DEFAULT '{}',
		UNIQUE(topic_id, name),
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS answers (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		model TEXT NOT NULL,
		temperature REAL NOT NULL,
		max_tokens INTEGER NOT NULL,
		rating_last BOOLEAN NOT NULL,
		answer_english BOOLEAN NOT NULL,
		question_english BOOLEAN NOT NULL,
		prompts TEXT NOT NULL DEFAULT '{}',
		prefixes TEXT NOT NULL DEFAULT '{}',
		formats TEXT NOT NULL DEFAULT '{}',
		prefixes_retranslated TEXT NOT NULL DEFAULT '{}',
		formats_retranslated TEXT NOT NULL DEFAULT '{}',
		answers TEXT NOT NULL DEFAULT '{}',
		ratings TEXT NOT NULL DEFAULT '{}',
		translations TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS setups (
		id TEXT PRIMARY KEY,
		topic_id TEXT NOT NULL,
		name TEXT NOT NULL,
		model TEXT NOT NULL,
		temperature REAL NOT NULL,
		max_tokens INTEGER NOT NULL,
		rating_last BOOLEAN NOT NULL,
		answer_english BOOLEAN NOT NULL,
		question_english BOOLEAN NOT NULL,
		stats TEXT,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	-- translation_cache memoises translations by exact (text, target, model)
	CREATE TABLE IF NOT EXISTS translation_cache (
		source_text TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		model TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		usage_count INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_text, target_lang, model)
	);

	-- format_cache stores translated prompt formats per configuration hash
	CREATE TABLE IF NOT EXISTS format_cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic_id, number);
	CREATE INDEX IF NOT EXISTS idx_answers_lookup ON answers(topic_id, question_id, model);
	CREATE INDEX IF NOT EXISTS idx_setups_topic ON setups(topic_id, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
