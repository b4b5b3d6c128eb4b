package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/valpere/llmvalues/internal/query"
	"github.com/valpere/llmvalues/internal/translator"
)

// Get implements translator.Memo. Keys match exactly; no normalisation.
func (s *Store) Get(ctx context.Context, key translator.MemoKey) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM translation_cache WHERE source_text = ? AND target_lang = ? AND model = ?`,
		key.Text, key.Target, key.Model).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_cache SET usage_count = usage_count + 1, last_used = ?
		 WHERE source_text = ? AND target_lang = ? AND model = ?`,
		time.Now(), key.Text, key.Target, key.Model)
	return text, true, err
}

// Put is idempotent by key, so concurrent writers at worst duplicate work.
func (s *Store) Put(ctx context.Context, key translator.MemoKey, value string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translation_cache (source_text, target_lang, model, translated_text, usage_count, created_at, last_used)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		key.Text, key.Target, key.Model, value, now, now)
	return err
}

// MemoEntry is a row of the translation memo.
type MemoEntry struct {
	SourceText     string
	TargetLang     string
	Model          string
	TranslatedText string
	UsageCount     int
	LastUsed       time.Time
}

type MemoStats struct {
	TotalEntries int
	TotalUsage   int
	Languages    int
	Formats      int
}

// ListMemo returns memo entries, most recently used first. limit <= 0 means all.
func (s *Store) ListMemo(ctx context.Context, limit int) ([]MemoEntry, error) {
	query := `SELECT source_text, target_lang, model, translated_text, usage_count, last_used
		FROM translation_cache ORDER BY last_used DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []MemoEntry
	for rows.Next() {
		var e MemoEntry
		if err := rows.Scan(&e.SourceText, &e.TargetLang, &e.Model, &e.TranslatedText, &e.UsageCount, &e.LastUsed); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) MemoStats(ctx context.Context) (*MemoStats, error) {
	stats := &MemoStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(usage_count), 0), COUNT(DISTINCT target_lang)
		FROM translation_cache`).Scan(&stats.TotalEntries, &stats.TotalUsage, &stats.Languages)
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM format_cache`).Scan(&stats.Formats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ClearMemo empties the translation memo and the format cache built from it.
func (s *Store) ClearMemo(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM format_cache`); err != nil {
		return n, err
	}
	return n, nil
}

// GetFormats implements query.FormatCache.
func (s *Store) GetFormats(ctx context.Context, key string) (*query.Formats, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM format_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f query.Formats
	if err := decode(value, &f); err != nil {
		return nil, false, err
	}
	return &f, true, nil
}

func (s *Store) PutFormats(ctx context.Context, key string, f *query.Formats) error {
	value, err := encode(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO format_cache (key, value, created_at) VALUES (?, ?, ?)`,
		key, value, time.Now())
	return err
}

// DeleteMemoLanguage drops every memoised translation into lang.
func (s *Store) DeleteMemoLanguage(ctx context.Context, lang string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache WHERE target_lang = ?`, lang)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
