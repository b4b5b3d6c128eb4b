package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/llmvalues/internal"
)

// UpsertTopic creates the topic or refreshes its description and alias, and
// sets t.ID to the stored id.
func (s *Store) UpsertTopic(ctx context.Context, t *internal.Topic) error {
	existing, err := s.GetTopic(ctx, t.Name)
	switch {
	case err == nil:
		t.ID = existing.ID
		if t.Description == "" {
			t.Description = existing.Description
		}
		if t.Filename == "" {
			t.Filename = existing.Filename
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE topics SET description = ?, filename = ? WHERE id = ?`,
			t.Description, t.Filename, t.ID)
		return err
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topics (id, name, filename, description) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Filename, t.Description)
	return err
}

// GetTopic looks a topic up by name, then by filename alias.
func (s *Store) GetTopic(ctx context.Context, nameOrAlias string) (*internal.Topic, error) {
	var t internal.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, filename, description FROM topics
		 WHERE name = ? OR (filename != '' AND filename = ?)
		 ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END LIMIT 1`,
		nameOrAlias, nameOrAlias, nameOrAlias).Scan(&t.ID, &t.Name, &t.Filename, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %q: %w", nameOrAlias, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTopicByID(ctx context.Context, id string) (*internal.Topic, error) {
	var t internal.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, filename, description FROM topics WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Filename, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTopics(ctx context.Context) ([]internal.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, filename, description FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []internal.Topic
	for rows.Next() {
		var t internal.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Filename, &t.Description); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// DeleteTopic removes a topic with its questions, answers and setups.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM answers WHERE topic_id = ?`,
		`DELETE FROM setups WHERE topic_id = ?`,
		`DELETE FROM questions WHERE topic_id = ?`,
		`DELETE FROM topics WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertQuestion inserts q or replaces its mutable fields, keyed by id.
func (s *Store) UpsertQuestion(ctx context.Context, q *internal.Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	translations, err := encode(q.Translations)
	if err != nil {
		return err
	}
	reTranslations, err := encode(q.ReTranslations)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, topic_id, number, name, description, mode, question, translations, re_translations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			description = excluded.description,
			mode = excluded.mode,
			question = excluded.question,
			translations = excluded.translations,
			re_translations = excluded.re_translations`,
		q.ID, q.TopicID, q.Number, q.Name, q.Description, string(q.Mode), q.Question, translations, reTranslations)
	return err
}

// ListQuestions returns a topic's questions in display order.
func (s *Store) ListQuestions(ctx context.Context, topicID string) ([]internal.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic_id, number, name, description, mode, question, translations, re_translations
		 FROM questions WHERE topic_id = ? ORDER BY number`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []internal.Question
	for rows.Next() {
		var q internal.Question
		var mode, translations, reTranslations string
		if err := rows.Scan(&q.ID, &q.TopicID, &q.Number, &q.Name, &q.Description, &mode, &q.Question, &translations, &reTranslations); err != nil {
			return nil, err
		}
		q.Mode = internal.Mode(mode)
		if err := decode(translations, &q.Translations); err != nil {
			return nil, fmt.Errorf("question %s translations: %w", q.ID, err)
		}
		if err := decode(reTranslations, &q.ReTranslations); err != nil {
			return nil, fmt.Errorf("question %s re_translations: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

const answerColumns = `id, topic_id, question_id, model, temperature, max_tokens, rating_last, answer_english, question_english,
	prompts, prefixes, formats, prefixes_retranslated, formats_retranslated, answers, ratings, translations, created_at`

func (s *Store) InsertAnswer(ctx context.Context, a *internal.Answer) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	cols := []interface{}{a.Prompts, a.Prefixes, a.Formats, a.PrefixesRetranslated, a.FormatsRetranslated, a.Answers, a.Ratings, a.Translations}
	encoded := make([]interface{}, len(cols))
	for i, c := range cols {
		v, err := encode(c)
		if err != nil {
			return err
		}
		encoded[i] = v
	}

	args := []interface{}{a.ID, a.TopicID, a.QuestionID, a.Model, a.Temperature, a.MaxTokens, a.RatingLast, a.AnswerEnglish, a.QuestionEnglish}
	args = append(args, encoded...)
	args = append(args, a.Timestamp)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (`+answerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	return err
}

func filterClause(f internal.AnswerFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.TopicID != "" {
		conds = append(conds, "topic_id = ?")
		args = append(args, f.TopicID)
	}
	if f.QuestionID != "" {
		conds = append(conds, "question_id = ?")
		args = append(args, f.QuestionID)
	}
	if c := f.Config; c != nil {
		conds = append(conds,
			"model = ?", "temperature = ?", "max_tokens = ?",
			"rating_last = ?", "answer_english = ?", "question_english = ?")
		args = append(args, c.Model, c.Temperature, c.MaxTokens, c.RatingLast, c.AnswerEnglish, c.QuestionEnglish)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindAnswers returns answers matching every set field of filter exactly.
func (s *Store) FindAnswers(ctx context.Context, filter internal.AnswerFilter) ([]internal.Answer, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+answerColumns+` FROM answers`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []internal.Answer
	for rows.Next() {
		var a internal.Answer
		var prompts, prefixes, formats, prefixesRe, formatsRe, answersJSON, ratings, translations string
		if err := rows.Scan(&a.ID, &a.TopicID, &a.QuestionID, &a.Model, &a.Temperature, &a.MaxTokens,
			&a.RatingLast, &a.AnswerEnglish, &a.QuestionEnglish,
			&prompts, &prefixes, &formats, &prefixesRe, &formatsRe, &answersJSON, &ratings, &translations,
			&a.Timestamp); err != nil {
			return nil, err
		}
		for _, col := range []struct {
			data string
			dst  interface{}
		}{
			{prompts, &a.Prompts},
			{prefixes, &a.Prefixes},
			{formats, &a.Formats},
			{prefixesRe, &a.PrefixesRetranslated},
			{formatsRe, &a.FormatsRetranslated},
			{answersJSON, &a.Answers},
			{ratings, &a.Ratings},
			{translations, &a.Translations},
		} {
			if err := decode(col.data, col.dst); err != nil {
				return nil, fmt.Errorf("answer %s: %w", a.ID, err)
			}
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *Store) DeleteAnswers(ctx context.Context, filter internal.AnswerFilter) (int, error) {
	where, args := filterClause(filter)
	if where == "" {
		return 0, fmt.Errorf("refusing to delete answers without a filter")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) UpdateAnswerTranslations(ctx context.Context, id string, translations map[string]string) error {
	encoded, err := encode(translations)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE answers SET translations = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("answer %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddSetup registers a setup for a topic unless one with the same
// configuration exists. It reports whether a row was created and sets su.ID.
func (s *Store) AddSetup(ctx context.Context, su *internal.Setup) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM setups WHERE topic_id = ? AND model = ? AND temperature = ? AND max_tokens = ?
		 AND rating_last = ? AND answer_english = ? AND question_english = ?`,
		su.TopicID, su.Model, su.Temperature, su.MaxTokens, su.RatingLast, su.AnswerEnglish, su.QuestionEnglish).Scan(&id)
	if err == nil {
		su.ID = id
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if su.ID == "" {
		su.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO setups (id, topic_id, name, model, temperature, max_tokens, rating_last, answer_english, question_english)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		su.ID, su.TopicID, su.Name, su.Model, su.Temperature, su.MaxTokens, su.RatingLast, su.AnswerEnglish, su.QuestionEnglish)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListSetups returns setups with the given name; "" or "all" returns every setup.
func (s *Store) ListSetups(ctx context.Context, name string) ([]internal.Setup, error) {
	query := `SELECT id, topic_id, name, model, temperature, max_tokens, rating_last, answer_english, question_english, COALESCE(stats, '') FROM setups`
	var args []interface{}
	if name != "" && name != "all" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name, topic_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var setups []internal.Setup
	for rows.Next() {
		var su internal.Setup
		var stats string
		if err := rows.Scan(&su.ID, &su.TopicID, &su.Name, &su.Model, &su.Temperature, &su.MaxTokens,
			&su.RatingLast, &su.AnswerEnglish, &su.QuestionEnglish, &stats); err != nil {
			return nil, err
		}
		if stats != "" {
			su.Stats = []byte(stats)
		}
		setups = append(setups, su)
	}
	return setups, rows.Err()
}

// GetSetup finds a topic's setup by name.
func (s *Store) GetSetup(ctx context.Context, topicID, name string) (*internal.Setup, error) {
	setups, err := s.ListSetups(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, su := range setups {
		if su.TopicID == topicID {
			return &su, nil
		}
	}
	return nil, fmt.Errorf("setup %q: %w", name, ErrNotFound)
}

// SaveSetupStats replaces the stats blob wholesale.
func (s *Store) SaveSetupStats(ctx context.Context, id string, stats []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE setups SET stats = ? WHERE id = ?`, string(stats), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("setup %s: %w", id, ErrNotFound)
	}
	return nil
}
