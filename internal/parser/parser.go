package parser

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

// Parser reads posts out of newline-delimited JSON files through DuckDB.
type Parser struct {
	db *sql.DB
}

func NewParser(db *sql.DB) *Parser {
	return &Parser{db: db}
}

// ReadPosts loads every {id, text, url, context} object from the JSONL file
// (or glob) at path. Rows without an id or text are dropped; malformed lines
// are ignored.
func (p *Parser) ReadPosts(path string) ([]stance.Post, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			CAST(id AS VARCHAR) as id,
			text,
			COALESCE(url, '') as url,
			COALESCE("context", '') as ctx
		FROM read_json('%s',
			format = 'newline_delimited',
			columns = {'id': 'VARCHAR', 'text': 'VARCHAR', 'url': 'VARCHAR', 'context': 'VARCHAR'},
			ignore_errors = true
		)
		WHERE id IS NOT NULL AND id != ''
		  AND text IS NOT NULL AND trim(text) != ''
	`, quote(path))

	rows, err := p.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []stance.Post
	for rows.Next() {
		var post stance.Post
		if err := rows.Scan(&post.ID, &post.Text, &post.URL, &post.Context); err != nil {
			continue
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return posts, nil
}

// CountPosts reports how many usable posts ReadPosts would return.
func (p *Parser) CountPosts(path string) (int, error) {
	if err := checkPath(path); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM read_json('%s',
			format = 'newline_delimited',
			columns = {'id': 'VARCHAR', 'text': 'VARCHAR'},
			ignore_errors = true
		)
		WHERE id IS NOT NULL AND id != ''
		  AND text IS NOT NULL AND trim(text) != ''
	`, quote(path))

	var count int
	if err := p.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// checkPath reports a missing file up front; globs are left to DuckDB.
func checkPath(path string) error {
	if strings.ContainsAny(path, "*?[") {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("posts file does not exist: %w", err)
	}
	return nil
}

func quote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
