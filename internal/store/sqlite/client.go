package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/internal/store"
	"github.com/ev-agent/backend/pkg/logger"
)

// Client is the sqlite-backed dataset store.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite dataset store initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS examples (
		id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL,
		inputs TEXT NOT NULL,
		outputs TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_examples_dataset ON examples(dataset);
	CREATE INDEX IF NOT EXISTS idx_examples_created ON examples(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateExample(ctx context.Context, example *store.Example) error {
	if example.ID == "" {
		example.ID = uuid.New().String()
	}
	now := time.Now()
	example.CreatedAt = now
	example.UpdatedAt = now

	inputs, err := json.Marshal(example.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	outputs, err := json.Marshal(example.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}
	metadata, err := json.Marshal(example.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO examples (id, dataset, inputs, outputs, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(
		ctx,
		query,
		example.ID,
		example.Dataset,
		string(inputs),
		string(outputs),
		string(metadata),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert example: %w", err)
	}

	logger.Debug("Example created",
		zap.String("example_id", example.ID),
		zap.String("dataset", example.Dataset),
	)
	return nil
}

func (c *Client) ListExamples(ctx context.Context, dataset string) ([]store.Example, error) {
	query := `
		SELECT id, dataset, inputs, outputs, metadata, created_at, updated_at
		FROM examples
		WHERE dataset = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := c.db.QueryContext(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var examples []store.Example
	for rows.Next() {
		var e store.Example
		var inputs, outputs, metadata sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(&e.ID, &e.Dataset, &inputs, &outputs, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if inputs.Valid {
			json.Unmarshal([]byte(inputs.String), &e.Inputs)
		}
		if outputs.Valid {
			json.Unmarshal([]byte(outputs.String), &e.Outputs)
		}
		if metadata.Valid {
			json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)

		examples = append(examples, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return examples, nil
}

func (c *Client) UpdateExample(ctx context.Context, id string, outputs map[string]interface{}) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	result, err := c.db.ExecContext(
		ctx,
		`UPDATE examples SET outputs = ?, updated_at = ? WHERE id = ?`,
		string(data),
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update example: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("failed to update example: no example with id %s", id)
	}

	logger.Debug("Example updated", zap.String("example_id", id))
	return nil
}
