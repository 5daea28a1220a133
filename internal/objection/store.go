// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a pgvector-backed Retriever.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewStore creates the example store, installing the vector extension and
// table if needed.
func NewStore(ctx context.Context, pool *pgxpool.Pool, embedder Embedder) (*Store, error) {
	s := &Store{pool: pool, embedder: embedder}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure objection schema: %w", err)
	}
	slog.Info("objection store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS objections (
			id         BIGSERIAL PRIMARY KEY,
			objection  TEXT NOT NULL UNIQUE,
			rebuttal   TEXT NOT NULL,
			embedding  vector NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Retrieve embeds query and returns the k nearest examples by cosine
// similarity, best first.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Example, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT objection, rebuttal, 1 - (embedding <=> $1::vector) AS score
		FROM objections
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vectorLiteral(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query objection examples: %w", err)
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var ex Example
		if err := rows.Scan(&ex.Objection, &ex.Rebuttal, &ex.Score); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Seed embeds and upserts examples keyed on the objection text. It
// returns how many were written.
func (s *Store) Seed(ctx context.Context, examples []Example) (int, error) {
	written := 0
	for _, ex := range examples {
		objection := strings.TrimSpace(ex.Objection)
		rebuttal := strings.TrimSpace(ex.Rebuttal)
		if objection == "" || rebuttal == "" {
			continue
		}

		vec, err := s.embedder.Embed(ctx, objection)
		if err != nil {
			return written, fmt.Errorf("embed %q: %w", objection, err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO objections (objection, rebuttal, embedding)
			VALUES ($1, $2, $3::vector)
			ON CONFLICT (objection) DO UPDATE SET
				rebuttal   = EXCLUDED.rebuttal,
				embedding  = EXCLUDED.embedding,
				updated_at = NOW()
		`, objection, rebuttal, vectorLiteral(vec))
		if err != nil {
			return written, fmt.Errorf("upsert objection example: %w", err)
		}
		written++
	}
	return written, nil
}

// LoadExamples reads a YAML seed file of the form
//
//	objections:
//	  - objection: "It's too expensive"
//	    rebuttal: "..."
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var file struct {
		Objections []Example `yaml:"objections"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return file.Objections, nil
}

// vectorLiteral formats v in pgvector's text input form, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
