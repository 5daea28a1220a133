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

// Package credential provides a Postgres-backed store for the OAuth tokens
// the CRM client uses, one row per location.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

// Record is a persisted location credential.
type Record struct {
	LocationID   string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	UserType     string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token converts the record into an oauth2 token.
func (r *Record) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresAt != nil {
		tok.Expiry = *r.ExpiresAt
	}
	return tok
}

// Store reads and writes location credentials in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a credential store backed by the given Postgres pool.
// It ensures the credentials table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure credential schema: %w", err)
	}
	slog.Info("credential store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crm_credentials (
			location_id   TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_type    TEXT DEFAULT 'Bearer',
			scope         TEXT DEFAULT '',
			user_type     TEXT DEFAULT '',
			expires_at    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Load returns the token for a location, or nil if none is stored.
func (s *Store) Load(ctx context.Context, locationID string) (*oauth2.Token, error) {
	rec, err := s.Get(ctx, locationID)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Token(), nil
}

// Save upserts a token for a location. Extra fields returned by the token
// endpoint (scope, userType) are kept when present.
func (s *Store) Save(ctx context.Context, locationID string, tok *oauth2.Token) error {
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiresAt = &e
	}
	scope, _ := tok.Extra("scope").(string)
	userType, _ := tok.Extra("userType").(string)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_credentials
			(location_id, access_token, refresh_token, token_type, scope, user_type, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (location_id) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type    = EXCLUDED.token_type,
			scope         = COALESCE(NULLIF(EXCLUDED.scope, ''), crm_credentials.scope),
			user_type     = COALESCE(NULLIF(EXCLUDED.user_type, ''), crm_credentials.user_type),
			expires_at    = EXCLUDED.expires_at,
			updated_at    = NOW()
	`, locationID, tok.AccessToken, tok.RefreshToken, tok.Type(), scope, userType, expiresAt)
	if err != nil {
		return fmt.Errorf("save credential for %s: %w", locationID, err)
	}
	return nil
}

// Get retrieves the full record for a location.
func (s *Store) Get(ctx context.Context, locationID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT location_id, access_token, refresh_token, token_type, scope,
		       user_type, expires_at, created_at, updated_at
		FROM crm_credentials
		WHERE location_id = $1
	`, locationID)
	return scanRecord(row)
}

// List returns all stored credentials ordered by location.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location_id, access_token, refresh_token, token_type, scope,
		       user_type, expires_at, created_at, updated_at
		FROM crm_credentials
		ORDER BY location_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.LocationID, &r.AccessToken, &r.RefreshToken, &r.TokenType, &r.Scope,
			&r.UserType, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a location's credentials.
func (s *Store) Delete(ctx context.Context, locationID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM crm_credentials WHERE location_id = $1`, locationID)
	return err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.LocationID, &r.AccessToken, &r.RefreshToken, &r.TokenType, &r.Scope,
		&r.UserType, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
