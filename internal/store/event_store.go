package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

// InsertEvent appends a domain event to the event log.
func (s *PostgresStore) InsertEvent(ctx context.Context, event *domain.DomainEvent) error {
	booking, err := json.Marshal(event.Booking)
	if err != nil {
		return fmt.Errorf("marshaling booking: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, trigger_event, booking)
		VALUES ($1, $2, $3)
	`, event.ID, string(event.Trigger), booking)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.EventLogEntry, error) {
	var entry domain.EventLogEntry
	var booking []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, trigger_event, booking, created_at
		FROM events WHERE id = $1
	`, id).Scan(&entry.ID, &entry.Trigger, &booking, &entry.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}

	if err := json.Unmarshal(booking, &entry.Booking); err != nil {
		return nil, fmt.Errorf("unmarshaling booking: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, trigger string, limit int) ([]domain.EventLogEntry, error) {
	query := `SELECT id, trigger_event, booking, created_at FROM events`
	args := []interface{}{}
	argIdx := 1

	if trigger != "" {
		query += fmt.Sprintf(" WHERE trigger_event = $%d", argIdx)
		args = append(args, trigger)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	entries := []domain.EventLogEntry{}
	for rows.Next() {
		var entry domain.EventLogEntry
		var booking []byte
		if err := rows.Scan(&entry.ID, &entry.Trigger, &booking, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal(booking, &entry.Booking); err != nil {
			return nil, fmt.Errorf("unmarshaling booking: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
