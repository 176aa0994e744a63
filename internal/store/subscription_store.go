package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

const subscriptionColumns = `id, subscriber_url, secret, active, event_types, rate_limit_per_second, timeout_seconds, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.SubscriberURL, &sub.Secret, &sub.Active, &sub.EventTypes,
		&sub.RateLimitPerSecond, &sub.TimeoutSeconds, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (subscriber_url, secret, event_types, rate_limit_per_second, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+subscriptionColumns,
		req.SubscriberURL, secret, req.EventTypes, req.RateLimitPerSecond, req.TimeoutSeconds,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}

	return sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// ListActiveByEventType returns active subscriptions whose event-type set
// contains the given trigger kind. Exact membership, no wildcards.
func (s *PostgresStore) ListActiveByEventType(ctx context.Context, trigger domain.TriggerEvent) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE active = true AND $1 = ANY(event_types)
	`, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("querying matching subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.SubscriberURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("subscriber_url = $%d", argIdx))
		args = append(args, *req.SubscriberURL)
		argIdx++
	}
	if req.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("active = $%d", argIdx))
		args = append(args, *req.Active)
		argIdx++
	}
	if req.EventTypes != nil {
		setClauses = append(setClauses, fmt.Sprintf("event_types = $%d", argIdx))
		args = append(args, *req.EventTypes)
		argIdx++
	}
	if req.RateLimitPerSecond != nil {
		setClauses = append(setClauses, fmt.Sprintf("rate_limit_per_second = $%d", argIdx))
		args = append(args, *req.RateLimitPerSecond)
		argIdx++
	}
	if req.TimeoutSeconds != nil {
		setClauses = append(setClauses, fmt.Sprintf("timeout_seconds = $%d", argIdx))
		args = append(args, *req.TimeoutSeconds)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE subscriptions SET %s
		WHERE id = $%d
		RETURNING `+subscriptionColumns,
		strings.Join(setClauses, ", "), argIdx)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}

	return sub, nil
}

// DeleteSubscription removes a subscription. Returns false if it did not exist.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}
