package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay-backend/internal/models"
)

type ExchangeRepo struct {
	pool *pgxpool.Pool
}

func NewExchangeRepo(pool *pgxpool.Pool) *ExchangeRepo {
	return &ExchangeRepo{pool: pool}
}

func (r *ExchangeRepo) Name() string { return "postgres" }

// RecordExchange inserts one exchange row.
func (r *ExchangeRepo) RecordExchange(ctx context.Context, ex models.Exchange) error {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}

	query := `INSERT INTO relay_exchanges (id, request_id, route, shape, model, status, outcome,
			upstream_status, latency_ms, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		ex.ID, ex.RequestID, ex.Route, ex.Shape, ex.Model, ex.Status, string(ex.Outcome),
		ex.UpstreamStatus, ex.LatencyMS, ex.PromptTokens, ex.CompletionTokens, ex.CreatedAt,
	)
	return err
}
