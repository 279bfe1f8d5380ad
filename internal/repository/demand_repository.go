package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/opencivic/demand-ledger-api/internal/models"
)

const demandColumns = `id, title, description, category_id, proposer_id, proposer_name, status,
       vote_count, content_hash, reviewed_by, approved_by, submitted_at, approved_at, rejected_at`

// DemandRepository serves read access to demand records. All mutations go
// through LedgerRepository or VoteRepository so every state change is chained
// into the transaction ledger atomically.
type DemandRepository struct {
	db *sqlx.DB
}

// NewDemandRepository constructs the repository.
func NewDemandRepository(db *sqlx.DB) *DemandRepository {
	return &DemandRepository{db: db}
}

// GetByID fetches a demand by identifier.
func (r *DemandRepository) GetByID(ctx context.Context, id string) (*models.Demand, error) {
	query := fmt.Sprintf(`SELECT %s FROM demands WHERE id = $1`, demandColumns)
	var demand models.Demand
	if err := r.db.GetContext(ctx, &demand, query, id); err != nil {
		return nil, err
	}
	return &demand, nil
}

// List returns demands matching the filter, newest first.
func (r *DemandRepository) List(ctx context.Context, filter models.DemandFilter) ([]models.Demand, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM demands`, demandColumns))

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.ProposerID != "" {
		args = append(args, filter.ProposerID)
		conditions = append(conditions, fmt.Sprintf("proposer_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var demands []models.Demand
	if err := r.db.SelectContext(ctx, &demands, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list demands: %w", err)
	}
	return demands, nil
}
