package ledger

import (
	"database/sql"
	"fmt"

	"tillbook-sync-server/internal/domain"
)

// BuildSummary sketches a dataset for the operator: record count, totals
// and the five most recently updated transactions.
func BuildSummary(conn *sql.DB) (*domain.ConflictSummary, error) {
	summary := &domain.ConflictSummary{}

	if err := conn.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&summary.TxCount); err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}
	if err := conn.QueryRow(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'INCOME'",
	).Scan(&summary.IncomeTotal); err != nil {
		return nil, fmt.Errorf("sum income: %w", err)
	}
	if err := conn.QueryRow(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'EXPENSE'",
	).Scan(&summary.ExpenseTotal); err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}

	rows, err := conn.Query(
		`SELECT t.date, t.type, t.amount, t.payment_method, t.description, c.name
		 FROM transactions t
		 LEFT JOIN categories c ON t.category_id = c.id
		 ORDER BY t.updated_at DESC
		 LIMIT 5`,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item                          domain.ConflictItem
			payment, description, catName sql.NullString
		)
		if err := rows.Scan(&item.Date, &item.TxType, &item.Amount, &payment, &description, &catName); err != nil {
			return nil, fmt.Errorf("scan recent transaction: %w", err)
		}
		switch {
		case description.Valid:
			item.Label = description.String
		case catName.Valid:
			item.Label = catName.String
		case payment.Valid:
			item.Label = payment.String
		default:
			item.Label = "entry"
		}
		summary.LastItems = append(summary.LastItems, item)
	}
	return summary, rows.Err()
}
