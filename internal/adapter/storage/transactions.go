package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const transactionColumns = `transaction_id, item_id, kind, quantity, delta, reference_id, notes, on_hand_after, reserved_after, created_at`

type transactionRow struct {
	ID            string         `db:"transaction_id"`
	ItemID        string         `db:"item_id"`
	Kind          string         `db:"kind"`
	Quantity      int            `db:"quantity"`
	Delta         int            `db:"delta"`
	ReferenceID   sql.NullString `db:"reference_id"`
	Notes         string         `db:"notes"`
	OnHandAfter   int            `db:"on_hand_after"`
	ReservedAfter int            `db:"reserved_after"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r transactionRow) toDomain() domain.StockTransaction {
	return domain.StockTransaction{
		ID:            r.ID,
		ItemID:        r.ItemID,
		Kind:          domain.TransactionKind(r.Kind),
		Quantity:      r.Quantity,
		Delta:         r.Delta,
		ReferenceID:   r.ReferenceID.String,
		Notes:         r.Notes,
		OnHandAfter:   r.OnHandAfter,
		ReservedAfter: r.ReservedAfter,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (t *sqlTx) FindTransaction(ctx context.Context, itemID string, kind domain.TransactionKind, referenceID string) (*domain.StockTransaction, error) {
	query := t.tx.Rebind(`SELECT ` + transactionColumns + ` FROM stock_transactions
		WHERE item_id = ? AND kind = ? AND reference_id = ?`)

	var row transactionRow
	if err := t.tx.GetContext(ctx, &row, query, itemID, string(kind), referenceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, t.dialect.classify(err)
	}
	txn := row.toDomain()
	return &txn, nil
}

func (t *sqlTx) GetTransaction(ctx context.Context, transactionID string) (*domain.StockTransaction, error) {
	query := t.tx.Rebind(`SELECT ` + transactionColumns + ` FROM stock_transactions WHERE transaction_id = ?`)

	var row transactionRow
	if err := t.tx.GetContext(ctx, &row, query, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, t.dialect.classify(err)
	}
	txn := row.toDomain()
	return &txn, nil
}

// AppendTransaction inserts one immutable ledger row. A reused reference for
// the same item and kind fails with ErrDuplicateKey.
func (t *sqlTx) AppendTransaction(ctx context.Context, txn domain.StockTransaction) error {
	query := t.tx.Rebind(`INSERT INTO stock_transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		txn.ID,
		txn.ItemID,
		string(txn.Kind),
		txn.Quantity,
		txn.Delta,
		nullString(txn.ReferenceID),
		txn.Notes,
		txn.OnHandAfter,
		txn.ReservedAfter,
		txn.CreatedAt.UTC(),
	)
	return t.dialect.classify(err)
}

func (s *SQLStore) ListTransactions(ctx context.Context, itemID string, limit int) ([]domain.StockTransaction, error) {
	query := s.db.Rebind(`SELECT ` + transactionColumns + ` FROM stock_transactions
		WHERE item_id = ?
		ORDER BY created_at DESC, transaction_id DESC
		LIMIT ?`)

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, itemID, limit); err != nil {
		return nil, s.dialect.classify(err)
	}

	txns := make([]domain.StockTransaction, 0, len(rows))
	for _, row := range rows {
		txns = append(txns, row.toDomain())
	}
	return txns, nil
}
