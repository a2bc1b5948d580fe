package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"possettle/internal/domain"
	"possettle/internal/store"
	"possettle/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const pendingColumns = `id, sale, status, settlement`

func (s *Store) CreatePending(ctx context.Context, txn domain.PendingTransaction) (*domain.PendingTransaction, error) {
	if txn.ID == "" || len(txn.Items) == 0 {
		return nil, store.ErrValidation
	}
	sale, err := json.Marshal(txn.Sale)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions (id, sale, created_at, status)
		VALUES ($1, $2, $3, 'pending')
	`, txn.ID, sale, txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	txn.Status = domain.PendingStatusPending
	txn.Settlement = nil
	return &txn, nil
}

func (s *Store) GetPending(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_transactions WHERE id = $1`, id)
	txn, err := scanPending(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryPending(ctx, query, args...)
}

func (s *Store) ClaimPending(ctx context.Context, id string, journal domain.SettlementJournal, now time.Time) (*domain.PendingTransaction, *domain.SettlementJournal, error) {
	settlement, err := json.Marshal(journal)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_transactions WHERE id = $1 FOR UPDATE`, id)
	txn, err := scanPending(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	var previous *domain.SettlementJournal
	if txn.Status == domain.PendingStatusSettling && txn.Settlement != nil {
		if !txn.Settlement.Expired(now) {
			return nil, nil, store.ErrAlreadySettled
		}
		previous = txn.Settlement
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_transactions
		SET status = 'settling', settlement = $2, claim_token = $3, claim_expires_at = $4
		WHERE id = $1
	`, id, settlement, journal.Token, journal.ExpiresAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	txn.Status = domain.PendingStatusSettling
	txn.Settlement = journal.Clone()
	return txn, previous, nil
}

func (s *Store) SaveJournal(ctx context.Context, id string, journal domain.SettlementJournal) error {
	settlement, err := json.Marshal(journal)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_transactions
		SET settlement = $3, claim_expires_at = $4
		WHERE id = $1 AND claim_token = $2
	`, id, journal.Token, settlement, journal.ExpiresAt)
	return claimResult(res, err)
}

func (s *Store) ReleaseClaim(ctx context.Context, id string, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_transactions
		SET status = 'pending', settlement = NULL, claim_token = NULL, claim_expires_at = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token)
	return claimResult(res, err)
}

func (s *Store) DeletePending(ctx context.Context, id string, token string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_transactions WHERE id = $1 AND claim_token = $2
	`, id, token)
	return claimResult(res, err)
}

func (s *Store) ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PendingTransaction, error) {
	if limit < 1 {
		limit = 50
	}
	return s.queryPending(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_transactions
		WHERE status = 'settling' AND claim_expires_at <= $1
		ORDER BY claim_expires_at
		LIMIT $2
	`, now, limit)
}

func (s *Store) queryPending(ctx context.Context, query string, args ...any) ([]domain.PendingTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PendingTransaction, 0, 32)
	for rows.Next() {
		txn, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.FinalizedInvoice) error {
	if invoice.ID == "" || invoice.OriginalTransactionID == "" {
		return store.ErrValidation
	}
	sale, err := json.Marshal(invoice.Sale)
	if err != nil {
		return err
	}
	debits, err := json.Marshal(nonNilDebits(invoice.StockDebits))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO finalized_invoices (
			id, original_transaction_id, sale, created_at,
			finalized_at, finalized_by, inventory_deducted, stock_debits
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, invoice.ID, invoice.OriginalTransactionID, sale, invoice.CreatedAt,
		invoice.FinalizedAt, invoice.FinalizedBy, invoice.InventoryDeducted, debits)
	return settledInsertError(err)
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM finalized_invoices WHERE id = $1`, id)
	return err
}

const invoiceColumns = `id, original_transaction_id, sale, finalized_at, finalized_by, inventory_deducted, stock_debits`

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.FinalizedInvoice, error) {
	return s.getInvoice(ctx, `SELECT `+invoiceColumns+` FROM finalized_invoices WHERE id = $1`, id)
}

func (s *Store) FindInvoiceByTransaction(ctx context.Context, transactionID string) (*domain.FinalizedInvoice, error) {
	return s.getInvoice(ctx, `SELECT `+invoiceColumns+` FROM finalized_invoices WHERE original_transaction_id = $1`, transactionID)
}

func (s *Store) getInvoice(ctx context.Context, query string, arg string) (*domain.FinalizedInvoice, error) {
	invoice, err := scanInvoice(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, from time.Time, to time.Time) ([]domain.FinalizedInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM finalized_invoices
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at, id
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FinalizedInvoice, 0, 64)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateVoided(ctx context.Context, voided domain.VoidedTransaction) error {
	if voided.ID == "" || voided.OriginalTransactionID == "" {
		return store.ErrValidation
	}
	sale, err := json.Marshal(voided.Sale)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO voided_transactions (
			id, original_transaction_id, sale, created_at, voided_at, voided_by, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, voided.ID, voided.OriginalTransactionID, sale, voided.CreatedAt,
		voided.VoidedAt, voided.VoidedBy, voided.Reason)
	return settledInsertError(err)
}

func (s *Store) DeleteVoided(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM voided_transactions WHERE id = $1`, id)
	return err
}

const voidedColumns = `id, original_transaction_id, sale, voided_at, voided_by, reason`

func (s *Store) FindVoidedByTransaction(ctx context.Context, transactionID string) (*domain.VoidedTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+voidedColumns+` FROM voided_transactions WHERE original_transaction_id = $1`, transactionID)
	voided, err := scanVoided(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return voided, nil
}

func (s *Store) ListVoided(ctx context.Context, from time.Time, to time.Time) ([]domain.VoidedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+voidedColumns+`
		FROM voided_transactions
		WHERE ($1::timestamptz IS NULL OR voided_at >= $1)
		  AND ($2::timestamptz IS NULL OR voided_at < $2)
		ORDER BY voided_at, id
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.VoidedTransaction, 0, 16)
	for rows.Next() {
		voided, err := scanVoided(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *voided)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const productColumns = `id, product_number, name, cost_price, selling_price, on_hand, min_inventory, max_inventory, manage_by_lot`

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Number, &p.Name, &p.CostPrice, &p.SellingPrice, &p.OnHand, &p.MinInventory, &p.MaxInventory, &p.ManageByLot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Number, &p.Name, &p.CostPrice, &p.SellingPrice, &p.OnHand, &p.MinInventory, &p.MaxInventory, &p.ManageByLot); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO UPDATE SET
			product_number = EXCLUDED.product_number,
			name = EXCLUDED.name,
			cost_price = EXCLUDED.cost_price,
			selling_price = EXCLUDED.selling_price,
			on_hand = CASE WHEN products.manage_by_lot THEN products.on_hand ELSE EXCLUDED.on_hand END,
			min_inventory = EXCLUDED.min_inventory,
			max_inventory = EXCLUDED.max_inventory,
			manage_by_lot = EXCLUDED.manage_by_lot,
			updated_at = now()
	`, product.ID, product.Number, product.Name, product.CostPrice, product.SellingPrice,
		product.OnHand, product.MinInventory, product.MaxInventory, product.ManageByLot)
	return err
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, lot_name, received_at, expiry_date, remaining, initial_quantity, created_at
		FROM batches
		WHERE product_id = $1
		ORDER BY received_at, id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Batch, 0, 8)
	for rows.Next() {
		var b domain.Batch
		var expiry sql.NullTime
		if err := rows.Scan(&b.ID, &b.ProductID, &b.LotName, &b.ReceivedAt, &expiry, &b.Remaining, &b.Initial, &b.CreatedAt); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			b.ExpiryDate = &e
		}
		b.ReceivedAt = b.ReceivedAt.UTC()
		b.CreatedAt = b.CreatedAt.UTC()
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ProductID == "" || batch.Remaining < 1 {
		return nil, store.ErrValidation
	}
	if batch.Initial == 0 {
		batch.Initial = batch.Remaining
	}
	if batch.Remaining > batch.Initial {
		return nil, store.ErrValidation
	}
	if batch.ID == "" {
		batch.ID = xid.New("lot")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = batch.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var manageByLot bool
	if err := tx.QueryRowContext(ctx, `SELECT manage_by_lot FROM products WHERE id = $1 FOR UPDATE`, batch.ProductID).Scan(&manageByLot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !manageByLot {
		return nil, store.ErrValidation
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, lot_name, received_at, expiry_date, remaining, initial_quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, batch.ID, batch.ProductID, batch.LotName, batch.ReceivedAt, nullTimePtr(batch.ExpiryDate),
		batch.Remaining, batch.Initial, batch.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET on_hand = on_hand + $2, updated_at = now() WHERE id = $1
	`, batch.ProductID, batch.Remaining); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) DebitBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error {
	return s.moveBatches(ctx, productID, takes, -1)
}

func (s *Store) CreditBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error {
	return s.moveBatches(ctx, productID, takes, 1)
}

// moveBatches applies every take to its batch in one transaction, or none when
// any batch would leave [0, initial].
func (s *Store) moveBatches(ctx context.Context, productID string, takes []domain.BatchConsumption, sign int) error {
	want, total, err := aggregateTakes(takes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, remaining, initial_quantity
		FROM batches
		WHERE product_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, productID, ids)
	if err != nil {
		return err
	}
	seen := 0
	for rows.Next() {
		var id string
		var remaining, initial int
		if err := rows.Scan(&id, &remaining, &initial); err != nil {
			_ = rows.Close()
			return err
		}
		next := remaining + sign*want[id]
		if next < 0 || next > initial {
			_ = rows.Close()
			return store.ErrConflict
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	if seen != len(want) {
		return store.ErrConflict
	}

	for id, qty := range want {
		if _, err := tx.ExecContext(ctx, `
			UPDATE batches SET remaining = remaining + $2 WHERE id = $1
		`, id, sign*qty); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET on_hand = on_hand + $2, updated_at = now() WHERE id = $1
	`, productID, sign*total); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AdjustOnHand(ctx context.Context, productID string, delta int) (int, error) {
	var onHand int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products SET on_hand = on_hand + $2, updated_at = now()
		WHERE id = $1
		RETURNING on_hand
	`, productID, delta).Scan(&onHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return onHand, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, total_purchases, total_spent, last_purchase
		FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.TotalPurchases, &c.TotalSpent, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if last.Valid {
		t := last.Time.UTC()
		c.LastPurchase = &t
	}
	return &c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.Name == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, customer.ID, customer.Name)
	return err
}

func (s *Store) ApplyCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, at time.Time) (*time.Time, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullTime
	if err := tx.QueryRowContext(ctx, `SELECT last_purchase FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, store.ErrNotFound
		}
		return nil, false, err
	}
	var previous *time.Time
	if last.Valid {
		t := last.Time.UTC()
		previous = &t
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO customer_purchases (customer_id, invoice_id, amount, applied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id, invoice_id) DO NOTHING
	`, customerID, invoiceID, amount, at)
	if err != nil {
		return nil, false, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if affected == 0 {
		return previous, false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = total_purchases + 1,
			total_spent = total_spent + $2,
			last_purchase = GREATEST(COALESCE(last_purchase, $3), $3)
		WHERE id = $1
	`, customerID, amount, at); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return previous, true, nil
}

func (s *Store) RevertCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, previousLast *time.Time, appliedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM customers WHERE id = $1 FOR UPDATE`, customerID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM customer_purchases WHERE customer_id = $1 AND invoice_id = $2
	`, customerID, invoiceID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = total_purchases - 1,
			total_spent = total_spent - $2,
			last_purchase = CASE WHEN last_purchase = $3 THEN $4 ELSE last_purchase END
		WHERE id = $1
	`, customerID, amount, appliedAt, nullTimePtr(previousLast)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2, updated_at = now() WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*domain.PendingTransaction, error) {
	var txn domain.PendingTransaction
	var sale []byte
	var settlement []byte
	if err := row.Scan(&txn.ID, &sale, &txn.Status, &settlement); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sale, &txn.Sale); err != nil {
		return nil, err
	}
	if len(settlement) > 0 {
		var journal domain.SettlementJournal
		if err := json.Unmarshal(settlement, &journal); err != nil {
			return nil, err
		}
		txn.Settlement = &journal
	}
	return &txn, nil
}

func scanInvoice(row rowScanner) (*domain.FinalizedInvoice, error) {
	var invoice domain.FinalizedInvoice
	var sale []byte
	var debits []byte
	if err := row.Scan(&invoice.ID, &invoice.OriginalTransactionID, &sale, &invoice.FinalizedAt,
		&invoice.FinalizedBy, &invoice.InventoryDeducted, &debits); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sale, &invoice.Sale); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(debits, &invoice.StockDebits); err != nil {
		return nil, err
	}
	invoice.FinalizedAt = invoice.FinalizedAt.UTC()
	invoice.FinalizedAtTimestamp = invoice.FinalizedAt.UnixMilli()
	return &invoice, nil
}

func scanVoided(row rowScanner) (*domain.VoidedTransaction, error) {
	var voided domain.VoidedTransaction
	var sale []byte
	if err := row.Scan(&voided.ID, &voided.OriginalTransactionID, &sale, &voided.VoidedAt, &voided.VoidedBy, &voided.Reason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sale, &voided.Sale); err != nil {
		return nil, err
	}
	voided.VoidedAt = voided.VoidedAt.UTC()
	voided.VoidedAtTimestamp = voided.VoidedAt.UnixMilli()
	return &voided, nil
}

func claimResult(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrClaimLost
	}
	return nil
}

// settledInsertError maps a duplicate original transaction id to
// ErrAlreadySettled and a duplicate record id to ErrConflict.
func settledInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "original_transaction") {
			return store.ErrAlreadySettled
		}
		return store.ErrConflict
	}
	return err
}

func aggregateTakes(takes []domain.BatchConsumption) (map[string]int, int, error) {
	want := make(map[string]int, len(takes))
	total := 0
	for _, take := range takes {
		if take.BatchID == "" || take.Quantity < 1 {
			return nil, 0, store.ErrValidation
		}
		want[take.BatchID] += take.Quantity
		total += take.Quantity
	}
	return want, total, nil
}

func nonNilDebits(debits []domain.StockDebit) []domain.StockDebit {
	if debits == nil {
		return []domain.StockDebit{}
	}
	return debits
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func nullTimePtr(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
