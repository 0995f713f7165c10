package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockmanager/backend/internal/domain"
	"stockmanager/backend/internal/store"
	"stockmanager/backend/internal/xid"
)

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

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Product, error) {
	query := `
		SELECT id, owner_id, name, brand, quantity, min_stock_level,
			buying_price_cents, selling_price_cents, archived, created_at, updated_at
		FROM products
		WHERE owner_id = $1
	`
	if !includeArchived {
		query += ` AND archived = false`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" || product.SellingPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.Quantity < 0 || product.MinStockLevel < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, owner_id, name, brand, quantity, min_stock_level,
			buying_price_cents, selling_price_cents, archived, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.OwnerID, product.Name, product.Brand, product.Quantity,
		product.MinStockLevel, product.BuyingPriceCents, product.SellingPriceCents,
		product.Archived, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, brand, quantity, min_stock_level,
			buying_price_cents, selling_price_cents, archived, created_at, updated_at
		FROM products
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SellingPriceCents < 1 || product.MinStockLevel < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	// Quantity is deliberately absent: only the ledger operations touch it.
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, brand = $4, min_stock_level = $5, buying_price_cents = $6,
			selling_price_cents = $7, archived = $8, updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING id, owner_id, name, brand, quantity, min_stock_level,
			buying_price_cents, selling_price_cents, archived, created_at, updated_at
	`, product.OwnerID, product.ID, product.Name, product.Brand, product.MinStockLevel,
		product.BuyingPriceCents, product.SellingPriceCents, product.Archived)

	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) RecordStockIn(ctx context.Context, tx domain.StockTransaction) (*domain.StockTransaction, error) {
	if tx.ProductID == "" || tx.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var productName, productOwnerID string
	err = pgTx.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $1, updated_at = now()
		WHERE id = $2
		RETURNING name, owner_id
	`, tx.Quantity, tx.ProductID).Scan(&productName, &productOwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	tx.Type = domain.TxTypeIn
	tx.PaymentType = ""
	tx.OwnerID = productOwnerID
	tx.ProductName = productName
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if err := insertTransaction(ctx, pgTx, tx); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := tx
	return &saved, nil
}

func (s *Store) RecordStockOut(ctx context.Context, tx domain.StockTransaction, credit *domain.Credit) (*domain.StockTransaction, *domain.Credit, error) {
	if tx.ProductID == "" || tx.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var productName, productOwnerID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT name, owner_id
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, tx.ProductID).Scan(&productName, &productOwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	// The decrement succeeds only when enough stock is on hand, so two
	// concurrent stock-outs cannot drive the quantity negative.
	res, err := pgTx.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $1, updated_at = now()
		WHERE id = $2 AND quantity >= $1
	`, tx.Quantity, tx.ProductID)
	if err != nil {
		return nil, nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		return nil, nil, store.ErrInsufficientStock
	}

	tx.Type = domain.TxTypeOut
	tx.OwnerID = productOwnerID
	tx.ProductName = productName
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if err := insertTransaction(ctx, pgTx, tx); err != nil {
		return nil, nil, err
	}

	var savedCredit *domain.Credit
	if credit != nil {
		c := *credit
		if c.ID == "" {
			c.ID = xid.New("credit")
		}
		c.OwnerID = tx.OwnerID
		c.TransactionID = tx.ID
		c.AmountPaidCents = 0
		c.Status = domain.CreditStatusPending
		c.Active = true
		now := time.Now().UTC()
		c.CreatedAt = now
		c.UpdatedAt = now

		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO credits (
				id, owner_id, transaction_id, customer_id, customer_name, amount_owed_cents,
				amount_paid_cents, status, active, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, c.ID, c.OwnerID, c.TransactionID, nullIfEmpty(c.CustomerID), c.CustomerName,
			c.AmountOwedCents, c.AmountPaidCents, c.Status, c.Active, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, nil, store.ErrNotFound
			}
			return nil, nil, err
		}

		if c.CustomerID != "" {
			_, err = pgTx.ExecContext(ctx, `
				UPDATE customers
				SET total_credit_cents = total_credit_cents + $1
				WHERE id = $2
			`, c.AmountOwedCents, c.CustomerID)
			if err != nil {
				return nil, nil, err
			}
		}

		copyCredit := c
		savedCredit = &copyCredit
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	saved := tx
	return &saved, savedCredit, nil
}

func (s *Store) CancelTransaction(ctx context.Context, ownerID string, id string, reason string, at time.Time) (*domain.StockTransaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var tx domain.StockTransaction
	var productID sql.NullString
	var paymentType sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, owner_id, product_id, product_name, type, quantity, payment_type,
			buying_price_cents, selling_price_cents, profit_cents, cancelled, created_at
		FROM stock_transactions
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, id, ownerID).Scan(&tx.ID, &tx.OwnerID, &productID, &tx.ProductName, &tx.Type, &tx.Quantity, &paymentType,
		&tx.BuyingPriceCents, &tx.SellingPriceCents, &tx.ProfitCents, &tx.Cancelled, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if productID.Valid {
		tx.ProductID = productID.String
	}
	if paymentType.Valid {
		tx.PaymentType = paymentType.String
	}
	if tx.Cancelled {
		return nil, store.ErrAlreadyCancelled
	}

	if tx.ProductID != "" {
		switch tx.Type {
		case domain.TxTypeIn:
			res, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity - $1, updated_at = now()
				WHERE owner_id = $2 AND id = $3 AND quantity >= $1
			`, tx.Quantity, ownerID, tx.ProductID)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, store.ErrInsufficientStock
			}
		case domain.TxTypeOut:
			res, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity + $1, updated_at = now()
				WHERE owner_id = $2 AND id = $3
			`, tx.Quantity, ownerID, tx.ProductID)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, store.ErrNotFound
			}
		}
	}

	// Deactivate an associated credit. Payments stay recorded; only the
	// unpaid remainder leaves the customer's running balance.
	var creditCustomerID sql.NullString
	var remainingCents int64
	err = pgTx.QueryRowContext(ctx, `
		UPDATE credits
		SET active = false, updated_at = $2
		WHERE transaction_id = $1 AND active = true
		RETURNING customer_id, amount_owed_cents - amount_paid_cents
	`, tx.ID, at).Scan(&creditCustomerID, &remainingCents)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil && creditCustomerID.Valid && remainingCents > 0 {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET total_credit_cents = GREATEST(total_credit_cents - $1, 0)
			WHERE id = $2
		`, remainingCents, creditCustomerID.String)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE stock_transactions
		SET cancelled = true, cancel_reason = $2, cancelled_at = $3
		WHERE id = $1 AND cancelled = false
	`, tx.ID, reason, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.Cancelled = true
	tx.CancelReason = reason
	cancelledAt := at
	tx.CancelledAt = &cancelledAt
	return &tx, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, ownerID string, id string) (*domain.StockTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, product_id, product_name, type, quantity, payment_type,
			buying_price_cents, selling_price_cents, profit_cents,
			cancelled, cancel_reason, cancelled_at, created_at
		FROM stock_transactions
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if limit == 0 {
		limit = 500
	}

	query := `
		SELECT id, owner_id, product_id, product_name, type, quantity, payment_type,
			buying_price_cents, selling_price_cents, profit_cents,
			cancelled, cancel_reason, cancelled_at, created_at
		FROM stock_transactions
		WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
	`
	args := []any{ownerID, from, to}
	// A negative limit means the caller wants the whole window.
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.StockTransaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) GetCreditByID(ctx context.Context, ownerID string, id string) (*domain.Credit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, transaction_id, customer_id, customer_name, amount_owed_cents,
			amount_paid_cents, status, active, created_at, updated_at
		FROM credits
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	credit, err := scanCredit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &credit, nil
}

func (s *Store) ListCredits(ctx context.Context, ownerID string, status string, limit int) ([]domain.Credit, error) {
	if limit == 0 {
		limit = 500
	}

	query := `
		SELECT id, owner_id, transaction_id, customer_id, customer_name, amount_owed_cents,
			amount_paid_cents, status, active, created_at, updated_at
		FROM credits
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`
	args := []any{ownerID, status}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	credits := make([]domain.Credit, 0, 64)
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return credits, nil
}

func (s *Store) RecordCreditPayment(ctx context.Context, ownerID string, payment domain.CreditPayment) (*domain.Credit, *domain.CreditPayment, error) {
	if payment.CreditID == "" || payment.AmountCents < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var credit domain.Credit
	var customerID sql.NullString
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, owner_id, transaction_id, customer_id, customer_name, amount_owed_cents,
			amount_paid_cents, status, active, created_at, updated_at
		FROM credits
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, payment.CreditID, ownerID).Scan(&credit.ID, &credit.OwnerID, &credit.TransactionID, &customerID, &credit.CustomerName,
		&credit.AmountOwedCents, &credit.AmountPaidCents, &credit.Status, &credit.Active,
		&credit.CreatedAt, &credit.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if customerID.Valid {
		credit.CustomerID = customerID.String
	}
	if !credit.Active {
		return nil, nil, store.ErrInvalidInput
	}
	if credit.AmountPaidCents+payment.AmountCents > credit.AmountOwedCents {
		return nil, nil, store.ErrOverpayment
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO credit_payments (id, credit_id, amount_cents, paid_at)
		VALUES ($1,$2,$3,$4)
	`, payment.ID, payment.CreditID, payment.AmountCents, payment.PaidAt)
	if err != nil {
		return nil, nil, err
	}

	credit.AmountPaidCents += payment.AmountCents
	credit.Status = domain.CreditStatusFor(credit.AmountOwedCents, credit.AmountPaidCents)
	credit.UpdatedAt = payment.PaidAt

	_, err = pgTx.ExecContext(ctx, `
		UPDATE credits
		SET amount_paid_cents = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, credit.ID, credit.AmountPaidCents, credit.Status, credit.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	if credit.CustomerID != "" {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET total_credit_cents = GREATEST(total_credit_cents - $1, 0)
			WHERE id = $2
		`, payment.AmountCents, credit.CustomerID)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	savedCredit := credit
	savedPayment := payment
	return &savedCredit, &savedPayment, nil
}

func (s *Store) ListCreditPayments(ctx context.Context, ownerID string, creditID string) ([]domain.CreditPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.credit_id, p.amount_cents, p.paid_at
		FROM credit_payments p
		JOIN credits c ON c.id = p.credit_id
		WHERE p.credit_id = $1 AND c.owner_id = $2
		ORDER BY p.paid_at ASC, p.id ASC
	`, creditID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.CreditPayment, 0, 8)
	for rows.Next() {
		var p domain.CreditPayment
		if err := rows.Scan(&p.ID, &p.CreditID, &p.AmountCents, &p.PaidAt); err != nil {
			return nil, err
		}
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) GetOutstandingBalance(ctx context.Context, ownerID string, customerID string) (int64, error) {
	if _, err := s.GetCustomerByID(ctx, ownerID, customerID); err != nil {
		return 0, err
	}

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount_owed_cents - amount_paid_cents)
		FROM credits
		WHERE owner_id = $1 AND customer_id = $2 AND active = true AND status <> $3
	`, ownerID, customerID, domain.CreditStatusPaid).Scan(&total)
	if err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, owner_id, name, phone, email, total_credit_cents, archived, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, customer.ID, customer.OwnerID, customer.Name, customer.Phone, customer.Email,
		customer.TotalCreditCents, customer.Archived, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, ownerID string, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, email, total_credit_cents, archived, created_at
		FROM customers
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id).Scan(&customer.ID, &customer.OwnerID, &customer.Name, &customer.Phone,
		&customer.Email, &customer.TotalCreditCents, &customer.Archived, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Customer, error) {
	query := `
		SELECT id, owner_id, name, phone, email, total_credit_cents, archived, created_at
		FROM customers
		WHERE owner_id = $1
	`
	if !includeArchived {
		query += ` AND archived = false`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.OwnerID, &customer.Name, &customer.Phone,
			&customer.Email, &customer.TotalCreditCents, &customer.Archived, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) ArchiveCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error) {
	// Soft delete: the row stays so credit and transaction history survives.
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET archived = true
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomerByID(ctx, ownerID, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OwnerID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR owner_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, ownerID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
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

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func (s *Store) UpdateUserRole(ctx context.Context, username string, role string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET role = $2, updated_at = now()
		WHERE username = $1
	`, username, role)
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

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Brand, &p.Quantity, &p.MinStockLevel,
		&p.BuyingPriceCents, &p.SellingPriceCents, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanTransaction(row rowScanner) (domain.StockTransaction, error) {
	var tx domain.StockTransaction
	var productID sql.NullString
	var paymentType sql.NullString
	var cancelReason sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.OwnerID, &productID, &tx.ProductName, &tx.Type, &tx.Quantity, &paymentType,
		&tx.BuyingPriceCents, &tx.SellingPriceCents, &tx.ProfitCents,
		&tx.Cancelled, &cancelReason, &cancelledAt, &tx.CreatedAt)
	if err != nil {
		return domain.StockTransaction{}, err
	}
	if productID.Valid {
		tx.ProductID = productID.String
	}
	if paymentType.Valid {
		tx.PaymentType = paymentType.String
	}
	if cancelReason.Valid {
		tx.CancelReason = cancelReason.String
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		tx.CancelledAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func scanCredit(row rowScanner) (domain.Credit, error) {
	var c domain.Credit
	var customerID sql.NullString
	err := row.Scan(&c.ID, &c.OwnerID, &c.TransactionID, &customerID, &c.CustomerName, &c.AmountOwedCents,
		&c.AmountPaidCents, &c.Status, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Credit{}, err
	}
	if customerID.Valid {
		c.CustomerID = customerID.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func insertTransaction(ctx context.Context, pgTx *sql.Tx, tx domain.StockTransaction) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO stock_transactions (
			id, owner_id, product_id, product_name, type, quantity, payment_type,
			buying_price_cents, selling_price_cents, profit_cents,
			cancelled, cancel_reason, cancelled_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, tx.ID, tx.OwnerID, nullIfEmpty(tx.ProductID), tx.ProductName, tx.Type, tx.Quantity,
		nullIfEmpty(tx.PaymentType), tx.BuyingPriceCents, tx.SellingPriceCents, tx.ProfitCents,
		tx.Cancelled, nullIfEmpty(tx.CancelReason), nullTime(tx.CancelledAt), tx.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
