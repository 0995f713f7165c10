package store

import (
	"context"
	"errors"
	"time"

	"stockmanager/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyCancelled  = errors.New("transaction already cancelled")
	ErrOverpayment       = errors.New("payment exceeds remaining balance")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Repository is the persistence boundary for the stock and credit ledgers.
// RecordStockOut and RecordCreditPayment are atomic: either every mutation
// they describe lands, or none does.
type Repository interface {
	ListProducts(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// RecordStockIn increments the product quantity and appends the IN row.
	RecordStockIn(ctx context.Context, tx domain.StockTransaction) (*domain.StockTransaction, error)
	// RecordStockOut decrements the product quantity only if enough stock is
	// on hand (ErrInsufficientStock otherwise), appends the OUT row, and for
	// credit sales creates the credit entry in the same atomic unit.
	RecordStockOut(ctx context.Context, tx domain.StockTransaction, credit *domain.Credit) (*domain.StockTransaction, *domain.Credit, error)
	// CancelTransaction reverses the quantity delta and deactivates an
	// associated credit. A second cancel fails with ErrAlreadyCancelled.
	CancelTransaction(ctx context.Context, ownerID string, id string, reason string, at time.Time) (*domain.StockTransaction, error)
	FindTransactionByID(ctx context.Context, ownerID string, id string) (*domain.StockTransaction, error)
	// ListTransactions returns rows in [from, to), newest first. A limit of
	// zero applies a default page size; a negative limit returns every row,
	// which report aggregation relies on.
	ListTransactions(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error)

	GetCreditByID(ctx context.Context, ownerID string, id string) (*domain.Credit, error)
	// ListCredits follows the same limit convention as ListTransactions.
	ListCredits(ctx context.Context, ownerID string, status string, limit int) ([]domain.Credit, error)
	// RecordCreditPayment appends the payment, raises amount_paid, recomputes
	// the status, and lowers the customer's denormalized balance, atomically.
	// A payment exceeding the remaining balance fails with ErrOverpayment.
	RecordCreditPayment(ctx context.Context, ownerID string, payment domain.CreditPayment) (*domain.Credit, *domain.CreditPayment, error)
	ListCreditPayments(ctx context.Context, ownerID string, creditID string) ([]domain.CreditPayment, error)
	GetOutstandingBalance(ctx context.Context, ownerID string, customerID string) (int64, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, ownerID string, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, ownerID string, includeArchived bool) ([]domain.Customer, error)
	ArchiveCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserRole(ctx context.Context, username string, role string) error
}
