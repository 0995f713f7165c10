package domain

import "time"

const (
	TxTypeIn  = "IN"
	TxTypeOut = "OUT"
)

const (
	PaymentCash   = "CASH"
	PaymentCredit = "CREDIT"
)

const (
	CreditStatusPending = "PENDING"
	CreditStatusPartial = "PARTIAL"
	CreditStatusPaid    = "PAID"
)

const (
	RoleBoss    = "boss"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

type Product struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Name              string    `json:"name"`
	Brand             string    `json:"brand"`
	Quantity          int       `json:"quantity"`
	MinStockLevel     int       `json:"min_stock_level"`
	BuyingPriceCents  int64     `json:"buying_price_cents"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LowStock reports whether the product is at or below its restock threshold.
func (p Product) LowStock() bool {
	return p.Quantity <= p.MinStockLevel
}

func (p Product) OutOfStock() bool {
	return p.Quantity == 0
}

type ProductCreateRequest struct {
	Name              string `json:"name"`
	Brand             string `json:"brand"`
	InitialQuantity   int    `json:"initial_quantity"`
	MinStockLevel     int    `json:"min_stock_level"`
	BuyingPriceCents  int64  `json:"buying_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Brand             *string `json:"brand,omitempty"`
	MinStockLevel     *int    `json:"min_stock_level,omitempty"`
	BuyingPriceCents  *int64  `json:"buying_price_cents,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	Archived          *bool   `json:"archived,omitempty"`
}

// StockTransaction is one stock ledger entry. Rows are immutable once
// written except for the cancellation fields. ProductID is empty on legacy
// rows imported before products carried stable ids.
type StockTransaction struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	ProductID         string     `json:"product_id,omitempty"`
	ProductName       string     `json:"product_name"`
	Type              string     `json:"type"`
	Quantity          int        `json:"quantity"`
	PaymentType       string     `json:"payment_type,omitempty"`
	BuyingPriceCents  int64      `json:"buying_price_cents"`
	SellingPriceCents int64      `json:"selling_price_cents"`
	ProfitCents       int64      `json:"profit_cents"`
	Cancelled         bool       `json:"cancelled"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type StockInRequest struct {
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	BuyingPriceCents int64  `json:"buying_price_cents"`
}

type StockOutRequest struct {
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	PaymentType       string `json:"payment_type"`
	CustomerID        string `json:"customer_id,omitempty"`
	CustomerName      string `json:"customer_name,omitempty"`
}

type StockOutResponse struct {
	Transaction StockTransaction `json:"transaction"`
	Credit      *Credit          `json:"credit,omitempty"`
}

type CancelTransactionRequest struct {
	Reason string `json:"reason"`
}

// Credit tracks one deferred-payment sale. AmountOwedCents is fixed at
// creation; AmountPaidCents only grows through CreditPayment rows. Status is
// always derivable from the two amounts, see CreditStatusFor.
type Credit struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	TransactionID   string    `json:"transaction_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	CustomerName    string    `json:"customer_name"`
	AmountOwedCents int64     `json:"amount_owed_cents"`
	AmountPaidCents int64     `json:"amount_paid_cents"`
	Status          string    `json:"status"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (c Credit) RemainingCents() int64 {
	remaining := c.AmountOwedCents - c.AmountPaidCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CreditStatusFor derives the credit status from the owed and paid amounts.
func CreditStatusFor(owedCents int64, paidCents int64) string {
	switch {
	case paidCents >= owedCents:
		return CreditStatusPaid
	case paidCents > 0:
		return CreditStatusPartial
	default:
		return CreditStatusPending
	}
}

type CreditPayment struct {
	ID          string    `json:"id"`
	CreditID    string    `json:"credit_id"`
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at"`
}

type CreditPaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type CreditPaymentResponse struct {
	Credit  Credit        `json:"credit"`
	Payment CreditPayment `json:"payment"`
}

type Customer struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	TotalCreditCents int64     `json:"total_credit_cents"`
	Archived         bool      `json:"archived"`
	CreatedAt        time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type CustomerBalanceResponse struct {
	CustomerID       string `json:"customer_id"`
	OutstandingCents int64  `json:"outstanding_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserRoleRequest struct {
	Role string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReportBucket carries the per-partition aggregates of a sales report.
type ReportBucket struct {
	Count         int   `json:"count"`
	TotalQuantity int   `json:"total_quantity"`
	AmountCents   int64 `json:"amount_cents"`
}

type SalesReport struct {
	Window      string       `json:"window"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	StockIn     ReportBucket `json:"stock_in"`
	StockOut    ReportBucket `json:"stock_out"`
	CashSales   ReportBucket `json:"cash_sales"`
	CreditSales ReportBucket `json:"credit_sales"`
	ProfitCents int64        `json:"profit_cents"`
}

type StockReport struct {
	TotalProducts   int       `json:"total_products"`
	StockValueCents int64     `json:"stock_value_cents"`
	LowStock        []Product `json:"low_stock"`
	OutOfStock      []Product `json:"out_of_stock"`
}

type CreditReport struct {
	OutstandingCents int64 `json:"outstanding_cents"`
	PendingCount     int   `json:"pending_count"`
	PartialCount     int   `json:"partial_count"`
	PaidCount        int   `json:"paid_count"`
}

type DashboardSummary struct {
	GeneratedAt string       `json:"generated_at"`
	Sales       SalesReport  `json:"sales"`
	Stock       StockReport  `json:"stock"`
	Credit      CreditReport `json:"credit"`
}
