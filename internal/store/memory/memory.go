package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stockmanager/backend/internal/domain"
	"stockmanager/backend/internal/store"
	"stockmanager/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	transactionsByID map[string]*domain.StockTransaction
	creditsByID      map[string]*domain.Credit
	creditsByTx      map[string]string
	paymentsByCredit map[string][]domain.CreditPayment
	customersByID    map[string]domain.Customer
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_BOSS_PASSWORD and SEED_STAFF_PASSWORD; hardcoded
// dev defaults are used with a warning when unset. The backend uses
// PostgreSQL when DATABASE_URL is set, so these never reach production.
func seedUsers() map[string]domain.UserAccount {
	bossPwd := envOr("SEED_BOSS_PASSWORD", "boss123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_BOSS_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_BOSS_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"boss", bossPwd, domain.RoleBoss},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		transactionsByID: make(map[string]*domain.StockTransaction),
		creditsByID:      make(map[string]*domain.Credit),
		creditsByTx:      make(map[string]string),
		paymentsByCredit: make(map[string][]domain.CreditPayment),
		customersByID:    make(map[string]domain.Customer),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-soda-01", Name: "Soda 500ml", Brand: "Fizzco", Quantity: 120, MinStockLevel: 20, BuyingPriceCents: 900, SellingPriceCents: 1500},
		{ID: "prod-rice-01", Name: "Rice 5kg", Brand: "Harvest", Quantity: 60, MinStockLevel: 10, BuyingPriceCents: 7800, SellingPriceCents: 9900},
		{ID: "prod-oil-01", Name: "Cooking Oil 1L", Brand: "Sunfield", Quantity: 45, MinStockLevel: 15, BuyingPriceCents: 3100, SellingPriceCents: 4200},
		{ID: "prod-soap-01", Name: "Bar Soap", Brand: "Cleanly", Quantity: 200, MinStockLevel: 30, BuyingPriceCents: 500, SellingPriceCents: 900},
		{ID: "prod-flour-01", Name: "Wheat Flour 2kg", Brand: "Harvest", Quantity: 8, MinStockLevel: 12, BuyingPriceCents: 2400, SellingPriceCents: 3300},
	}
	for _, p := range products {
		p.OwnerID = "main-shop"
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cust-jane-01", Name: "Jane Wairimu", Phone: "+254700000001"},
		{ID: "cust-otis-01", Name: "Otis Mburu", Phone: "+254700000002"},
	}
	for _, c := range customers {
		c.OwnerID = "main-shop"
		c.CreatedAt = now
		s.customersByID[c.ID] = c
	}

	return s
}

func (s *Store) ListProducts(_ context.Context, ownerID string, includeArchived bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		if p.Archived && !includeArchived {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.OwnerID == "" || product.Name == "" || product.SellingPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.Quantity < 0 || product.MinStockLevel < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.SellingPriceCents < 1 || product.MinStockLevel < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.products[product.ID]
	if !exists || existing.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}

	// Quantity is owned by the stock ledger; carry the stored value.
	product.Quantity = existing.Quantity
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) RecordStockIn(_ context.Context, tx domain.StockTransaction) (*domain.StockTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ProductID == "" || tx.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	product, exists := s.products[tx.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.Quantity += tx.Quantity
	product.UpdatedAt = time.Now().UTC()
	s.products[tx.ProductID] = product

	tx.Type = domain.TxTypeIn
	tx.PaymentType = ""
	tx.OwnerID = product.OwnerID
	tx.ProductName = product.Name
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	saved := tx
	s.transactionsByID[tx.ID] = &saved

	result := saved
	return &result, nil
}

func (s *Store) RecordStockOut(_ context.Context, tx domain.StockTransaction, credit *domain.Credit) (*domain.StockTransaction, *domain.Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ProductID == "" || tx.Quantity < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	product, exists := s.products[tx.ProductID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	// Check and decrement happen under one lock so concurrent stock-outs
	// serialize here the way the conditional UPDATE does in postgres.
	if product.Quantity < tx.Quantity {
		return nil, nil, store.ErrInsufficientStock
	}

	if credit != nil && credit.CustomerID != "" {
		if _, exists := s.customersByID[credit.CustomerID]; !exists {
			return nil, nil, store.ErrNotFound
		}
	}

	product.Quantity -= tx.Quantity
	product.UpdatedAt = time.Now().UTC()
	s.products[tx.ProductID] = product

	tx.Type = domain.TxTypeOut
	tx.OwnerID = product.OwnerID
	tx.ProductName = product.Name
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	savedTx := tx
	s.transactionsByID[tx.ID] = &savedTx

	var savedCredit *domain.Credit
	if credit != nil {
		c := *credit
		if c.ID == "" {
			c.ID = xid.New("credit")
		}
		c.OwnerID = product.OwnerID
		c.TransactionID = tx.ID
		c.AmountPaidCents = 0
		c.Status = domain.CreditStatusPending
		c.Active = true
		now := time.Now().UTC()
		c.CreatedAt = now
		c.UpdatedAt = now
		s.creditsByID[c.ID] = &c
		s.creditsByTx[tx.ID] = c.ID

		if c.CustomerID != "" {
			customer := s.customersByID[c.CustomerID]
			customer.TotalCreditCents += c.AmountOwedCents
			s.customersByID[c.CustomerID] = customer
		}

		copyCredit := c
		savedCredit = &copyCredit
	}

	result := savedTx
	return &result, savedCredit, nil
}

func (s *Store) CancelTransaction(_ context.Context, ownerID string, id string, reason string, at time.Time) (*domain.StockTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactionsByID[id]
	if !exists || tx.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if tx.Cancelled {
		return nil, store.ErrAlreadyCancelled
	}

	if tx.ProductID != "" {
		product, exists := s.products[tx.ProductID]
		if exists {
			switch tx.Type {
			case domain.TxTypeIn:
				if product.Quantity < tx.Quantity {
					return nil, store.ErrInsufficientStock
				}
				product.Quantity -= tx.Quantity
			case domain.TxTypeOut:
				product.Quantity += tx.Quantity
			}
			product.UpdatedAt = at
			s.products[tx.ProductID] = product
		}
	}

	if creditID, ok := s.creditsByTx[tx.ID]; ok {
		if credit, ok := s.creditsByID[creditID]; ok && credit.Active {
			credit.Active = false
			credit.UpdatedAt = at
			if credit.CustomerID != "" {
				customer := s.customersByID[credit.CustomerID]
				customer.TotalCreditCents -= credit.RemainingCents()
				if customer.TotalCreditCents < 0 {
					customer.TotalCreditCents = 0
				}
				s.customersByID[credit.CustomerID] = customer
			}
		}
	}

	tx.Cancelled = true
	tx.CancelReason = reason
	cancelledAt := at
	tx.CancelledAt = &cancelledAt

	result := *tx
	return &result, nil
}

func (s *Store) FindTransactionByID(_ context.Context, ownerID string, id string) (*domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists || tx.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	result := *tx
	return &result, nil
}

func (s *Store) ListTransactions(_ context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit == 0 {
		limit = 500
	}

	result := make([]domain.StockTransaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if tx.OwnerID != ownerID {
			continue
		}
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *tx)
	}

	slices.SortFunc(result, func(a, b domain.StockTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetCreditByID(_ context.Context, ownerID string, id string) (*domain.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, exists := s.creditsByID[id]
	if !exists || credit.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	result := *credit
	return &result, nil
}

func (s *Store) ListCredits(_ context.Context, ownerID string, status string, limit int) ([]domain.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit == 0 {
		limit = 500
	}

	result := make([]domain.Credit, 0, len(s.creditsByID))
	for _, credit := range s.creditsByID {
		if credit.OwnerID != ownerID {
			continue
		}
		if status != "" && credit.Status != status {
			continue
		}
		result = append(result, *credit)
	}

	slices.SortFunc(result, func(a, b domain.Credit) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) RecordCreditPayment(_ context.Context, ownerID string, payment domain.CreditPayment) (*domain.Credit, *domain.CreditPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.CreditID == "" || payment.AmountCents < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	credit, exists := s.creditsByID[payment.CreditID]
	if !exists || credit.OwnerID != ownerID {
		return nil, nil, store.ErrNotFound
	}
	if !credit.Active {
		return nil, nil, store.ErrInvalidInput
	}
	if credit.AmountPaidCents+payment.AmountCents > credit.AmountOwedCents {
		return nil, nil, store.ErrOverpayment
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}

	credit.AmountPaidCents += payment.AmountCents
	credit.Status = domain.CreditStatusFor(credit.AmountOwedCents, credit.AmountPaidCents)
	credit.UpdatedAt = payment.PaidAt
	s.paymentsByCredit[credit.ID] = append(s.paymentsByCredit[credit.ID], payment)

	if credit.CustomerID != "" {
		customer := s.customersByID[credit.CustomerID]
		customer.TotalCreditCents -= payment.AmountCents
		if customer.TotalCreditCents < 0 {
			customer.TotalCreditCents = 0
		}
		s.customersByID[credit.CustomerID] = customer
	}

	savedCredit := *credit
	savedPayment := payment
	return &savedCredit, &savedPayment, nil
}

func (s *Store) ListCreditPayments(_ context.Context, ownerID string, creditID string) ([]domain.CreditPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, exists := s.creditsByID[creditID]
	if !exists || credit.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	payments := s.paymentsByCredit[creditID]
	result := make([]domain.CreditPayment, len(payments))
	copy(result, payments)
	slices.SortFunc(result, func(a, b domain.CreditPayment) int {
		if a.PaidAt.Equal(b.PaidAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.PaidAt.Before(b.PaidAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetOutstandingBalance(_ context.Context, ownerID string, customerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.OwnerID != ownerID {
		return 0, store.ErrNotFound
	}

	total := int64(0)
	for _, credit := range s.creditsByID {
		if credit.CustomerID != customerID || !credit.Active || credit.Status == domain.CreditStatusPaid {
			continue
		}
		total += credit.RemainingCents()
	}
	return total, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.OwnerID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, ownerID string, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists || customer.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	result := customer
	return &result, nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string, includeArchived bool) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		if customer.OwnerID != ownerID {
			continue
		}
		if customer.Archived && !includeArchived {
			continue
		}
		result = append(result, customer)
	}

	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) ArchiveCustomer(_ context.Context, ownerID string, id string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[id]
	if !exists || customer.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	// Soft delete only: credit and transaction history stays intact.
	customer.Archived = true
	s.customersByID[id] = customer
	result := customer
	return &result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, ownerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if ownerID != "" && entry.OwnerID != ownerID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUserRole(_ context.Context, username string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Role = role
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
