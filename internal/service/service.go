package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stockmanager/backend/internal/cache"
	"stockmanager/backend/internal/domain"
	"stockmanager/backend/internal/report"
	"stockmanager/backend/internal/store"
)

type actorContextKey struct{}

// WithActor stamps the authenticated actor onto the context. Handlers do this
// once per request; everything below reads it back through authorize.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	dashboards   cache.DashboardCache
	shopID       string
	reportLoc    *time.Location
	dashboardTTL time.Duration
	now          func() time.Time
}

type Options struct {
	ShopID       string
	ReportLoc    *time.Location
	DashboardTTL time.Duration
}

func New(repo store.Repository, dashboards cache.DashboardCache, opts Options) *Service {
	if dashboards == nil {
		dashboards = cache.NoopDashboardCache{}
	}
	if opts.ShopID == "" {
		opts.ShopID = "main-shop"
	}
	if opts.ReportLoc == nil {
		opts.ReportLoc = time.UTC
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = 30 * time.Second
	}

	return &Service{
		repo:         repo,
		dashboards:   dashboards,
		shopID:       opts.ShopID,
		reportLoc:    opts.ReportLoc,
		dashboardTTL: opts.DashboardTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// authorize is the single permission gate. Every mutating or privileged
// operation goes through it with the roles allowed to perform the action.
func (s *Service) authorize(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, store.ErrUnauthorized
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, store.ErrUnauthorized
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	entry := domain.AuditLog{
		OwnerID:       s.shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: audit log write failed action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, s.shopID, includeArchived)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("product id required: %w", store.ErrInvalidInput)
	}
	return s.repo.GetProductByID(ctx, s.shopID, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager)
	if err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("product name required: %w", store.ErrInvalidInput)
	}
	if req.SellingPriceCents < 1 {
		return nil, fmt.Errorf("selling price must be positive: %w", store.ErrInvalidInput)
	}
	if req.InitialQuantity < 0 || req.MinStockLevel < 0 || req.BuyingPriceCents < 0 {
		return nil, fmt.Errorf("negative amounts not allowed: %w", store.ErrInvalidInput)
	}

	product, err := s.repo.CreateProduct(ctx, domain.Product{
		OwnerID:           s.shopID,
		Name:              req.Name,
		Brand:             strings.TrimSpace(req.Brand),
		Quantity:          req.InitialQuantity,
		MinStockLevel:     req.MinStockLevel,
		BuyingPriceCents:  req.BuyingPriceCents,
		SellingPriceCents: req.SellingPriceCents,
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logAudit(ctx, actor, "product.create", "product", product.ID, product.Name)
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager)
	if err != nil {
		return nil, err
	}

	product, err := s.repo.GetProductByID(ctx, s.shopID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("product name required: %w", store.ErrInvalidInput)
		}
		product.Name = name
	}
	if req.Brand != nil {
		product.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.MinStockLevel != nil {
		if *req.MinStockLevel < 0 {
			return nil, fmt.Errorf("min stock level must not be negative: %w", store.ErrInvalidInput)
		}
		product.MinStockLevel = *req.MinStockLevel
	}
	if req.BuyingPriceCents != nil {
		if *req.BuyingPriceCents < 0 {
			return nil, fmt.Errorf("buying price must not be negative: %w", store.ErrInvalidInput)
		}
		product.BuyingPriceCents = *req.BuyingPriceCents
	}
	if req.SellingPriceCents != nil {
		if *req.SellingPriceCents < 1 {
			return nil, fmt.Errorf("selling price must be positive: %w", store.ErrInvalidInput)
		}
		product.SellingPriceCents = *req.SellingPriceCents
	}
	if req.Archived != nil {
		product.Archived = *req.Archived
	}

	updated, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.logAudit(ctx, actor, "product.update", "product", updated.ID, updated.Name)
	return updated, nil
}

// RecordStockIn appends an IN entry to the stock ledger and raises the
// product quantity. Restocking is a back-office action; staff only sell.
func (s *Service) RecordStockIn(ctx context.Context, req domain.StockInRequest) (*domain.StockTransaction, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager)
	if err != nil {
		return nil, err
	}

	if req.ProductID == "" {
		return nil, fmt.Errorf("product id required: %w", store.ErrInvalidInput)
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be positive: %w", store.ErrInvalidInput)
	}
	if req.BuyingPriceCents < 0 {
		return nil, fmt.Errorf("buying price must not be negative: %w", store.ErrInvalidInput)
	}

	product, err := s.repo.GetProductByID(ctx, s.shopID, req.ProductID)
	if err != nil {
		return nil, err
	}

	buying := req.BuyingPriceCents
	if buying == 0 {
		buying = product.BuyingPriceCents
	}

	tx, err := s.repo.RecordStockIn(ctx, domain.StockTransaction{
		ProductID:        product.ID,
		ProductName:      product.Name,
		Quantity:         req.Quantity,
		BuyingPriceCents: buying,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record stock in: %w", err)
	}

	s.logAudit(ctx, actor, "stock.in", "transaction", tx.ID,
		fmt.Sprintf("%s x%d", tx.ProductName, tx.Quantity))
	return tx, nil
}

// RecordStockOut appends an OUT entry and decrements the product quantity.
// When the payment type is CREDIT a credit entry opens in the same atomic
// operation, so a failed decrement never leaves a dangling credit.
func (s *Service) RecordStockOut(ctx context.Context, req domain.StockOutRequest) (*domain.StockOutResponse, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff)
	if err != nil {
		return nil, err
	}

	if req.ProductID == "" {
		return nil, fmt.Errorf("product id required: %w", store.ErrInvalidInput)
	}
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be positive: %w", store.ErrInvalidInput)
	}
	if req.PaymentType != domain.PaymentCash && req.PaymentType != domain.PaymentCredit {
		return nil, fmt.Errorf("payment type must be CASH or CREDIT: %w", store.ErrInvalidInput)
	}
	if req.SellingPriceCents < 0 {
		return nil, fmt.Errorf("selling price must not be negative: %w", store.ErrInvalidInput)
	}

	product, err := s.repo.GetProductByID(ctx, s.shopID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.Archived {
		return nil, fmt.Errorf("product %s is archived: %w", product.ID, store.ErrInvalidInput)
	}

	selling := req.SellingPriceCents
	if selling == 0 {
		selling = product.SellingPriceCents
	}

	tx := domain.StockTransaction{
		ProductID:         product.ID,
		ProductName:       product.Name,
		Quantity:          req.Quantity,
		PaymentType:       req.PaymentType,
		BuyingPriceCents:  product.BuyingPriceCents,
		SellingPriceCents: selling,
		ProfitCents:       (selling - product.BuyingPriceCents) * int64(req.Quantity),
		CreatedAt:         s.now(),
	}

	var credit *domain.Credit
	if req.PaymentType == domain.PaymentCredit {
		customerName := strings.TrimSpace(req.CustomerName)
		if req.CustomerID != "" {
			customer, err := s.repo.GetCustomerByID(ctx, s.shopID, req.CustomerID)
			if err != nil {
				return nil, err
			}
			if customer.Archived {
				return nil, fmt.Errorf("customer %s is archived: %w", customer.ID, store.ErrInvalidInput)
			}
			customerName = customer.Name
		}
		if customerName == "" {
			return nil, fmt.Errorf("credit sale needs a customer: %w", store.ErrInvalidInput)
		}
		credit = &domain.Credit{
			CustomerID:      req.CustomerID,
			CustomerName:    customerName,
			AmountOwedCents: selling * int64(req.Quantity),
		}
	}

	savedTx, savedCredit, err := s.repo.RecordStockOut(ctx, tx, credit)
	if err != nil {
		return nil, fmt.Errorf("record stock out: %w", err)
	}

	s.logAudit(ctx, actor, "stock.out", "transaction", savedTx.ID,
		fmt.Sprintf("%s x%d %s", savedTx.ProductName, savedTx.Quantity, savedTx.PaymentType))
	return &domain.StockOutResponse{Transaction: *savedTx, Credit: savedCredit}, nil
}

// CancelTransaction marks a ledger entry cancelled and reverses its quantity
// delta. Cancelling a credit sale deactivates the credit; payments already
// collected stay on record. Only the boss may rewrite ledger history.
func (s *Service) CancelTransaction(ctx context.Context, id string, reason string) (*domain.StockTransaction, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if id == "" {
		return nil, fmt.Errorf("transaction id required: %w", store.ErrInvalidInput)
	}
	if reason == "" {
		return nil, fmt.Errorf("cancellation reason required: %w", store.ErrInvalidInput)
	}

	tx, err := s.repo.CancelTransaction(ctx, s.shopID, id, reason, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel transaction %s: %w", id, err)
	}

	s.logAudit(ctx, actor, "stock.cancel", "transaction", tx.ID, reason)
	return tx, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.StockTransaction, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("transaction id required: %w", store.ErrInvalidInput)
	}
	return s.repo.FindTransactionByID(ctx, s.shopID, id)
}

func (s *Service) ListTransactions(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.StockTransaction, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("from must precede to: %w", store.ErrInvalidInput)
	}
	return s.repo.ListTransactions(ctx, s.shopID, from, to, limit)
}

func (s *Service) GetCredit(ctx context.Context, id string) (*domain.Credit, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("credit id required: %w", store.ErrInvalidInput)
	}
	return s.repo.GetCreditByID(ctx, s.shopID, id)
}

func (s *Service) ListCredits(ctx context.Context, status string, limit int) ([]domain.Credit, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	switch status {
	case "", domain.CreditStatusPending, domain.CreditStatusPartial, domain.CreditStatusPaid:
	default:
		return nil, fmt.Errorf("unknown credit status %q: %w", status, store.ErrInvalidInput)
	}
	return s.repo.ListCredits(ctx, s.shopID, status, limit)
}

// RecordPayment applies a partial or full payment against a credit. The
// store rejects amounts above the remaining balance with ErrOverpayment.
func (s *Service) RecordPayment(ctx context.Context, creditID string, req domain.CreditPaymentRequest) (*domain.CreditPaymentResponse, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff)
	if err != nil {
		return nil, err
	}

	if creditID == "" {
		return nil, fmt.Errorf("credit id required: %w", store.ErrInvalidInput)
	}
	if req.AmountCents < 1 {
		return nil, fmt.Errorf("payment amount must be positive: %w", store.ErrInvalidInput)
	}

	credit, payment, err := s.repo.RecordCreditPayment(ctx, s.shopID, domain.CreditPayment{
		CreditID:    creditID,
		AmountCents: req.AmountCents,
		PaidAt:      s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record payment on credit %s: %w", creditID, err)
	}

	s.logAudit(ctx, actor, "credit.payment", "credit", credit.ID,
		fmt.Sprintf("paid %d, status %s", payment.AmountCents, credit.Status))
	return &domain.CreditPaymentResponse{Credit: *credit, Payment: *payment}, nil
}

func (s *Service) ListCreditPayments(ctx context.Context, creditID string) ([]domain.CreditPayment, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if creditID == "" {
		return nil, fmt.Errorf("credit id required: %w", store.ErrInvalidInput)
	}
	if _, err := s.repo.GetCreditByID(ctx, s.shopID, creditID); err != nil {
		return nil, err
	}
	return s.repo.ListCreditPayments(ctx, s.shopID, creditID)
}

// GetOutstandingBalance sums the unpaid remainder across a customer's active
// credits.
func (s *Service) GetOutstandingBalance(ctx context.Context, customerID string) (*domain.CustomerBalanceResponse, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, fmt.Errorf("customer id required: %w", store.ErrInvalidInput)
	}
	total, err := s.repo.GetOutstandingBalance(ctx, s.shopID, customerID)
	if err != nil {
		return nil, err
	}
	return &domain.CustomerBalanceResponse{CustomerID: customerID, OutstandingCents: total}, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff)
	if err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("customer name required: %w", store.ErrInvalidInput)
	}

	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		OwnerID: s.shopID,
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	s.logAudit(ctx, actor, "customer.create", "customer", customer.ID, customer.Name)
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("customer id required: %w", store.ErrInvalidInput)
	}
	return s.repo.GetCustomerByID(ctx, s.shopID, id)
}

func (s *Service) ListCustomers(ctx context.Context, includeArchived bool) ([]domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, s.shopID, includeArchived)
}

func (s *Service) ArchiveCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	actor, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("customer id required: %w", store.ErrInvalidInput)
	}

	customer, err := s.repo.ArchiveCustomer(ctx, s.shopID, id)
	if err != nil {
		return nil, fmt.Errorf("archive customer %s: %w", id, err)
	}

	s.logAudit(ctx, actor, "customer.archive", "customer", customer.ID, customer.Name)
	return customer, nil
}

// SalesReport aggregates the stock ledger over a named window in the shop's
// configured timezone.
func (s *Service) SalesReport(ctx context.Context, window string) (*domain.SalesReport, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}

	from, to, err := report.WindowRange(window, s.now(), s.reportLoc)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, store.ErrInvalidInput)
	}

	// Reports aggregate the whole window; a negative limit disables paging.
	txs, err := s.repo.ListTransactions(ctx, s.shopID, from, to, -1)
	if err != nil {
		return nil, fmt.Errorf("load transactions for sales report: %w", err)
	}

	rep := report.Sales(window, from, to, txs)
	return &rep, nil
}

func (s *Service) StockReport(ctx context.Context) (*domain.StockReport, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}

	products, err := s.repo.ListProducts(ctx, s.shopID, false)
	if err != nil {
		return nil, fmt.Errorf("load products for stock report: %w", err)
	}

	rep := report.Stock(products)
	return &rep, nil
}

func (s *Service) CreditReport(ctx context.Context) (*domain.CreditReport, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}

	credits, err := s.repo.ListCredits(ctx, s.shopID, "", -1)
	if err != nil {
		return nil, fmt.Errorf("load credits for credit report: %w", err)
	}

	rep := report.Credits(credits)
	return &rep, nil
}

// DashboardSummary bundles the three reports for the landing view. The
// result is cached for a short TTL since it is read on every page load.
func (s *Service) DashboardSummary(ctx context.Context, window string) (*domain.DashboardSummary, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager, domain.RoleStaff); err != nil {
		return nil, err
	}
	if window == "" {
		window = report.WindowToday
	}

	cacheKey := fmt.Sprintf("dashboard:%s:%s", s.shopID, window)
	if cached, ok, err := s.dashboards.Get(ctx, cacheKey); err != nil {
		log.Printf("[service] WARN: dashboard cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	sales, err := s.SalesReport(ctx, window)
	if err != nil {
		return nil, err
	}
	stock, err := s.StockReport(ctx)
	if err != nil {
		return nil, err
	}
	credit, err := s.CreditReport(ctx)
	if err != nil {
		return nil, err
	}

	summary := &domain.DashboardSummary{
		GeneratedAt: s.now().Format(time.RFC3339),
		Sales:       *sales,
		Stock:       *stock,
		Credit:      *credit,
	}

	if err := s.dashboards.Set(ctx, cacheKey, summary, s.dashboardTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed: %v", err)
	}

	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, domain.RoleBoss, domain.RoleManager); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	return s.repo.ListAuditLogs(ctx, s.shopID, from, to, limit)
}
