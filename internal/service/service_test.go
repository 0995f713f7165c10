package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockmanager/backend/internal/cache"
	"stockmanager/backend/internal/domain"
	"stockmanager/backend/internal/store"
	"stockmanager/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopDashboardCache{}, Options{ShopID: "main-shop"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: domain.RoleManager})
}

func bossCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "boss", Role: domain.RoleBoss})
}

func TestStockInRaisesQuantity(t *testing.T) {
	svc := newTestService()
	ctx := managerCtx()

	before, err := svc.GetProduct(ctx, "prod-soda-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	tx, err := svc.RecordStockIn(ctx, domain.StockInRequest{
		ProductID: "prod-soda-01",
		Quantity:  30,
	})
	if err != nil {
		t.Fatalf("stock in failed: %v", err)
	}
	if tx.Type != domain.TxTypeIn {
		t.Fatalf("expected IN transaction, got %s", tx.Type)
	}

	after, err := svc.GetProduct(ctx, "prod-soda-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Quantity != before.Quantity+30 {
		t.Fatalf("expected quantity %d, got %d", before.Quantity+30, after.Quantity)
	}
}

func TestStockOutCashLowersQuantityAndOpensNoCredit(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soda-01",
		Quantity:    5,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}
	if resp.Credit != nil {
		t.Fatalf("cash sale must not open a credit")
	}
	if resp.Transaction.Type != domain.TxTypeOut {
		t.Fatalf("expected OUT transaction, got %s", resp.Transaction.Type)
	}

	product, err := svc.GetProduct(ctx, "prod-soda-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 115 {
		t.Fatalf("expected quantity 115, got %d", product.Quantity)
	}
}

func TestStockOutInsufficientStockLeavesStateUntouched(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	_, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:    "prod-flour-01",
		Quantity:     9, // seeded with 8 on hand
		PaymentType:  domain.PaymentCredit,
		CustomerName: "Walk-in",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	product, err := svc.GetProduct(ctx, "prod-flour-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 8 {
		t.Fatalf("quantity changed on failed stock out: %d", product.Quantity)
	}

	credits, err := svc.ListCredits(ctx, "", 0)
	if err != nil {
		t.Fatalf("list credits failed: %v", err)
	}
	if len(credits) != 0 {
		t.Fatalf("failed stock out left %d dangling credits", len(credits))
	}
}

func TestCreditSaleOpensPendingCredit(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-rice-01",
		Quantity:    2,
		PaymentType: domain.PaymentCredit,
		CustomerID:  "cust-jane-01",
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}
	if resp.Credit == nil {
		t.Fatalf("credit sale must open a credit")
	}
	if resp.Credit.Status != domain.CreditStatusPending {
		t.Fatalf("expected PENDING credit, got %s", resp.Credit.Status)
	}
	if resp.Credit.AmountOwedCents != 2*9900 {
		t.Fatalf("expected owed %d, got %d", 2*9900, resp.Credit.AmountOwedCents)
	}
	if resp.Credit.CustomerName != "Jane Wairimu" {
		t.Fatalf("customer name not resolved: %q", resp.Credit.CustomerName)
	}

	balance, err := svc.GetOutstandingBalance(ctx, "cust-jane-01")
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance.OutstandingCents != 2*9900 {
		t.Fatalf("expected outstanding %d, got %d", 2*9900, balance.OutstandingCents)
	}
}

func TestPaymentLifecyclePendingPartialPaid(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soda-01",
		Quantity:    10, // 10 x 1500 = 15000 owed
		PaymentType: domain.PaymentCredit,
		CustomerID:  "cust-otis-01",
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}
	creditID := resp.Credit.ID

	partial, err := svc.RecordPayment(ctx, creditID, domain.CreditPaymentRequest{AmountCents: 6000})
	if err != nil {
		t.Fatalf("partial payment failed: %v", err)
	}
	if partial.Credit.Status != domain.CreditStatusPartial {
		t.Fatalf("expected PARTIAL after partial payment, got %s", partial.Credit.Status)
	}
	if partial.Credit.RemainingCents() != 9000 {
		t.Fatalf("expected 9000 remaining, got %d", partial.Credit.RemainingCents())
	}

	full, err := svc.RecordPayment(ctx, creditID, domain.CreditPaymentRequest{AmountCents: 9000})
	if err != nil {
		t.Fatalf("final payment failed: %v", err)
	}
	if full.Credit.Status != domain.CreditStatusPaid {
		t.Fatalf("expected PAID after settling, got %s", full.Credit.Status)
	}

	balance, err := svc.GetOutstandingBalance(ctx, "cust-otis-01")
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance.OutstandingCents != 0 {
		t.Fatalf("expected zero outstanding, got %d", balance.OutstandingCents)
	}

	payments, err := svc.ListCreditPayments(ctx, creditID)
	if err != nil {
		t.Fatalf("list payments failed: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
}

func TestOverpaymentRejectedWithoutSideEffects(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soda-01",
		Quantity:    2, // 3000 owed
		PaymentType: domain.PaymentCredit,
		CustomerID:  "cust-jane-01",
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}

	_, err = svc.RecordPayment(ctx, resp.Credit.ID, domain.CreditPaymentRequest{AmountCents: 3001})
	if !errors.Is(err, store.ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	credit, err := svc.GetCredit(ctx, resp.Credit.ID)
	if err != nil {
		t.Fatalf("get credit failed: %v", err)
	}
	if credit.AmountPaidCents != 0 || credit.Status != domain.CreditStatusPending {
		t.Fatalf("rejected payment mutated credit: paid=%d status=%s", credit.AmountPaidCents, credit.Status)
	}
}

func TestCreditStatusDerivation(t *testing.T) {
	cases := []struct {
		owed int64
		paid int64
		want string
	}{
		{100, 0, domain.CreditStatusPending},
		{100, 40, domain.CreditStatusPartial},
		{100, 100, domain.CreditStatusPaid},
	}
	for _, tc := range cases {
		if got := domain.CreditStatusFor(tc.owed, tc.paid); got != tc.want {
			t.Fatalf("CreditStatusFor(%d, %d) = %s, want %s", tc.owed, tc.paid, got, tc.want)
		}
	}
}

func TestCancelRestoresStockAndDeactivatesCredit(t *testing.T) {
	svc := newTestService()
	ctx := bossCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-oil-01",
		Quantity:    3,
		PaymentType: domain.PaymentCredit,
		CustomerID:  "cust-jane-01",
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}

	cancelled, err := svc.CancelTransaction(ctx, resp.Transaction.ID, "entered wrong product")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !cancelled.Cancelled || cancelled.CancelledAt == nil {
		t.Fatalf("transaction not marked cancelled")
	}

	product, err := svc.GetProduct(ctx, "prod-oil-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 45 {
		t.Fatalf("expected restored quantity 45, got %d", product.Quantity)
	}

	credit, err := svc.GetCredit(ctx, resp.Credit.ID)
	if err != nil {
		t.Fatalf("get credit failed: %v", err)
	}
	if credit.Active {
		t.Fatalf("credit still active after cancellation")
	}

	balance, err := svc.GetOutstandingBalance(ctx, "cust-jane-01")
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance.OutstandingCents != 0 {
		t.Fatalf("cancelled credit still counted: %d", balance.OutstandingCents)
	}
}

func TestDoubleCancelFails(t *testing.T) {
	svc := newTestService()
	ctx := bossCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soap-01",
		Quantity:    1,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}

	if _, err := svc.CancelTransaction(ctx, resp.Transaction.ID, "mistake"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	_, err = svc.CancelTransaction(ctx, resp.Transaction.ID, "again")
	if !errors.Is(err, store.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}

	product, err := svc.GetProduct(ctx, "prod-soap-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 200 {
		t.Fatalf("double cancel changed quantity: %d", product.Quantity)
	}
}

func TestStaffCannotCancelTransactions(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordStockOut(staffCtx(), domain.StockOutRequest{
		ProductID:   "prod-soap-01",
		Quantity:    1,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}

	_, err = svc.CancelTransaction(staffCtx(), resp.Transaction.ID, "oops")
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for staff cancel, got %v", err)
	}
}

func TestOnlyBossCancelsTransactions(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordStockOut(managerCtx(), domain.StockOutRequest{
		ProductID:   "prod-soap-01",
		Quantity:    1,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}

	_, err = svc.CancelTransaction(managerCtx(), resp.Transaction.ID, "oops")
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for manager cancel, got %v", err)
	}

	if _, err := svc.CancelTransaction(bossCtx(), resp.Transaction.ID, "boss override"); err != nil {
		t.Fatalf("boss cancel failed: %v", err)
	}
}

func TestStaffCannotRecordStockIn(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordStockIn(staffCtx(), domain.StockInRequest{
		ProductID: "prod-soda-01",
		Quantity:  10,
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for staff stock in, got %v", err)
	}

	product, err := svc.GetProduct(staffCtx(), "prod-soda-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 120 {
		t.Fatalf("rejected stock in changed quantity: %d", product.Quantity)
	}
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	svc := newTestService()

	_, err := svc.ListProducts(context.Background(), false)
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without actor, got %v", err)
	}
}

func TestSalesReportExcludesCancelled(t *testing.T) {
	svc := newTestService()
	ctx := bossCtx()

	kept, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soda-01",
		Quantity:    4,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}
	doomed, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-soda-01",
		Quantity:    6,
		PaymentType: domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("stock out failed: %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, doomed.Transaction.ID, "test"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	rep, err := svc.SalesReport(ctx, "today")
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}
	if rep.StockOut.TotalQuantity != kept.Transaction.Quantity {
		t.Fatalf("expected only kept sale in report, got quantity %d", rep.StockOut.TotalQuantity)
	}
	if rep.CashSales.Count != 1 {
		t.Fatalf("expected 1 cash sale, got %d", rep.CashSales.Count)
	}
}

func TestSalesReportCountsEveryTransactionInWindow(t *testing.T) {
	svc := newTestService()
	ctx := managerCtx()

	// Well past the default list page size, so the report must read the
	// whole window rather than the first page.
	const entries = 600
	for i := 0; i < entries; i++ {
		if _, err := svc.RecordStockIn(ctx, domain.StockInRequest{
			ProductID: "prod-soap-01",
			Quantity:  1,
		}); err != nil {
			t.Fatalf("stock in %d failed: %v", i, err)
		}
	}

	rep, err := svc.SalesReport(ctx, "today")
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}
	if rep.StockIn.Count != entries {
		t.Fatalf("expected %d stock-in entries in report, got %d", entries, rep.StockIn.Count)
	}
	if rep.StockIn.TotalQuantity != entries {
		t.Fatalf("expected total quantity %d, got %d", entries, rep.StockIn.TotalQuantity)
	}
}

func TestStockReportFlagsLowAndOutOfStock(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	rep, err := svc.StockReport(ctx)
	if err != nil {
		t.Fatalf("stock report failed: %v", err)
	}
	// prod-flour-01 is seeded at 8 with a threshold of 12.
	found := false
	for _, p := range rep.LowStock {
		if p.ID == "prod-flour-01" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected prod-flour-01 in low stock list")
	}
	if rep.TotalProducts != 5 {
		t.Fatalf("expected 5 products, got %d", rep.TotalProducts)
	}
}

func TestDashboardSummaryDefaults(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	first, err := svc.DashboardSummary(ctx, "")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if first.Sales.Window != "today" {
		t.Fatalf("default window should be today, got %s", first.Sales.Window)
	}
	if first.Credit.OutstandingCents != 0 {
		t.Fatalf("fresh shop should owe nothing, got %d", first.Credit.OutstandingCents)
	}
}

func TestCancelledCreditKeepsCollectedPayments(t *testing.T) {
	svc := newTestService()
	ctx := bossCtx()

	resp, err := svc.RecordStockOut(ctx, domain.StockOutRequest{
		ProductID:   "prod-rice-01",
		Quantity:    1, // 9900 owed
		PaymentType: domain.PaymentCredit,
		CustomerID:  "cust-otis-01",
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}
	if _, err := svc.RecordPayment(ctx, resp.Credit.ID, domain.CreditPaymentRequest{AmountCents: 4000}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, resp.Transaction.ID, "return"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	payments, err := svc.ListCreditPayments(ctx, resp.Credit.ID)
	if err != nil {
		t.Fatalf("list payments failed: %v", err)
	}
	if len(payments) != 1 || payments[0].AmountCents != 4000 {
		t.Fatalf("collected payment lost after cancellation: %+v", payments)
	}

	customer, err := svc.GetCustomer(ctx, "cust-otis-01")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.TotalCreditCents != 0 {
		t.Fatalf("expected zero running balance after cancel, got %d", customer.TotalCreditCents)
	}
}

func TestListTransactionsValidatesRange(t *testing.T) {
	svc := newTestService()
	ctx := staffCtx()

	now := time.Now().UTC()
	_, err := svc.ListTransactions(ctx, now, now.Add(-time.Hour), 0)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}
