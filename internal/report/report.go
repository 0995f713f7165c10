package report

import (
	"fmt"
	"sort"
	"time"

	"stockmanager/backend/internal/domain"
)

const (
	WindowToday = "today"
	WindowWeek  = "week"
	WindowMonth = "month"
)

// WindowRange resolves a named report window to [from, to) in the given
// location. "today" runs from local midnight, "week" from local midnight
// seven days back, "month" from the first of the current month.
func WindowRange(window string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch window {
	case WindowToday:
		return midnight, now, nil
	case WindowWeek:
		return midnight.AddDate(0, 0, -7), now, nil
	case WindowMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc), now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown report window %q", window)
	}
}

// Sales partitions the transactions inside [from, to) into stock-in and
// stock-out buckets, splits stock-out into cash and credit sales, and sums
// profit. Cancelled transactions never contribute to any bucket.
func Sales(window string, from time.Time, to time.Time, txs []domain.StockTransaction) domain.SalesReport {
	rep := domain.SalesReport{
		Window: window,
		From:   from.Format(time.RFC3339),
		To:     to.Format(time.RFC3339),
	}

	for _, tx := range txs {
		if tx.Cancelled {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}

		switch tx.Type {
		case domain.TxTypeIn:
			addTo(&rep.StockIn, tx.Quantity, tx.BuyingPriceCents*int64(tx.Quantity))
		case domain.TxTypeOut:
			amount := tx.SellingPriceCents * int64(tx.Quantity)
			addTo(&rep.StockOut, tx.Quantity, amount)
			rep.ProfitCents += tx.ProfitCents
			if tx.PaymentType == domain.PaymentCredit {
				addTo(&rep.CreditSales, tx.Quantity, amount)
			} else {
				addTo(&rep.CashSales, tx.Quantity, amount)
			}
		}
	}

	return rep
}

func addTo(bucket *domain.ReportBucket, qty int, amountCents int64) {
	bucket.Count++
	bucket.TotalQuantity += qty
	bucket.AmountCents += amountCents
}

// Stock summarizes the live product collection. Low-stock and out-of-stock
// lists come from current quantities, not from transaction history.
func Stock(products []domain.Product) domain.StockReport {
	rep := domain.StockReport{
		LowStock:   make([]domain.Product, 0, 8),
		OutOfStock: make([]domain.Product, 0, 4),
	}

	for _, p := range products {
		if p.Archived {
			continue
		}
		rep.TotalProducts++
		rep.StockValueCents += p.BuyingPriceCents * int64(p.Quantity)
		if p.OutOfStock() {
			rep.OutOfStock = append(rep.OutOfStock, p)
		} else if p.LowStock() {
			rep.LowStock = append(rep.LowStock, p)
		}
	}

	sort.Slice(rep.LowStock, func(i, j int) bool { return rep.LowStock[i].Name < rep.LowStock[j].Name })
	sort.Slice(rep.OutOfStock, func(i, j int) bool { return rep.OutOfStock[i].Name < rep.OutOfStock[j].Name })

	return rep
}

// Credits summarizes outstanding balances across the given credits.
// Inactive credits are excluded from the outstanding total but still
// counted under their status.
func Credits(credits []domain.Credit) domain.CreditReport {
	var rep domain.CreditReport

	for _, c := range credits {
		switch c.Status {
		case domain.CreditStatusPaid:
			rep.PaidCount++
		case domain.CreditStatusPartial:
			rep.PartialCount++
		default:
			rep.PendingCount++
		}
		if c.Active && c.Status != domain.CreditStatusPaid {
			rep.OutstandingCents += c.RemainingCents()
		}
	}

	return rep
}
