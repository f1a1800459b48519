package app

import (
	"sort"
	"strings"
	"time"

	"invoicedash/internal/client"
)

const uncategorized = "uncategorized"

// StatusFilters is the cycle order used by the status filter control; ""
// shows every invoice.
var StatusFilters = []string{
	"",
	client.StatusPending,
	client.StatusApproved,
	client.StatusRejected,
	client.StatusPaid,
	client.StatusOverdue,
}

type Summary struct {
	InvoiceCount        int
	TotalAmount         float64
	PaidAmount          float64
	PendingAmount       float64
	OverdueAmount       float64
	OverdueCount        int
	StatusCounts        map[string]int
	CategoryTotals      map[string]float64
	PendingApprovals    int
	UnreadNotifications int
	// ApprovalRate is the share of decided invoices that were approved or
	// paid, in percent.
	ApprovalRate float64
	// PaidPercent is the paid share of the total amount, in percent.
	PaidPercent float64
}

// Summarize aggregates invoice totals as of now. An invoice past its due
// date that is neither paid nor rejected counts as overdue.
func Summarize(invoices []client.Invoice, now time.Time) Summary {
	summary := Summary{
		InvoiceCount:   len(invoices),
		StatusCounts:   map[string]int{},
		CategoryTotals: map[string]float64{},
	}
	var decided, approved int
	for _, invoice := range invoices {
		amount := invoice.Amount.Float64()
		status := strings.ToLower(strings.TrimSpace(invoice.Status))
		summary.TotalAmount += amount
		summary.StatusCounts[status]++

		category := strings.TrimSpace(invoice.Category)
		if category == "" {
			category = uncategorized
		}
		summary.CategoryTotals[category] += amount

		switch status {
		case client.StatusPaid:
			summary.PaidAmount += amount
			decided++
			approved++
		case client.StatusApproved:
			decided++
			approved++
		case client.StatusRejected:
			decided++
		case client.StatusPending:
			summary.PendingAmount += amount
		}
		if IsOverdue(invoice, now) {
			summary.OverdueAmount += amount
			summary.OverdueCount++
		}
	}
	summary.ApprovalRate = percent(float64(approved), float64(decided))
	summary.PaidPercent = percent(summary.PaidAmount, summary.TotalAmount)
	return summary
}

func IsOverdue(invoice client.Invoice, now time.Time) bool {
	status := strings.ToLower(strings.TrimSpace(invoice.Status))
	switch status {
	case client.StatusOverdue:
		return true
	case client.StatusPaid, client.StatusRejected:
		return false
	}
	if invoice.DueDate.IsZero() {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return invoice.DueDate.Before(today)
}

func percent(part float64, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

type Filter struct {
	Status string
	Search string
}

// FilterInvoices returns the invoices matching f, newest first. Status
// "overdue" also matches invoices that are overdue by date.
func FilterInvoices(invoices []client.Invoice, f Filter, now time.Time) []client.Invoice {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]client.Invoice, 0, len(invoices))
	for _, invoice := range invoices {
		if status != "" {
			if status == client.StatusOverdue {
				if !IsOverdue(invoice, now) {
					continue
				}
			} else if strings.ToLower(invoice.Status) != status {
				continue
			}
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(invoice.Vendor), search) &&
			!strings.Contains(strings.ToLower(invoice.Number), search) {
			continue
		}
		out = append(out, invoice)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SortedCategories returns category names by descending total.
func (s Summary) SortedCategories() []string {
	names := make([]string, 0, len(s.CategoryTotals))
	for name := range s.CategoryTotals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.CategoryTotals[names[i]] != s.CategoryTotals[names[j]] {
			return s.CategoryTotals[names[i]] > s.CategoryTotals[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
