package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusPaid     = "paid"
	StatusOverdue  = "overdue"
)

// Amount accepts both JSON numbers and the decimal strings the backend
// emits for money fields.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*a = 0
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		raw = []byte(s)
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", string(raw), err)
	}
	*a = Amount(v)
	return nil
}

func (a Amount) Float64() float64 {
	return float64(a)
}

// Date is a calendar date; it decodes "2006-01-02" and RFC 3339 values.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

type Invoice struct {
	ID         int64     `json:"id"`
	Number     string    `json:"invoice_number"`
	Vendor     string    `json:"vendor_name"`
	Amount     Amount    `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	Category   string    `json:"category"`
	DueDate    Date      `json:"due_date"`
	FraudScore *float64  `json:"fraud_score"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      string    `json:"notification_type"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type Approval struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice"`
	Status    string    `json:"status"`
	Approver  string    `json:"approver"`
	Comment   string    `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

// decodeList accepts a bare JSON array or a paginated {"results": [...]}
// envelope.
func decodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}
