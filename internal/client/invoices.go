package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

type InvoiceFilter struct {
	Status   string
	Category string
	Search   string
	Ordering string
}

func (f InvoiceFilter) values() url.Values {
	values := url.Values{}
	if v := strings.TrimSpace(f.Status); v != "" {
		values.Set("status", v)
	}
	if v := strings.TrimSpace(f.Category); v != "" {
		values.Set("category", v)
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		values.Set("search", v)
	}
	if v := strings.TrimSpace(f.Ordering); v != "" {
		values.Set("ordering", v)
	}
	return values
}

func invoicePath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("invoices/%d/", id)
	}
	return fmt.Sprintf("invoices/%d/%s/", id, action)
}

func (c *Client) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "invoices/", Query: filter.values()})
	if err != nil {
		return nil, err
	}
	invoices, err := decodeList[Invoice](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode invoices: %w", err)
	}
	return invoices, nil
}

func (c *Client) DeleteInvoice(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodDelete, invoicePath(id, ""), nil, nil)
}

func (c *Client) ApproveInvoice(ctx context.Context, id int64, comment string) (Invoice, error) {
	var invoice Invoice
	err := c.sendJSON(ctx, http.MethodPost, invoicePath(id, "approve"), map[string]string{"comments": comment}, &invoice)
	return invoice, err
}

func (c *Client) RejectInvoice(ctx context.Context, id int64, reason string) (Invoice, error) {
	var invoice Invoice
	err := c.sendJSON(ctx, http.MethodPost, invoicePath(id, "reject"), map[string]string{"comments": reason}, &invoice)
	return invoice, err
}

// UploadInvoiceDocument attaches a scanned document to an invoice as a
// multipart "file" field.
func (c *Client) UploadInvoiceDocument(ctx context.Context, id int64, filename string, content io.Reader) (Invoice, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Invoice{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return Invoice{}, fmt.Errorf("read document: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Invoice{}, err
	}

	header := http.Header{}
	header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   invoicePath(id, "upload"),
		Body:   buf.Bytes(),
		Header: header,
	})
	if err != nil {
		return Invoice{}, err
	}
	var invoice Invoice
	if err := resp.Decode(&invoice); err != nil {
		return Invoice{}, fmt.Errorf("decode upload response: %w", err)
	}
	return invoice, nil
}

func (c *Client) ListPendingApprovals(ctx context.Context) ([]Approval, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "approvals/", Query: url.Values{"status": {StatusPending}}})
	if err != nil {
		return nil, err
	}
	approvals, err := decodeList[Approval](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	return approvals, nil
}
