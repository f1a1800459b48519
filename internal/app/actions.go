package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
)

// Outbound realtime event types.
const (
	EventNotificationRead    = "notification.read"
	EventNotificationReadAll = "notification.read_all"
)

// Actions are the user operations available while a dashboard runs.
// Each one refreshes the affected part of the dashboard when it succeeds.
type Actions interface {
	ApproveInvoice(ctx context.Context, id int64, comment string) error
	RejectInvoice(ctx context.Context, id int64, reason string) error
	DeleteInvoice(ctx context.Context, id int64) error
	UploadInvoiceDocument(ctx context.Context, id int64, path string) error
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	SignOut() error
}

var _ Actions = (*DashboardApp)(nil)

func (a *DashboardApp) ApproveInvoice(ctx context.Context, id int64, comment string) error {
	invoice, err := a.api.ApproveInvoice(ctx, id, strings.TrimSpace(comment))
	if err != nil {
		return fmt.Errorf("approve invoice %d: %w", id, err)
	}
	a.logger.Info("invoice approved", logging.Field("invoice_id", id), logging.Field("status", invoice.Status))
	a.trigger.Notify(scopeInvoices | scopeApprovals)
	return nil
}

func (a *DashboardApp) RejectInvoice(ctx context.Context, id int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	invoice, err := a.api.RejectInvoice(ctx, id, reason)
	if err != nil {
		return fmt.Errorf("reject invoice %d: %w", id, err)
	}
	a.logger.Info("invoice rejected", logging.Field("invoice_id", id), logging.Field("status", invoice.Status))
	a.trigger.Notify(scopeInvoices | scopeApprovals)
	return nil
}

func (a *DashboardApp) DeleteInvoice(ctx context.Context, id int64) error {
	if err := a.api.DeleteInvoice(ctx, id); err != nil {
		return fmt.Errorf("delete invoice %d: %w", id, err)
	}
	a.logger.Info("invoice deleted", logging.Field("invoice_id", id))
	a.trigger.Notify(scopeInvoices | scopeApprovals)
	return nil
}

// UploadInvoiceDocument attaches the file at path to an invoice.
func (a *DashboardApp) UploadInvoiceDocument(ctx context.Context, id int64, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("upload document: no file given")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	defer file.Close()

	if _, err := a.api.UploadInvoiceDocument(ctx, id, filepath.Base(path), file); err != nil {
		return fmt.Errorf("upload document to invoice %d: %w", id, err)
	}
	a.logger.Info("invoice document uploaded", logging.Field("invoice_id", id), logging.Field("file", filepath.Base(path)))
	a.trigger.Notify(scopeInvoices)
	return nil
}

func (a *DashboardApp) MarkNotificationRead(ctx context.Context, id int64) error {
	if err := a.api.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	a.publish(EventNotificationRead, map[string]int64{"id": id})
	a.trigger.Notify(scopeNotifications)
	return nil
}

func (a *DashboardApp) MarkAllNotificationsRead(ctx context.Context) error {
	if err := a.api.MarkAllNotificationsRead(ctx); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	a.publish(EventNotificationReadAll, nil)
	a.trigger.Notify(scopeNotifications)
	return nil
}

// SignOut forgets the stored credentials and ends the current run with
// ErrSignedOut.
func (a *DashboardApp) SignOut() error {
	if err := a.api.Logout(); err != nil {
		return err
	}
	a.trigger.Notify(scopeSignedOut)
	return nil
}

// publish tells other sessions about a local change. Events the channel
// cannot send are dropped.
func (a *DashboardApp) publish(eventType string, payload any) {
	event, err := realtime.NewEvent(eventType, payload)
	if err != nil {
		a.logger.Warn("failed to encode realtime event", logging.Field("type", eventType), logging.Field("error", err))
		return
	}
	if !a.channel.Send(event) {
		a.logger.Debug("realtime event not sent", logging.Field("type", eventType))
	}
}
