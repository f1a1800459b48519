package realtime

import (
	"encoding/json"
	"strings"
)

const (
	NamespaceInvoice      = "invoice"
	NamespaceNotification = "notification"
	NamespaceUser         = "user"
)

// Classified is the closed set of inbound event variants. Consumers switch
// on the concrete type.
type Classified interface {
	Action() string
	Raw() Event
	classified()
}

type base struct {
	action string
	event  Event
}

func (b base) Action() string { return b.action }
func (b base) Raw() Event      { return b.event }
func (base) classified()       {}

type InvoiceEvent struct {
	base
	InvoiceID int64
}

type NotificationEvent struct {
	base
	NotificationID int64
}

type UserEvent struct {
	base
}

// UnknownEvent carries any type outside the known namespaces.
type UnknownEvent struct {
	base
}

type idPayload struct {
	ID        int64 `json:"id"`
	InvoiceID int64 `json:"invoice_id"`
}

// Classify maps an event onto its typed variant by namespace prefix:
// "invoice.created" becomes an InvoiceEvent with action "created".
func Classify(event Event) Classified {
	namespace, action, _ := strings.Cut(strings.TrimSpace(event.Type), ".")
	b := base{action: action, event: event}

	var ids idPayload
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &ids)
	}

	switch strings.ToLower(namespace) {
	case NamespaceInvoice:
		id := ids.InvoiceID
		if id == 0 {
			id = ids.ID
		}
		return InvoiceEvent{base: b, InvoiceID: id}
	case NamespaceNotification:
		return NotificationEvent{base: b, NotificationID: ids.ID}
	case NamespaceUser:
		return UserEvent{base: b}
	default:
		return UnknownEvent{base: base{action: event.Type, event: event}}
	}
}
