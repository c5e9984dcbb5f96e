package rpc

import "encoding/json"

// NotificationKind tags the inbound notification surface so routing is an
// exhaustive switch rather than string matching at every call site.
type NotificationKind int

const (
	KindUnknown NotificationKind = iota
	KindTurnCompleted
	KindItemCompleted
	KindItemDelta
	KindLoginCompleted
	KindAccountStatus
	KindConnectionStatus
)

// Notification is one inbound line without an id, classified by method.
type Notification struct {
	Kind   NotificationKind
	Method string
	Params json.RawMessage
}

// NotificationHandler receives classified notifications from the read loop.
// Handlers run on the read goroutine and must not block.
type NotificationHandler interface {
	HandleNotification(n Notification)
}

func kindForMethod(method string) NotificationKind {
	switch method {
	case "turn/completed":
		return KindTurnCompleted
	case "item/completed":
		return KindItemCompleted
	case "item/delta":
		return KindItemDelta
	case "account/login/completed":
		return KindLoginCompleted
	case "account/status":
		return KindAccountStatus
	case "connection/status":
		return KindConnectionStatus
	}
	return KindUnknown
}
