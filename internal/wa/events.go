package wa

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/hubescolar/whatsapp/internal/store"
)

// translateQR maps a QR channel item to a transport event.
func translateQR(item whatsmeow.QRChannelItem) (Event, bool) {
	switch item.Event {
	case "code":
		return PairingCode{Code: item.Code, Timeout: item.Timeout}, true
	case "success":
		// PairSuccess carries the phone number; this only confirms the scan.
		return nil, false
	case "timeout":
		return AuthFailure{Reason: "QR code timeout"}, true
	default:
		if item.Error != nil {
			return AuthFailure{Reason: item.Error.Error()}, true
		}
		return AuthFailure{Reason: item.Event}, true
	}
}

// translate maps a whatsmeow event to a transport event. resolve maps
// hidden-user JIDs to phone-number JIDs.
func translate(raw any, resolve func(types.JID) types.JID) (Event, bool) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		return Authenticated{PhoneNumber: evt.ID.User}, true
	case *events.Connected:
		return Ready{}, true
	case *events.Disconnected:
		return Disconnected{Reason: "connection lost"}, true
	case *events.StreamReplaced:
		return Disconnected{Reason: "stream replaced by another client"}, true
	case *events.LoggedOut:
		return AuthFailure{Reason: "logged out: " + evt.Reason.String()}, true
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return AuthFailure{Reason: fmt.Sprintf("connect failure: %s", evt.Reason)}, true
		}
		return Disconnected{Reason: fmt.Sprintf("connect failure: %s", evt.Reason)}, true
	case *events.TemporaryBan:
		return AuthFailure{Reason: evt.String()}, true
	case *events.ClientOutdated:
		return AuthFailure{Reason: "client outdated"}, true
	case *events.Receipt:
		return translateReceipt(evt)
	case *events.Message:
		return translateMessage(evt, resolve)
	}
	return nil, false
}

func translateReceipt(evt *events.Receipt) (Event, bool) {
	if evt.IsFromMe {
		return nil, false
	}
	var st store.Status
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		st = store.StatusDelivered
	case types.ReceiptTypeRead:
		st = store.StatusRead
	default:
		return nil, false
	}
	ids := make([]string, 0, len(evt.MessageIDs))
	for _, id := range evt.MessageIDs {
		ids = append(ids, string(id))
	}
	return Receipt{ProviderIDs: ids, Status: st, Timestamp: evt.Timestamp}, true
}

func translateMessage(evt *events.Message, resolve func(types.JID) types.JID) (Event, bool) {
	if evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return nil, false
	}
	sender := evt.Info.Sender
	if resolve != nil {
		sender = resolve(sender)
	}
	return ParseInbound(evt, sender), true
}
