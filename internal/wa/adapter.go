package wa

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/hubescolar/whatsapp/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps a whatsmeow client and translates its events into the
// transport events of this package.
type Adapter struct {
	sessionID string
	client    *whatsmeow.Client
	logger    *zap.Logger

	// ctx outlives the request that created the adapter; it bounds the
	// QR channel and is cancelled by Disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewAdapter opens the credential store at dbPath and builds a client for it.
func NewAdapter(ctx context.Context, sessionID, dbPath string, logger *zap.Logger) (*Adapter, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		sessionID: sessionID,
		client:    whatsmeow.NewClient(deviceStore, nil),
		logger:    logger,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.client.AddEventHandler(a.handle)
	return a, nil
}

// Events returns the ordered transport event stream.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// IsLoggedIn returns whether the adapter has cached credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect opens the connection. Without cached credentials the QR channel
// is requested first, as whatsmeow requires.
func (a *Adapter) Connect(ctx context.Context) error {
	if !a.IsLoggedIn() {
		qrChan, err := a.client.GetQRChannel(a.ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go a.pumpQR(qrChan)
	}
	a.logger.Info("connecting to WhatsApp", zap.Bool("cached_credentials", a.IsLoggedIn()))
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if evt, ok := translateQR(item); ok {
			a.emit(evt)
		}
	}
}

func (a *Adapter) handle(raw any) {
	if evt, ok := translate(raw, a.resolvePhone); ok {
		a.emit(evt)
	}
}

// emit blocks until the consumer takes the event or the adapter is closed.
func (a *Adapter) emit(evt Event) {
	select {
	case a.events <- evt:
	case <-a.done:
	}
}

// resolvePhone maps a hidden-user (LID) JID to its phone-number JID when
// the device store knows the mapping.
func (a *Adapter) resolvePhone(jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	if a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(a.ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// SendText sends a plain text message to an international phone number
// given as digits only.
func (a *Adapter) SendText(ctx context.Context, phone, text string) (SendReceipt, error) {
	if !a.client.IsConnected() {
		return SendReceipt{}, ErrNotConnected
	}
	to := types.NewJID(phone, types.DefaultUserServer)
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return SendReceipt{}, fmt.Errorf("send message: %w", err)
	}
	return SendReceipt{ProviderID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// PhoneNumber returns the paired phone number, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Disconnect closes the connection and stops event emission. Cached
// credentials are kept.
func (a *Adapter) Disconnect() {
	a.closeOnce.Do(func() {
		a.logger.Info("disconnecting from WhatsApp")
		a.cancel()
		a.client.Disconnect()
		close(a.done)
	})
}

// Logout unlinks the device on the phone side and wipes the credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	if !a.IsLoggedIn() {
		return nil
	}
	return a.client.Logout(ctx)
}

// MeowFactory builds whatsmeow adapters with one credential database per session.
type MeowFactory struct {
	layout session.Layout
	logger *zap.Logger
}

// NewFactory creates a factory storing credentials under layout.
// deviceName is shown in the phone's linked devices list.
func NewFactory(layout session.Layout, deviceName string, logger *zap.Logger) *MeowFactory {
	wastore.SetOSInfo(deviceName, [3]uint32{1, 0, 0})
	return &MeowFactory{layout: layout, logger: logger}
}

// NewClient implements wa.Factory.
func (f *MeowFactory) NewClient(ctx context.Context, sessionID string) (Client, error) {
	if err := f.layout.EnsureDir(sessionID); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return NewAdapter(ctx, sessionID, f.layout.CredentialsPath(sessionID), f.logger.With(zap.String("session", sessionID)))
}
