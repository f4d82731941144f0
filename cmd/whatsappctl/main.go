package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hubescolar/whatsapp/internal/client"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/daemon"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/tui/views"
)

type ctl struct {
	cfg        *config.Config
	configPath string
	client     *client.Client
	session    string
	jsonOut    bool
}

func main() {
	configFlag := flag.String("config", "whatsapp.toml", "path to the TOML config file")
	urlFlag := flag.String("url", "", "daemon base URL (default derived from config)")
	tokenFlag := flag.String("token", "", "API token (default from config)")
	sessionFlag := flag.String("session", "", "session id (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal(err)
	}

	sessionID := session.Resolve(*sessionFlag, cfg.DefaultSession)
	if err := session.Validate(sessionID); err != nil {
		fatal(err)
	}

	base := *urlFlag
	if base == "" {
		base = client.BaseURL(cfg.HTTP.Addr, cfg.HTTP.BasePath)
	}
	token := *tokenFlag
	if token == "" {
		token = cfg.HTTP.APIToken
	}

	c := &ctl{
		cfg:        cfg,
		configPath: *configFlag,
		client:     client.New(base, token, 30*time.Second),
		session:    sessionID,
		jsonOut:    *jsonFlag,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.run(ctx, args); err != nil {
		fatal(err)
	}
}

func (c *ctl) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "status":
		return c.status(ctx)
	case "sessions":
		return c.sessions(ctx)
	case "auth":
		return c.auth(ctx)
	case "qr":
		return c.qr(ctx)
	case "disconnect":
		msg, err := c.client.Disconnect(ctx, c.session)
		return c.printMessage(msg, err)
	case "reset":
		msg, err := c.client.Reset(ctx, c.session)
		return c.printMessage(msg, err)
	case "send":
		if len(args) < 3 {
			return errors.New("usage: whatsappctl send <phone> <message...>")
		}
		return c.send(ctx, args[1], strings.Join(args[2:], " "))
	case "msg":
		if len(args) < 3 {
			return errors.New("usage: whatsappctl msg <status|find> <id>")
		}
		return c.msg(ctx, args[1], args[2])
	case "list":
		phone := ""
		if len(args) >= 2 {
			phone = args[1]
		}
		return c.list(ctx, phone)
	case "health":
		return c.health(ctx)
	case "config":
		if len(args) < 2 || args[1] != "init" {
			return errors.New("usage: whatsappctl config init")
		}
		return c.configInit()
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: whatsappctl [--config <path>] [--session <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show service status")
	fmt.Fprintln(os.Stderr, "  sessions               List sessions")
	fmt.Fprintln(os.Stderr, "  auth                   Show auth state of the session")
	fmt.Fprintln(os.Stderr, "  qr                     Start the session and print its QR code")
	fmt.Fprintln(os.Stderr, "  disconnect             Disconnect the session")
	fmt.Fprintln(os.Stderr, "  reset                  Log out and wipe the session's credentials")
	fmt.Fprintln(os.Stderr, "  send <phone> <text>    Send a text message")
	fmt.Fprintln(os.Stderr, "  msg status <id>        Show a message record")
	fmt.Fprintln(os.Stderr, "  msg find <fragment>    Find messages by partial id")
	fmt.Fprintln(os.Stderr, "  list [phone]           List recent messages")
	fmt.Fprintln(os.Stderr, "  health                 Query the daemon health socket")
	fmt.Fprintln(os.Stderr, "  config init            Write a default config file")
}

func (c *ctl) status(ctx context.Context) error {
	st, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(st)
	}
	fmt.Printf("Uptime:   %s\n", st.Uptime)
	fmt.Printf("Sessions: %d (%d ready)\n", st.Sessions.Total, st.Sessions.Ready)
	for state, n := range st.Sessions.ByState {
		if n > 0 {
			fmt.Printf("  %-16s %d\n", state, n)
		}
	}
	fmt.Println("Messages:")
	for status, n := range st.Messages {
		fmt.Printf("  %-16s %d\n", status, n)
	}
	return nil
}

func (c *ctl) sessions(ctx context.Context) error {
	list, err := c.client.Sessions(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	now := time.Now()
	for _, s := range list {
		row := views.SessionRow(s, now)
		fmt.Printf("%-20s %-30s %-16s %s\n", row[0], row[1], row[2], row[4])
	}
	return nil
}

func (c *ctl) auth(ctx context.Context) error {
	st, err := c.client.AuthStatus(ctx, c.session)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(st)
	}
	switch {
	case st.Connected && st.PhoneNumber != nil:
		fmt.Printf("Session %s connected as +%s\n", st.SessionID, *st.PhoneNumber)
	case st.Failure != "":
		fmt.Printf("Session %s: %s (%s)\n", st.SessionID, st.Status, st.Failure)
	default:
		fmt.Printf("Session %s: %s\n", st.SessionID, st.Status)
	}
	return nil
}

func (c *ctl) qr(ctx context.Context) error {
	code, err := c.client.QRCode(ctx, c.session)
	if errors.Is(err, client.ErrNoQRCode) {
		return c.auth(ctx)
	}
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(map[string]string{"sessionId": c.session, "qr": code})
	}
	fmt.Print(views.RenderQR(code))
	fmt.Println("  Scan this QR code with WhatsApp.")
	return nil
}

func (c *ctl) printMessage(msg string, err error) error {
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(map[string]string{"sessionId": c.session, "message": msg})
	}
	fmt.Println(msg)
	return nil
}

func (c *ctl) send(ctx context.Context, phone, text string) error {
	resp, err := c.client.Send(ctx, client.SendRequest{Phone: phone, Message: text, SessionID: c.session})
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(resp)
	}
	fmt.Printf("Sent %s (%s)\n", resp.MessageID, resp.Status)
	return nil
}

func (c *ctl) msg(ctx context.Context, sub, id string) error {
	switch sub {
	case "status":
		m, err := c.client.MessageStatus(ctx, id)
		if err != nil {
			return err
		}
		if c.jsonOut {
			return outputJSON(m)
		}
		printMessages([]client.Message{*m})
		return nil
	case "find":
		ms, err := c.client.Candidates(ctx, id)
		if err != nil {
			return err
		}
		if c.jsonOut {
			return outputJSON(ms)
		}
		printMessages(ms)
		return nil
	default:
		return fmt.Errorf("unknown msg subcommand: %s", sub)
	}
}

func (c *ctl) list(ctx context.Context, phone string) error {
	ms, err := c.client.ListMessages(ctx, phone, "")
	if err != nil {
		return err
	}
	if c.jsonOut {
		return outputJSON(ms)
	}
	if len(ms) == 0 {
		fmt.Println("No messages found.")
		return nil
	}
	printMessages(ms)
	return nil
}

func printMessages(ms []client.Message) {
	for _, m := range ms {
		fmt.Printf("%s  %-9s %-10s +%-15s %s\n",
			m.ID, m.Direction, m.Status, m.Phone, m.CreatedAt.Local().Format(time.DateTime))
	}
}

func (c *ctl) health(ctx context.Context) error {
	socket := c.cfg.Health.Socket
	if socket == "" {
		socket = session.NewLayout(c.cfg.DataDir).SocketPath()
	}
	overall, err := client.Health(ctx, socket, "")
	if err != nil {
		return fmt.Errorf("daemon not reachable on %s: %w", socket, err)
	}
	sess, err := client.Health(ctx, socket, daemon.ServicePrefix+c.session)
	if err != nil {
		// Sessions never seen by the daemon are unknown to the health service.
		sess = healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if c.jsonOut {
		return outputJSON(map[string]string{"daemon": overall.String(), "session": sess.String()})
	}
	fmt.Printf("Daemon:  %s\n", overall)
	fmt.Printf("Session: %s %s\n", c.session, sess)
	return nil
}

func (c *ctl) configInit() error {
	if _, err := os.Stat(c.configPath); err == nil {
		return fmt.Errorf("%s already exists", c.configPath)
	}
	if err := config.Save(c.configPath, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", c.configPath)
	return nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
