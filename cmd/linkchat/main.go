// LinkChat: CLI entry point.
//
// This tool exchanges chat messages and files between two peers over a
// best-effort frame link: a WebRTC DataChannel or a plain WebSocket (both
// rendezvous through a PIN-protected WebSocket server), raw Ethernet frames,
// or a KISS TNC on a serial port. Reliability comes from the adapter's
// segmentation, cumulative acks and Go-Back-N retransmission.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags and an optional TOML config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/linkchat/internal/adapter"
	"github.com/1ureka/linkchat/internal/chat"
	"github.com/1ureka/linkchat/internal/config"
	"github.com/1ureka/linkchat/internal/signaling"
	"github.com/1ureka/linkchat/internal/transport"
	"github.com/1ureka/linkchat/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML config file")
	link := flag.String("link", "", "Link: webrtc, ws, eth or kiss")
	role := flag.String("role", "", "Role for webrtc/ws links: host or client")
	wsPortFlag := flag.Int("wsPort", 0, "WebSocket signaling server port (host only)")
	wsURLFlag := flag.String("wsUrl", "", "WebSocket URL to connect to (client only)")
	wsListenFlag := flag.Bool("wsListen", false, "Listen on all network interfaces (host only, for LAN access)")
	pinFlag := flag.String("pin", "", "PIN shown by the host (client only)")
	ifaceFlag := flag.String("iface", "", "Network interface for the eth link")
	peerFlag := flag.String("peer", "", "Peer MAC address for the eth link (default broadcast)")
	etherTypeFlag := flag.String("ethertype", "", "EtherType for the eth link (default 0x88B5)")
	serialFlag := flag.String("serial", "", "Serial port of the KISS TNC")
	baudFlag := flag.Int("baud", 0, "Serial baud rate (default 9600)")
	mtuFlag := flag.Int("mtu", 0, "Largest PDU in bytes, header and trailer included")
	windowFlag := flag.Int("window", 0, "Chunks in flight per message")
	rtoFlag := flag.Duration("rto", 0, "Retransmission timeout")
	outdirFlag := flag.String("outdir", "", "Directory for received files")
	aliasFlag := flag.String("alias", "", "Name announced by /hello")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["link"] {
		cfg.Link = config.LinkKind(strings.ToLower(*link))
	}
	if set["role"] {
		cfg.Role = config.Role(strings.ToLower(*role))
	}
	switch {
	case *wsListenFlag:
		cfg.WSAddr = fmt.Sprintf(":%d", *wsPortFlag)
	case *wsPortFlag > 0:
		cfg.WSAddr = fmt.Sprintf("127.0.0.1:%d", *wsPortFlag)
	}
	if set["wsUrl"] {
		wsURL, err := normalizeWSURL(*wsURLFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.WSURL = wsURL
	}
	if set["pin"] {
		cfg.PIN = *pinFlag
	}
	if set["iface"] {
		cfg.Interface = *ifaceFlag
	}
	if set["peer"] {
		cfg.PeerMAC = *peerFlag
	}
	if set["ethertype"] {
		et, err := strconv.ParseUint(*etherTypeFlag, 0, 16)
		if err != nil {
			util.LogError("invalid -ethertype %q", *etherTypeFlag)
			os.Exit(1)
		}
		cfg.EtherType = uint16(et)
	}
	if set["serial"] {
		cfg.SerialPort = *serialFlag
	}
	if set["baud"] {
		cfg.Baud = *baudFlag
	}
	if set["mtu"] {
		cfg.MTU = *mtuFlag
	}
	if set["window"] {
		cfg.Window = *windowFlag
	}
	if set["rto"] {
		cfg.RTO = *rtoFlag
	}
	if set["outdir"] {
		cfg.OutDir = *outdirFlag
	}
	if set["alias"] {
		cfg.Alias = *aliasFlag
	}
	if *debugMode {
		cfg.Debug = true
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("LinkChat — v%s", version))
	pterm.Println()

	if flag.NFlag() == 0 {
		// No flags → interactive mode.
		runInteractive(&cfg)
		askSettings(&cfg)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	run(ctx, cfg)
	util.LogInfo("successfully closed chat session")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive fills in the link settings through prompts.
func runInteractive(cfg *config.Config) {
	link, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"webrtc — P2P DataChannel via WebSocket signaling",
			"ws     — Relay frames over the WebSocket itself",
			"eth    — Raw Ethernet frames on a local interface",
			"kiss   — KISS TNC on a serial port",
		}).
		WithDefaultText("Select the link").
		Show()
	pterm.Println()

	cfg.Link = config.LinkKind(strings.TrimSpace(strings.SplitN(link, "—", 2)[0]))

	switch cfg.Link {
	case config.LinkWebRTC, config.LinkWebSocket:
		role, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Host  — Wait for the peer", "Client — Connect to a host"}).
			WithDefaultText("Select your role").
			Show()
		pterm.Println()

		if strings.HasPrefix(role, "Host") {
			cfg.Role = config.RoleHost
			return
		}
		cfg.Role = config.RoleClient
		cfg.WSURL = askURL()
		cfg.PIN = askText("PIN shown by the host")

	case config.LinkEthernet:
		cfg.Interface = askText("Network interface (e.g. eth0)")
		cfg.PeerMAC = strings.TrimSpace(askOptional("Peer MAC (empty for broadcast)"))

	case config.LinkKISS:
		cfg.SerialPort = askText("Serial port (e.g. /dev/ttyUSB0)")
	}
}

// askSettings optionally overrides the reliability and chat settings. An
// empty answer keeps the current value.
func askSettings(cfg *config.Config) {
	adjust, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Adjust MTU, window, RTO, output dir or alias?").
		Show()
	pterm.Println()
	if !adjust {
		return
	}

	cfg.MTU = askInt("MTU in bytes", cfg.MTU)
	cfg.Window = askInt("Window (chunks in flight)", cfg.Window)
	cfg.RTO = askDuration("Retransmission timeout", cfg.RTO)
	if v := strings.TrimSpace(askOptional(fmt.Sprintf("Output dir [%s]", cfg.OutDir))); v != "" {
		cfg.OutDir = v
	}
	if v := strings.TrimSpace(askOptional(fmt.Sprintf("Alias [%s]", cfg.Alias))); v != "" {
		cfg.Alias = v
	}
}

// run opens the configured link and drives the chat until the user quits.
func run(ctx context.Context, cfg config.Config) {
	link, addr, err := openLink(ctx, cfg)
	if err != nil {
		util.LogError("failed to open %s link: %v", cfg.Link, err)
		os.Exit(1)
	}

	ep := adapter.NewEndpoint(link, cfg.Adapter())
	defer ep.Close()

	eff := ep.Config()
	sess := chat.NewSession(ep, chat.Options{
		Alias:  cfg.Alias,
		Addr:   addr,
		OutDir: cfg.OutDir,
		Info: func() [][]string {
			return infoRows(cfg, eff, addr)
		},
	})
	ep.OnMessage(sess.Deliver)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := ep.Run(runCtx); err == nil {
			// Link went down underneath us.
			util.LogWarning("link closed by peer")
			cancel()
		}
	}()

	util.StartStatsReporter(runCtx)
	util.LogSuccess("%s link up — mtu %d, window %d, rto %s", cfg.Link, eff.MTU, eff.Window, eff.RTO)

	if err := sess.Run(runCtx, os.Stdin); err != nil && ctx.Err() == nil {
		util.LogDebug("session ended: %v", err)
	}
}

// openLink establishes the frame link selected by cfg.Link and returns it with
// the local link address, when one exists.
func openLink(ctx context.Context, cfg config.Config) (adapter.Link, string, error) {
	switch cfg.Link {
	case config.LinkWebRTC:
		if cfg.Role == config.RoleHost {
			tr, err := signaling.EstablishAsHost(ctx, cfg.WSAddr)
			return tr, "", err
		}
		tr, err := signaling.EstablishAsClient(ctx, cfg.WSURL, cfg.PIN)
		return tr, "", err

	case config.LinkWebSocket:
		if cfg.Role == config.RoleHost {
			l, err := signaling.AcceptWebSocket(ctx, cfg.WSAddr)
			return l, "", err
		}
		l, err := signaling.DialWebSocket(ctx, cfg.WSURL, cfg.PIN)
		return l, "", err

	case config.LinkEthernet:
		peer, err := cfg.PeerHardwareAddr()
		if err != nil {
			return nil, "", err
		}
		l, err := transport.OpenEthernet(transport.EthernetOptions{
			Interface: cfg.Interface,
			Peer:      peer,
			EtherType: cfg.EtherType,
			MTU:       cfg.MTU,
		})
		if err != nil {
			return nil, "", err
		}
		return l, l.LocalAddr().String(), nil

	case config.LinkKISS:
		l, err := transport.OpenSerialKISS(cfg.SerialPort, cfg.Baud, min(cfg.MTU, transport.KISSMTU))
		return l, "", err
	}
	return nil, "", fmt.Errorf("unknown link %q", cfg.Link)
}

func infoRows(cfg config.Config, eff adapter.Config, addr string) [][]string {
	rows := [][]string{{"Link", string(cfg.Link)}}
	switch cfg.Link {
	case config.LinkWebRTC, config.LinkWebSocket:
		rows = append(rows, []string{"Role", string(cfg.Role)})
	case config.LinkEthernet:
		peer := cfg.PeerMAC
		if peer == "" {
			peer = transport.BroadcastMAC.String()
		}
		rows = append(rows,
			[]string{"Interface", cfg.Interface},
			[]string{"Local MAC", addr},
			[]string{"Peer MAC", peer},
			[]string{"EtherType", fmt.Sprintf("0x%04X", cfg.EtherType)},
		)
	case config.LinkKISS:
		rows = append(rows, []string{"Serial", fmt.Sprintf("%s @ %d baud", cfg.SerialPort, cfg.Baud)})
	}
	return append(rows,
		[]string{"MTU", strconv.Itoa(eff.MTU)},
		[]string{"Window", strconv.Itoa(eff.Window)},
		[]string{"RTO", eff.RTO.String()},
	)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw := askOptional(prompt)
		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		util.LogWarning("a value is required")
	}
}

func askOptional(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return raw
}

// askInt prompts for a positive integer, keeping cur on an empty answer.
func askInt(prompt string, cur int) int {
	for {
		raw := strings.TrimSpace(askOptional(fmt.Sprintf("%s [%d]", prompt, cur)))
		if raw == "" {
			return cur
		}
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
		util.LogWarning("invalid input: please enter a positive number")
	}
}

// askDuration prompts for a duration such as 300ms, keeping cur on an empty
// answer.
func askDuration(prompt string, cur time.Duration) time.Duration {
	for {
		raw := strings.TrimSpace(askOptional(fmt.Sprintf("%s [%s]", prompt, cur)))
		if raw == "" {
			return cur
		}
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
		util.LogWarning("invalid input: please enter a duration such as 300ms")
	}
}
