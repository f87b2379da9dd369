// Package interactive provides the interactive command-line interface
// for clearnode-cli.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/hookpay/clearnode-go/pkg/clearnode"
	"github.com/hookpay/clearnode-go/pkg/connection"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

const commandTimeout = 30 * time.Second

// Client is the subset of the ClearNode client used by the shell.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() connection.State
	Address() string
	SessionKey() string
	Pending() int
	GetChannels(ctx context.Context) ([]wire.Channel, error)
	GetLedgerBalances(ctx context.Context, accountID string) ([]wire.LedgerBalance, error)
	GetConfig(ctx context.Context) (*wire.NodeConfig, error)
	Summary(ctx context.Context) (*clearnode.Summary, error)
	WatchBalances(ctx context.Context, accountID string, interval time.Duration, fn func([]wire.LedgerBalance, error)) error
}

var _ Client = (*clearnode.Client)(nil)

// Shell handles interactive mode for clearnode-cli.
type Shell struct {
	client Client
	rl     *readline.Instance

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

// New creates a shell. The client is supplied to Run so that log output can
// be routed through Stdout before the client exists.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "clearnode> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl, watches: make(map[string]context.CancelFunc)}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc, client Client) {
	defer s.rl.Close()
	defer s.stopWatches()
	s.client = client

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "connect", "c":
			s.cmdConnect(ctx)

		case "channels", "ch":
			s.cmdChannels(ctx)

		case "balances", "b":
			s.cmdBalances(ctx, args)

		case "config", "cfg":
			s.cmdConfig(ctx)

		case "summary", "sum":
			s.cmdSummary(ctx)

		case "watch", "w":
			s.cmdWatch(ctx, args)

		case "unwatch":
			s.cmdUnwatch(args)

		case "disconnect", "d":
			s.cmdDisconnect()

		case "state", "s":
			s.cmdState()

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			s.errorf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Commands:
  connect, c                  - Connect and authenticate
  channels, ch                - List channels of this wallet
  balances, b <account>       - Show ledger balances of an account or channel
  config, cfg                 - Show node configuration
  summary, sum                - Channels with balances of open channels
  watch, w <account> [every]  - Poll balances (default every 5s)
  unwatch [account]           - Stop one or all watches
  disconnect, d               - Close the connection
  state, s                    - Show client state
  help, ?                     - Show this help
  quit, q                     - Exit`)
}

func (s *Shell) cmdConnect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := s.client.Connect(ctx); err != nil {
		s.errorf("Connect failed: %v\n", err)
		return
	}
	color.New(color.FgGreen).Fprintf(s.rl.Stdout(), "Authenticated as %s\n", s.client.Address())
}

func (s *Shell) cmdDisconnect() {
	if err := s.client.Disconnect(); err != nil {
		s.errorf("Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "Disconnected")
}

func (s *Shell) cmdState() {
	state := s.client.State()
	c := color.New(color.FgYellow)
	if state == connection.StateAuthenticated {
		c = color.New(color.FgGreen)
	}
	out := s.rl.Stdout()
	fmt.Fprint(out, "State:       ")
	c.Fprintln(out, state)
	fmt.Fprintf(out, "Wallet:      %s\n", s.client.Address())
	fmt.Fprintf(out, "Session key: %s\n", s.client.SessionKey())
	fmt.Fprintf(out, "Pending:     %d\n", s.client.Pending())

	s.mu.Lock()
	watching := make([]string, 0, len(s.watches))
	for account := range s.watches {
		watching = append(watching, account)
	}
	s.mu.Unlock()
	if len(watching) > 0 {
		sort.Strings(watching)
		fmt.Fprintf(out, "Watching:    %s\n", strings.Join(watching, ", "))
	}
}

func (s *Shell) cmdChannels(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	channels, err := s.client.GetChannels(ctx)
	if err != nil {
		s.errorf("get_channels failed: %v\n", err)
		return
	}
	s.printChannels(channels)
}

func (s *Shell) cmdBalances(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.errorf("Usage: balances <account>\n")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	balances, err := s.client.GetLedgerBalances(ctx, args[0])
	if err != nil {
		s.errorf("get_ledger_balances failed: %v\n", err)
		return
	}
	s.printBalances(args[0], balances)
}

func (s *Shell) cmdConfig(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cfg, err := s.client.GetConfig(ctx)
	if err != nil {
		s.errorf("get_config failed: %v\n", err)
		return
	}
	out := s.rl.Stdout()
	fmt.Fprintf(out, "Broker: %s\n", cfg.BrokerAddress)
	if len(cfg.Networks) == 0 {
		fmt.Fprintln(out, "No networks")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tCHAIN\tCUSTODY\tADJUDICATOR")
	for _, n := range cfg.Networks {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", n.Name, n.ChainID, n.CustodyAddress, n.AdjudicatorAddress)
	}
	w.Flush()
}

func (s *Shell) cmdSummary(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	sum, err := s.client.Summary(ctx)
	if err != nil {
		s.errorf("Summary failed: %v\n", err)
		return
	}
	s.printChannels(sum.Channels)

	ids := make([]string, 0, len(sum.Balances))
	for id := range sum.Balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.printBalances(id, sum.Balances[id])
	}
}

func (s *Shell) cmdWatch(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.errorf("Usage: watch <account> [interval]\n")
		return
	}
	account := args[0]
	interval := clearnode.DefaultWatchInterval
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			s.errorf("Invalid interval: %s\n", args[1])
			return
		}
		interval = d
	}

	s.mu.Lock()
	if _, ok := s.watches[account]; ok {
		s.mu.Unlock()
		s.errorf("Already watching %s\n", account)
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.watches[account] = cancel
	s.mu.Unlock()

	fmt.Fprintf(s.rl.Stdout(), "Watching %s every %s\n", account, interval)
	go func() {
		err := s.client.WatchBalances(watchCtx, account, interval, func(balances []wire.LedgerBalance, err error) {
			if err != nil {
				s.errorf("[WATCH %s] %v\n", account, err)
				return
			}
			s.printBalances(account, balances)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.errorf("[WATCH %s] stopped: %v\n", account, err)
		}
		s.mu.Lock()
		delete(s.watches, account)
		s.mu.Unlock()
	}()
}

func (s *Shell) cmdUnwatch(args []string) {
	if len(args) == 0 {
		s.stopWatches()
		fmt.Fprintln(s.rl.Stdout(), "Stopped all watches")
		return
	}
	s.mu.Lock()
	cancel, ok := s.watches[args[0]]
	s.mu.Unlock()
	if !ok {
		s.errorf("Not watching %s\n", args[0])
		return
	}
	cancel()
	fmt.Fprintf(s.rl.Stdout(), "Stopped watching %s\n", args[0])
}

func (s *Shell) stopWatches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.watches {
		cancel()
	}
}

func (s *Shell) printChannels(channels []wire.Channel) {
	out := s.rl.Stdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No channels")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tSTATUS\tCHAIN\tTOKEN\tAMOUNT\tVERSION")
	for _, ch := range channels {
		status := string(ch.Status)
		if ch.IsOpen() {
			status = color.GreenString(status)
		} else {
			status = color.YellowString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n", ch.ChannelID, status, ch.ChainID, ch.Token, ch.Amount, ch.Version)
	}
	w.Flush()
}

func (s *Shell) printBalances(account string, balances []wire.LedgerBalance) {
	out := s.rl.Stdout()
	fmt.Fprintf(out, "%s %s\n", color.CyanString("Balances of"), account)
	if len(balances) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, b := range balances {
		fmt.Fprintf(out, "  %-10s %s\n", b.Asset, b.Amount)
	}
}

func (s *Shell) errorf(format string, args ...any) {
	color.New(color.FgRed).Fprintf(s.rl.Stderr(), format, args...)
}
