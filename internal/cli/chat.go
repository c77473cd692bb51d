package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/taskchat/internal/composer"
	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/session"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [chat-id]",
	Short: "Open a task conversation interactively",
	Long: `Open a task conversation. Lines you type are posted as messages.

  /attach <file>...   queue images or videos for the next message
  /retry <id>         re-send a failed message
  /open <chat-id>     switch to another conversation
  /history            print the whole conversation again
  /quit               leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd, domain.ChatID(args[0]))
	},
}

func runInteractive(cmd *cobra.Command, chatID domain.ChatID) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	c, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	out := cmd.OutOrStdout()
	p := newPrinter(out, c.ctrl)
	if err := c.ctrl.Open(ctx, chatID); err != nil {
		return err
	}
	p.reset()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctrl.Changes():
				p.update()
			}
		}
	}()

	comp := composer.New(c.ctrl, log)
	err = readCommands(ctx, cmd.InOrStdin(), out, c.ctrl, comp, p)
	cancel()
	wg.Wait()
	return err
}

type controller interface {
	Open(ctx context.Context, chatID domain.ChatID) error
	Retry(messageID string) error
}

// readCommands consumes input lines until EOF, /quit or ctx ends.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, ctrl controller, comp *composer.Composer, p *printer) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
			if len(comp.Pending()) == 0 {
				continue
			}
			if _, err := comp.Submit(); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		case "/quit", "/exit":
			return nil
		case "/attach":
			n, err := comp.Attach(strings.Fields(rest)...)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if n > 0 {
				fmt.Fprintf(out, "  %d attachment(s) queued, type a caption or press enter to send\n", len(comp.Pending()))
			}
		case "/retry":
			if err := ctrl.Retry(strings.TrimSpace(rest)); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		case "/open":
			if err := ctrl.Open(ctx, domain.ChatID(strings.TrimSpace(rest))); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			p.reset()
		case "/history":
			p.reset()
		default:
			if strings.HasPrefix(cmd, "/") {
				fmt.Fprintf(out, "! unknown command %s\n", cmd)
				continue
			}
			comp.SetText(line)
			if _, err := comp.Submit(); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

type view interface {
	authorResolver
	ChatID() domain.ChatID
	State() session.State
	Snapshot() []domain.Message
}

// printer writes only what changed since the last update: new messages,
// delivery state transitions and connection state.
type printer struct {
	out io.Writer
	v   view
	now func() time.Time

	mu     sync.Mutex
	chatID domain.ChatID
	state  session.State
	seen   map[string]domain.DeliveryState
}

func newPrinter(out io.Writer, v view) *printer {
	return &printer{out: out, v: v, now: time.Now}
}

// reset prints the open conversation in full.
func (p *printer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chatID = p.v.ChatID()
	p.state = p.v.State()
	msgs := p.v.Snapshot()
	p.seen = make(map[string]domain.DeliveryState, len(msgs))
	for _, m := range msgs {
		p.seen[m.ID] = m.State
	}
	renderHeader(p.out, p.chatID, p.state)
	renderMessages(p.out, p.v, msgs, p.now())
}

func (p *printer) update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.v.ChatID() != p.chatID {
		return
	}
	if s := p.v.State(); s != p.state {
		p.state = s
		fmt.Fprintf(p.out, "-- %s\n", s)
	}
	now := p.now()
	for _, m := range p.v.Snapshot() {
		prev, ok := p.seen[m.ID]
		if !ok && m.ClientID != "" {
			// Confirmation replaces the optimistic id with the stored one.
			prev, ok = p.seen[m.ClientID]
			delete(p.seen, m.ClientID)
		}
		p.seen[m.ID] = m.State
		switch {
		case !ok:
			renderMessage(p.out, p.v, m, now)
		case prev != m.State:
			switch m.State {
			case domain.Sent:
				fmt.Fprintln(p.out, "  ✓ delivered")
			case domain.Failed:
				fmt.Fprintf(p.out, "  ✗ not delivered, /retry %s\n", m.ID)
			case domain.Sending:
				fmt.Fprintln(p.out, "  … sending")
			}
		}
	}
}
