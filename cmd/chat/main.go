package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/RichardoC/langchain-chat/internal/chatview"
	"github.com/RichardoC/langchain-chat/internal/client"
	"github.com/RichardoC/langchain-chat/internal/models"
	"github.com/RichardoC/langchain-chat/internal/sse"
	"github.com/RichardoC/langchain-chat/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		url       string
		subscribe bool
		heartbeat bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat against a running relay",
		Long: "Type a question and press Enter to send it. End a line with a " +
			"backslash to continue the question on the next line (Shift+Enter).",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runChat(ctx, options{
				url:       url,
				subscribe: subscribe,
				heartbeat: heartbeat,
				in:        cmd.InOrStdin(),
				out:       cmd.OutOrStdout(),
				logger:    logger,
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8100", "relay base URL")
	cmd.Flags().BoolVar(&subscribe, "subscribe", true, "receive tokens over the GET /api/chat subscription")
	cmd.Flags().BoolVar(&heartbeat, "heartbeat", false, "print events from GET /api/stream")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	return cmd
}

type options struct {
	url       string
	subscribe bool
	heartbeat bool
	in        io.Reader
	out       io.Writer
	logger    *zap.Logger
}

func runChat(ctx context.Context, opts options) error {
	relay := client.New(opts.url, nil, opts.logger)
	root := store.NewRootStore()
	view := chatview.New(root.Conversation, relay, opts.logger)

	p := &printer{out: opts.out}
	p.render(root.Conversation.Snapshot())
	unsubscribe := root.Conversation.Subscribe(p.render)
	defer unsubscribe()

	if opts.subscribe {
		view.Subscribe(ctx)
		defer view.Close()
	}

	if opts.heartbeat {
		go func() {
			err := relay.Subscribe(ctx, "/api/stream", func(ev sse.Event) error {
				var hb models.HeartbeatEvent
				if err := json.Unmarshal(ev.Data, &hb); err != nil {
					return err
				}
				p.note(fmt.Sprintf("[heartbeat %s %s]", hb.ID, hb.Timestamp.Format("15:04:05")))
				return nil
			})
			if err != nil {
				opts.logger.Error("Heartbeat stream ended", zap.Error(err))
			}
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(opts.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			shift := strings.HasSuffix(line, `\`)
			if shift {
				line = strings.TrimSuffix(line, `\`)
			}
			if err := view.HandleKey(ctx, chatview.KeyEvent{Text: line}); err != nil {
				return err
			}
			if err := view.HandleKey(ctx, chatview.KeyEvent{Enter: true, Shift: shift}); err != nil {
				p.note("(still waiting for the previous answer)")
			}
		}
	}
}

// printer writes assistant messages to out as they grow.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	index   int
	printed string
}

func (p *printer) render(snap store.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.index; i < len(snap.Messages); i++ {
		msg := snap.Messages[i]
		if i > p.index {
			if p.printed != "" {
				fmt.Fprintln(p.out)
			}
			p.index, p.printed = i, ""
		}
		if msg.Role == models.RoleUser {
			// Already on screen, typed by the user.
			continue
		}
		if strings.HasPrefix(msg.Text, p.printed) {
			fmt.Fprint(p.out, msg.Text[len(p.printed):])
		} else {
			fmt.Fprint(p.out, "\n"+msg.Text)
		}
		p.printed = msg.Text
	}
}

func (p *printer) note(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}
