package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"bimabot/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. Each
// line is processed synchronously through the Processor, like the Web
// channel, so replies print in order.
type CLI struct {
	processor domain.Processor
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	userID    string
	voice     bool // request spoken replies

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Processor domain.Processor
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
	UserID    string
	Voice     bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserID == "" {
		cfg.UserID = "cli_user"
	}
	return &CLI{
		processor: cfg.Processor,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
		userID:    cfg.UserID,
		voice:     cfg.Voice,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until context is cancelled.
func (c *CLI) Start(ctx context.Context, _ domain.MessageBus) error {
	_, _ = fmt.Fprintln(c.out, "BimaBot CLI. Type your message and press Enter. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		resp, err := c.processor.Process(ctx, domain.Turn{
			Channel:   "cli",
			UserID:    c.userID,
			Text:      line,
			WantVoice: c.voice,
			Timestamp: time.Now(),
		})
		c.stopThinking()
		if err != nil {
			c.logger.Warn("turn processed with error", "err", err)
		}
		c.print(resp)
	}
}

func (c *CLI) print(resp domain.Response) {
	_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
	_, _ = fmt.Fprintln(c.out, "--- BimaBot ---")
	_, _ = fmt.Fprintln(c.out, resp.Text)
	if resp.AudioHandle != "" {
		_, _ = fmt.Fprintln(c.out, "[audio]", resp.AudioHandle)
	}
	if resp.DocumentHandle != "" {
		_, _ = fmt.Fprintln(c.out, "[report]", resp.DocumentHandle)
	}
	_, _ = fmt.Fprintln(c.out, "----------------")
	_, _ = fmt.Fprint(c.out, "You> ")
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
