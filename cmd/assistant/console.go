// cmd/assistant/console.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"crm-assistant/internal/models"
	"crm-assistant/internal/orchestrator"
)

const prompt = "you> "

// console is the terminal display: it prints assistant messages as they are
// appended and feeds stdin lines to the orchestrator.
type console struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: in, out: out}
}

func (c *console) PrintHistory(msgs []models.Message) {
	for _, m := range msgs {
		c.print(m)
	}
}

// Observe renders conversation events. User messages are already on screen.
func (c *console) Observe(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventMessageAppended:
		if e.Message != nil && e.Message.Speaker == models.SpeakerAssistant {
			c.print(*e.Message)
		}
	case orchestrator.EventBusyChanged:
		if !e.Busy {
			c.write(prompt)
		}
	}
}

func (c *console) print(m models.Message) {
	text := m.Text
	if m.Transient {
		text = "(" + text + ")"
	}
	c.write(fmt.Sprintf("assistant> %s\n", text))
}

func (c *console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

// Run reads lines until EOF or ctx is done and hands each non-empty line to
// handle, one at a time.
func (c *console) Run(ctx context.Context, handle func(line string)) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.write(prompt)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				c.write(prompt)
				continue
			}
			if line == "/quit" || line == "/exit" {
				return
			}
			handle(line)
		}
	}
}
