package notification

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stanstork/jobwatch/internal/models"
)

// ConsoleNotifier prints a one-line summary of each notification, for an
// operator following a job in a terminal.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

func (n *ConsoleNotifier) Notify(_ context.Context, notif models.Notification) error {
	line := strings.TrimSpace(notif.Title)
	if msg := strings.TrimSpace(notif.Message); msg != "" {
		line += ": " + msg
	}
	prefix := "*"
	if notif.Severity == models.NotificationSeverityError {
		prefix = "!"
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.out, "%s %s\n", prefix, line)
	return err
}

func (n *ConsoleNotifier) String() string { return "ConsoleNotifier" }
