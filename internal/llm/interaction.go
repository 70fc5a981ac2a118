package llm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// FallbackChoice is the answer to "the server API is off, what now?".
type FallbackChoice string

const (
	ChoiceFallback FallbackChoice = "fallback" // continue with the user's own token
	ChoiceDisable  FallbackChoice = "disable"  // stop using the server API
	ChoiceCancel   FallbackChoice = "cancel"
)

// FallbackPrompter decides what to do when the server-provided API is unavailable
// but the user has a token of their own.
type FallbackPrompter interface {
	ChooseFallback(ctx context.Context) (FallbackChoice, error)
}

// PolicyPrompter answers with a fixed choice. Used where nobody can be asked.
type PolicyPrompter struct {
	Choice FallbackChoice
}

// ChooseFallback returns the configured choice; anything unknown cancels.
func (p PolicyPrompter) ChooseFallback(context.Context) (FallbackChoice, error) {
	switch p.Choice {
	case ChoiceFallback, ChoiceDisable:
		return p.Choice, nil
	default:
		return ChoiceCancel, nil
	}
}

// PolicyFromConfig maps a GEMINI_SERVER_FALLBACK value to a choice. "ask" has
// no one to ask in a service and cancels.
func PolicyFromConfig(value string) PolicyPrompter {
	switch value {
	case "fallback":
		return PolicyPrompter{Choice: ChoiceFallback}
	case "disable":
		return PolicyPrompter{Choice: ChoiceDisable}
	default:
		return PolicyPrompter{Choice: ChoiceCancel}
	}
}

// InteractivePrompter asks on a terminal.
type InteractivePrompter struct {
	In  io.Reader
	Out io.Writer
}

// ChooseFallback prints the question and reads one line. EOF or an empty answer cancels.
func (p *InteractivePrompter) ChooseFallback(ctx context.Context) (FallbackChoice, error) {
	fmt.Fprintln(p.Out, "The server-provided Gemini API is not enabled.")
	fmt.Fprintln(p.Out, "  [f] continue with your own Gemini token")
	fmt.Fprintln(p.Out, "  [d] disable the server-provided Gemini API")
	fmt.Fprint(p.Out, "Choose f/d (anything else cancels): ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return ChoiceCancel, ctx.Err()
	case a := <-answer:
		switch a {
		case "f", "fallback":
			return ChoiceFallback, nil
		case "d", "disable":
			return ChoiceDisable, nil
		default:
			return ChoiceCancel, nil
		}
	}
}

// AlertLevel is the severity of an alert shown to the user.
type AlertLevel string

const (
	AlertInfo  AlertLevel = "info"
	AlertError AlertLevel = "error"
)

// Notifier shows alerts to the end user.
type Notifier interface {
	Alert(ctx context.Context, level AlertLevel, title, text string)
}

// LogNotifier records alerts in the log.
type LogNotifier struct{}

// Alert logs the alert at a level matching its severity.
func (LogNotifier) Alert(_ context.Context, level AlertLevel, title, text string) {
	ev := log.Info()
	if level == AlertError {
		ev = log.Warn()
	}
	ev.Str("title", title).Str("alert", string(level)).Msg(text)
}

// WriterNotifier prints alerts, e.g. to a terminal.
type WriterNotifier struct {
	Out io.Writer
}

// Alert writes the alert; info alerts are printed as-is.
func (n WriterNotifier) Alert(_ context.Context, level AlertLevel, title, text string) {
	if level == AlertInfo && title == "" {
		fmt.Fprintln(n.Out, text)
		return
	}
	if title != "" {
		fmt.Fprintf(n.Out, "[%s] %s: %s\n", level, title, text)
		return
	}
	fmt.Fprintf(n.Out, "[%s] %s\n", level, text)
}
