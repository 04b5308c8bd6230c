package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fieldhand/agrichat/pkg/api"
	"github.com/fieldhand/agrichat/pkg/chat"
	"github.com/fieldhand/agrichat/pkg/config"
	"github.com/fieldhand/agrichat/pkg/controllers"
	"github.com/fieldhand/agrichat/pkg/device"
	"github.com/fieldhand/agrichat/pkg/display"
	"github.com/fieldhand/agrichat/pkg/stream"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// RunApplication wires the library end to end and drives it from the
// terminal: a one-shot prompt or image diagnosis when given, otherwise a
// line-oriented chat REPL.
func RunApplication(cfg *config.Config, prompt, image string) error {
	client := api.NewClient(cfg.Server)
	identity := device.NewProvider(cfg.Settings.Directory)

	cc := controllers.NewConversationController(controllers.Options{
		Streams:         func(req api.ChatRequest) stream.Transport { return client.OpenStream(req) },
		Uploads:         client,
		Vision:          client,
		Store:           client,
		Titles:          client,
		Device:          identity,
		Language:        cfg.Language,
		Latitude:        cfg.Location.Latitude,
		Longitude:       cfg.Location.Longitude,
		LocationSummary: cfg.Location.Summary,
		StreamTimeout:   cfg.Server.StreamTimeout,
	})

	printer := &deltaPrinter{controller: cc}
	done := make(chan struct{}, 1)
	cc.Subscribe(func(change controllers.Change) {
		switch change.Kind {
		case controllers.ContentGrew:
			printer.render()
		case controllers.GenerationEnded:
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	ctx := context.Background()

	if image != "" {
		if !cc.SendImage(ctx, image, prompt) {
			return fmt.Errorf("could not start image diagnosis")
		}
		<-done
		printer.finish()
		return nil
	}

	if prompt != "" {
		if !cc.SendText(ctx, prompt) {
			return fmt.Errorf("could not send prompt")
		}
		<-done
		printer.finish()
		return nil
	}

	return runREPL(ctx, cc, printer, done)
}

func runREPL(ctx context.Context, cc *controllers.ConversationController, printer *deltaPrinter, done <-chan struct{}) error {
	if welcome, ok := chat.LatestAssistant(cc.Messages()); ok {
		fmt.Println(replyStyle.Render(welcome.Text))
	}
	fmt.Println(faintStyle.Render("Type a question, /retry, /new, or /quit."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			cc.StartNewSession()
			fmt.Println(faintStyle.Render("Started a new conversation."))
			continue
		case "/retry":
			if !cc.Retry() {
				fmt.Println(faintStyle.Render("Nothing to retry."))
				continue
			}
		default:
			if !cc.SendText(ctx, line) {
				fmt.Println(faintStyle.Render("Still answering the previous question."))
				continue
			}
		}

		<-done
		printer.finish()
	}
}

// deltaPrinter streams the growing assistant message to stdout, printing
// only the suffix that appeared since the last render.
type deltaPrinter struct {
	controller *controllers.ConversationController
	printed    int
}

func (p *deltaPrinter) render() {
	msg, ok := streamingMessage(p.controller.Messages())
	if !ok {
		return
	}
	if len(msg.Text) > p.printed {
		fmt.Print(replyStyle.Render(msg.Text[p.printed:]))
		p.printed = len(msg.Text)
	}
}

// finish reconciles the live output with the finalized message: a complete
// event may have replaced the accumulated text, and errors replace it
// entirely.
func (p *deltaPrinter) finish() {
	defer func() { p.printed = 0 }()

	msg, ok := chat.LatestAssistant(p.controller.Messages())
	if !ok {
		fmt.Println()
		return
	}

	final := display.SanitizeForDisplay(msg.Text)
	switch {
	case msg.Retryable:
		fmt.Println()
		fmt.Println(failureStyle.Render(final))
		fmt.Println(faintStyle.Render("Use /retry to try again."))
	case len(msg.Text) != p.printed:
		// The final text diverged from what streamed; a complete event
		// replaced the accumulated deltas. Reprint in full.
		fmt.Println()
		fmt.Println(replyStyle.Render(final))
	default:
		fmt.Println()
	}
}

func streamingMessage(list []chat.Message) (chat.Message, bool) {
	for _, m := range list {
		if m.IsStreaming {
			return m, true
		}
	}
	return chat.Message{}, false
}
