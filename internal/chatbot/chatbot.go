package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"NexusChat/internal/backend"
	"NexusChat/internal/config"
	"NexusChat/internal/session"

	"github.com/dustin/go-humanize"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

var (
	bannerStyle = color.New(color.FgMagenta, color.OpBold)
	replyStyle  = color.New(color.FgGreen)
	errorStyle  = color.New(color.FgRed)
)

// CompleterFactory builds a completer for a config, usually backend.New.
type CompleterFactory func(cfg config.Config, logger *slog.Logger) (backend.Completer, error)

// ChatBot is the terminal front end
type ChatBot struct {
	config     config.Config
	controller *Controller
	logger     *slog.Logger
	factory    CompleterFactory

	in  io.Reader
	out io.Writer
}

// NewChatBot creates a terminal front end over controller.
func NewChatBot(cfg config.Config, controller *Controller, factory CompleterFactory, logger *slog.Logger, in io.Reader, out io.Writer) *ChatBot {
	return &ChatBot{
		config:     cfg,
		controller: controller,
		logger:     logger,
		factory:    factory,
		in:         in,
		out:        out,
	}
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/reset":
		cb.controller.Reset()
		fmt.Fprintln(cb.out, "Conversation cleared.")
		return false, nil

	case "/history":
		messages := cb.controller.Session().Conversation.Snapshot()
		if len(messages) == 0 {
			fmt.Fprintln(cb.out, "No chat history yet.")
			return false, nil
		}
		for i := len(messages) - 1; i >= 0; i-- {
			fmt.Fprintf(cb.out, "[%s] %s: %s\n", formatTime(messages[i]), speaker(messages[i].Role), messages[i].Content)
		}
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <backend> (%s)", strings.Join(config.Backends, "|"))
		}
		name := parts[1]
		if !config.IsBackend(name) {
			return false, fmt.Errorf("unknown backend: %s", name)
		}
		cfg := cb.config
		cfg.Backend = name
		cfg.Model = ""
		completer, err := cb.factory(cfg, cb.logger)
		if err != nil {
			return false, fmt.Errorf("failed to switch backend: %w", err)
		}
		cb.controller.SetCompleter(name, completer, cfg.ModelOrDefault())
		cb.config = cfg
		fmt.Fprintf(cb.out, "Switched to %s backend (%s)\n", name, cfg.ModelOrDefault())
		return false, nil

	case "/model":
		if len(parts) < 2 {
			fmt.Fprintf(cb.out, "Current model: %s\n", cb.controller.Model())
			return false, nil
		}
		cb.controller.SetModel(parts[1])
		fmt.Fprintf(cb.out, "Model set to: %s\n", parts[1])
		return false, nil

	case "/list-ollama-models":
		ollama := backend.NewOllama(cb.config.OllamaURL, nil, cb.logger)
		models, err := ollama.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list Ollama models: %w", err)
		}
		if len(models) == 0 {
			fmt.Fprintln(cb.out, "No Ollama models installed.")
			return false, nil
		}

		table := tablewriter.NewWriter(cb.out)
		table.SetHeader([]string{"#", "Model", "Size", ""})
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetTablePadding("\t")
		for i, model := range models {
			current := ""
			if model.Name == cb.controller.Model() {
				current = "(current)"
			}
			table.Append([]string{fmt.Sprint(i + 1), model.Name, humanize.IBytes(uint64(model.Size)), current})
		}
		table.Render()
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit              - Exit the chatbot")
		fmt.Fprintln(cb.out, "  /history                  - Show the conversation, newest first")
		fmt.Fprintln(cb.out, "  /reset                    - Clear the conversation")
		fmt.Fprintf(cb.out, "  /switch <backend>         - Switch LLM backend (%s)\n", strings.Join(config.Backends, "|"))
		fmt.Fprintln(cb.out, "  /model [name]             - Show or set the model")
		fmt.Fprintln(cb.out, "  /list-ollama-models       - List available Ollama models")
		fmt.Fprintln(cb.out, "  /help                     - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// Run starts the chat loop and returns when input ends or the user quits.
func (cb *ChatBot) Run(ctx context.Context) error {
	sess := cb.controller.Session()

	fmt.Fprintln(cb.out, cb.paint(bannerStyle, "=== Nexus Bot ==="))
	fmt.Fprintf(cb.out, "Session: %s\n", sess.ID)
	fmt.Fprintf(cb.out, "Backend: %s (%s)\n", cb.controller.Backend(), cb.controller.Model())
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	scanner := bufio.NewScanner(cb.in)
	for {
		fmt.Fprint(cb.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := scanner.Text()
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "/") {
			shouldQuit, err := cb.handleCommand(ctx, trimmed)
			if err != nil {
				fmt.Fprintln(cb.out, cb.paint(errorStyle, fmt.Sprintf("Error: %v", err)))
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		fmt.Fprintln(cb.out, "Loading...")
		response, err := cb.controller.Submit(ctx, input)
		if err != nil {
			if errors.Is(err, ErrEmptyInput) {
				continue
			}
			fmt.Fprintf(cb.out, "%s\n\n", cb.paint(errorStyle, fmt.Sprintf("Error: %v", err)))
			continue
		}

		fmt.Fprintf(cb.out, "%s %s\n\n", cb.paint(replyStyle, "Nexus:"), response.Content)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

func (cb *ChatBot) paint(style color.Style, s string) string {
	if !cb.config.Color {
		return s
	}
	return style.Render(s)
}

func speaker(role string) string {
	if role == session.RoleUser {
		return "You"
	}
	return "Nexus"
}

func formatTime(m session.Message) string {
	if m.Timestamp == nil {
		return "--:--"
	}
	return m.Time().Format(time.Kitchen)
}
