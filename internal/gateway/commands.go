package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CommandPrefix marks chat text addressed to the command registry.
const CommandPrefix = "!"

// DefaultSuppressMinutes is the smshutup duration when no argument is given.
const DefaultSuppressMinutes = 5.0

// MaxSuppressMinutes caps a single suppression at one year.
const MaxSuppressMinutes = 365 * 24 * 60.0

// Command registry errors.
var (
	// ErrEmptyCommandName indicates a command registered without a name.
	ErrEmptyCommandName = errors.New("command name must not be empty")

	// ErrNilCommandHandler indicates a command registered without a handler.
	ErrNilCommandHandler = errors.New("command handler must not be nil")

	// ErrDuplicateCommand indicates a second command with the same name.
	ErrDuplicateCommand = errors.New("duplicate command")
)

// InboundMessage is chat text received from a downstream agent.
type InboundMessage struct {
	// Body is the raw message text.
	Body string

	// Whom identifies the conversation the text came from. It is matched
	// against listener recipient sets.
	Whom string

	// Author identifies the chat user, when known.
	Author string
}

// CommandRequest is a parsed command invocation.
type CommandRequest struct {
	Name    string
	Args    []string
	Message InboundMessage
}

// CommandHandler executes a command and returns the reply text.
type CommandHandler func(ctx context.Context, req CommandRequest) (string, error)

// Command is one named chat command.
type Command struct {
	Name        string
	Usage       string
	Description string
	Handler     CommandHandler
}

// CommandRegistry maps command names to handlers.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewCommandRegistry creates an empty CommandRegistry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds cmd to the registry.
func (r *CommandRegistry) Register(cmd Command) error {
	if cmd.Name == "" {
		return ErrEmptyCommandName
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s: %w", cmd.Name, ErrNilCommandHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("command %s: %w", cmd.Name, ErrDuplicateCommand)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Lookup returns the command registered under name.
func (r *CommandRegistry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.commands))
}

// ParseCommand splits chat text into a command name and arguments.
// It returns ok=false for text that does not start with CommandPrefix.
func ParseCommand(body string) (name string, args []string, ok bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	name, ok = strings.CutPrefix(fields[0], CommandPrefix)
	if !ok || name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// Dispatch runs the command named in msg.Body. Text that is not a command
// and unknown commands return handled=false.
func (r *CommandRegistry) Dispatch(ctx context.Context, msg InboundMessage) (reply string, handled bool, err error) {
	name, args, ok := ParseCommand(msg.Body)
	if !ok {
		return "", false, nil
	}

	cmd, found := r.Lookup(name)
	if !found {
		return "", false, nil
	}

	reply, err = cmd.Handler(ctx, CommandRequest{
		Name:    name,
		Args:    args,
		Message: msg,
	})
	if err != nil {
		return "", true, fmt.Errorf("command %s: %w", name, err)
	}
	return reply, true, nil
}

// -------------------------------------------------------------------------
// Built-in commands
// -------------------------------------------------------------------------

// ParseSuppressMinutes parses the smshutup argument. Missing or unparsable
// values yield DefaultSuppressMinutes; the rest go through
// NormalizeSuppressMinutes.
func ParseSuppressMinutes(args []string) float64 {
	if len(args) == 0 {
		return DefaultSuppressMinutes
	}
	m, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return DefaultSuppressMinutes
	}
	return NormalizeSuppressMinutes(m)
}

// NormalizeSuppressMinutes maps NaN, infinite and non-positive values to
// DefaultSuppressMinutes and caps the rest at MaxSuppressMinutes.
func NormalizeSuppressMinutes(m float64) float64 {
	switch {
	case math.IsNaN(m), math.IsInf(m, 0), m <= 0:
		return DefaultSuppressMinutes
	case m > MaxSuppressMinutes:
		return MaxSuppressMinutes
	}
	return m
}

// MinutesToDuration converts fractional minutes to a time.Duration,
// clamped to [0, MaxSuppressMinutes]. NaN converts to zero.
func MinutesToDuration(minutes float64) time.Duration {
	switch {
	case math.IsNaN(minutes), minutes <= 0:
		return 0
	case minutes >= MaxSuppressMinutes:
		return time.Duration(MaxSuppressMinutes) * time.Minute
	}
	return time.Duration(minutes * float64(time.Minute))
}

// FormatMinutes renders minutes without a trailing ".0".
func FormatMinutes(minutes float64) string {
	return strconv.FormatFloat(minutes, 'g', -1, 64)
}

func shutupCommand(m *Manager) Command {
	return Command{
		Name:        "smshutup",
		Usage:       "smshutup [minutes]",
		Description: "suppress forwarding to this conversation",
		Handler: func(_ context.Context, req CommandRequest) (string, error) {
			minutes := ParseSuppressMinutes(req.Args)
			m.SuppressRecipient(req.Message.Whom, MinutesToDuration(minutes))
			return "Sorry, shutting up for " + FormatMinutes(minutes) + " minutes.", nil
		},
	}
}

func helpCommand(reg *CommandRegistry) Command {
	return Command{
		Name:        "smhelp",
		Usage:       "smhelp",
		Description: "list gateway commands",
		Handler: func(context.Context, CommandRequest) (string, error) {
			return "sm* commands belong to the Simple Message GateWay module. I know these: " +
				strings.Join(reg.Names(), ", "), nil
		},
	}
}
