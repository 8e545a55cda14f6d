// Package state builds validated execution state for new and resumed runs.
//
// Information Hiding:
// - Request validation rules and option defaults
// - Order of validation, sanitization and retention registration
// - Run id generation
package state

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/security"
	"github.com/richinex/relay/storage"
)

// Default generation options.
const (
	DefaultMaxContextItems = 5
	DefaultMaxTokens       = 1024
	maxTemperature         = 2.0
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// DefaultOptions are applied when a request carries no options.
func DefaultOptions() model.GenerationOptions {
	return model.GenerationOptions{
		EnhanceWithContext: true,
		MaxContextItems:    DefaultMaxContextItems,
		IncludeSourceInfo:  false,
		MaxTokens:          DefaultMaxTokens,
	}
}

// ContinuationOptions are used for every resumed run. The original run's
// options are not carried over.
func ContinuationOptions() model.GenerationOptions {
	return model.GenerationOptions{
		EnhanceWithContext: true,
		MaxContextItems:    DefaultMaxContextItems,
		MaxTokens:          DefaultMaxTokens,
	}
}

// Assembler turns requests into ExecutionState.
type Assembler struct {
	filter    *security.Filter
	retention storage.RetentionRecorder
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(gen func() string) Option {
	return func(a *Assembler) { a.newRunID = gen }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// NewAssembler creates an assembler.
func NewAssembler(filter *security.Filter, retention storage.RetentionRecorder, opts ...Option) *Assembler {
	a := &Assembler{
		filter:    filter,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "state")
	return a
}

// BuildInitial validates and sanitizes req, registers retention for the run
// and returns its initial state. Nothing is recorded when validation fails.
func (a *Assembler) BuildInitial(ctx context.Context, req model.Request) (*model.ExecutionState, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	messages, err := a.filter.SanitizeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
		if opts.MaxTokens == 0 {
			opts.MaxTokens = DefaultMaxTokens
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = a.newRunID()
	}
	userID := strings.TrimSpace(req.UserID)

	if err := a.retention.Register(ctx, runID, userID, model.CategoryChatHistory); err != nil {
		return nil, fmt.Errorf("register retention: %w", err)
	}

	now := a.now()
	a.logger.Debug("initial state built", "run_id", runID, "messages", len(messages))
	return &model.ExecutionState{
		UserID:      userID,
		Messages:    messages,
		ChatHistory: PairMessages(messages, now),
		Options:     opts,
		RunID:       runID,
		Metadata:    model.Metadata{StartTime: startTime(now)},
		TaskIDs:     []string{},
		Docs:        []model.Document{},
	}, nil
}

// BuildResume returns the state for continuing runID, with at most one new
// message. The run id doubles as the user identity.
func (a *Assembler) BuildResume(ctx context.Context, req model.ResumeRequest) (*model.ExecutionState, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		return nil, model.InvalidRequest("runId", "is required")
	}
	if !runIDPattern.MatchString(runID) {
		return nil, model.InvalidRequest("runId", "contains invalid characters")
	}

	messages := []model.ChatMessage{}
	if req.NewMessage != nil {
		msg := *req.NewMessage
		if msg.Role == "" {
			msg.Role = model.RoleUser
		}
		if !msg.Role.Valid() {
			return nil, model.InvalidRequest("newMessage.role", fmt.Sprintf("unknown role %q", msg.Role))
		}
		clean, err := a.filter.Sanitize(msg.Content)
		if err != nil {
			return nil, err
		}
		msg.Content = clean
		messages = append(messages, msg)
	}

	if err := a.retention.Register(ctx, runID, runID, model.CategoryChatHistory); err != nil {
		return nil, fmt.Errorf("register retention: %w", err)
	}

	now := a.now()
	a.logger.Debug("resume state built", "run_id", runID, "new_message", req.NewMessage != nil)
	return &model.ExecutionState{
		UserID:      runID,
		Messages:    messages,
		ChatHistory: PairMessages(messages, now),
		Options:     ContinuationOptions(),
		RunID:       runID,
		Metadata:    model.Metadata{StartTime: startTime(now)},
		TaskIDs:     []string{},
		Docs:        []model.Document{},
	}, nil
}

func startTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

func validateRequest(req model.Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return model.InvalidRequest("userId", "is required")
	}
	if len(req.Messages) == 0 {
		return model.InvalidRequest("messages", "at least one message is required")
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return model.InvalidRequest(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unknown role %q", msg.Role))
		}
	}
	if req.RunID != "" && !runIDPattern.MatchString(req.RunID) {
		return model.InvalidRequest("runId", "contains invalid characters")
	}
	if o := req.Options; o != nil {
		if o.MaxContextItems < 0 {
			return model.InvalidRequest("options.maxContextItems", "must not be negative")
		}
		if o.MaxTokens < 0 {
			return model.InvalidRequest("options.maxTokens", "must not be negative")
		}
		if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > maxTemperature) {
			return model.InvalidRequest("options.temperature", "must be between 0 and 2")
		}
	}
	return nil
}
