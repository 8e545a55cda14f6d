// Security Filter - screens untrusted chat content before it enters run state.
//
// Information Hiding:
// - Injection, prompt-override and PII pattern tables
// - Order of checks (reject first, then redact, then escape)
// - Redaction marker and escaping rules

package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/richinex/relay/model"
)

// ErrContentRejected is wrapped by every rejection the filter produces.
// Use model.KindOf to tell the reasons apart.
var ErrContentRejected = errors.New("content rejected")

const (
	DefaultMaxLength       = 4000
	DefaultMaxMessages     = 100
	DefaultRedactionMarker = "[REDACTED]"
)

// Options configures a Filter. Zero fields take the defaults.
type Options struct {
	MaxLength       int
	MaxMessages     int
	RedactionMarker string
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxLength:       DefaultMaxLength,
		MaxMessages:     DefaultMaxMessages,
		RedactionMarker: DefaultRedactionMarker,
	}
}

// Filter sanitizes message content. It holds no mutable state.
type Filter struct {
	opts Options
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// NewFilter creates a filter, filling unset options with defaults.
func NewFilter(opts Options) *Filter {
	def := DefaultOptions()
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = def.MaxMessages
	}
	if opts.RedactionMarker == "" {
		opts.RedactionMarker = def.RedactionMarker
	}
	return &Filter{opts: opts}
}

// Options returns the effective options.
func (f *Filter) Options() Options {
	return f.opts
}

// Sanitize screens a single piece of content. Pattern checks run against the
// raw input; PII redaction and HTML escaping are applied to accepted content only.
func (f *Filter) Sanitize(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", &model.Error{Kind: model.KindInvalidRequest, Field: "content", Detail: "must not be empty", Err: ErrContentRejected}
	}
	if n := utf8.RuneCountInString(content); n > f.opts.MaxLength {
		return "", &model.Error{
			Kind:   model.KindInvalidRequest,
			Field:  "content",
			Detail: fmt.Sprintf("length %d exceeds maximum of %d", n, f.opts.MaxLength),
			Err:    ErrContentRejected,
		}
	}
	if matchesAny(injectionPatterns, content) || matchesAny(overridePatterns, content) {
		return "", &model.Error{Kind: model.KindForbiddenContent, Err: ErrContentRejected}
	}

	out := content
	for _, rule := range piiRules {
		out = rule.re.ReplaceAllLiteralString(out, f.opts.RedactionMarker)
	}
	return htmlEscaper.Replace(out), nil
}

// SanitizeMessages sanitizes every message and returns a new slice. The input
// slice is never modified.
func (f *Filter) SanitizeMessages(messages []model.ChatMessage) ([]model.ChatMessage, error) {
	if len(messages) > f.opts.MaxMessages {
		e := model.TooManyMessages(len(messages), f.opts.MaxMessages)
		e.Err = ErrContentRejected
		return nil, e
	}

	out := make([]model.ChatMessage, len(messages))
	for i, msg := range messages {
		clean, err := f.Sanitize(msg.Content)
		if err != nil {
			var e *model.Error
			if errors.As(err, &e) && e.Kind == model.KindInvalidRequest {
				e.Field = fmt.Sprintf("messages[%d].content", i)
			}
			return nil, err
		}
		msg.Content = clean
		out[i] = msg
	}
	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
