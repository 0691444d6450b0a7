package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultFormat is the message template used when none is configured.
const DefaultFormat = "<%(snick)s> %(msg)s"

// Template placeholder names.
const (
	fieldSenderNick = "snick"
	fieldMessage    = "msg"
	fieldSource     = "src"
)

// ErrUnknownPlaceholder indicates a template references an unknown field.
var ErrUnknownPlaceholder = errors.New("unknown template placeholder")

// ErrBadTemplate indicates a stray '%' that is neither %% nor %(name)s.
var ErrBadTemplate = errors.New("malformed template directive")

// placeholderRE matches %% and %(name)s directives.
var placeholderRE = regexp.MustCompile(`%%|%\(([A-Za-z_][A-Za-z0-9_]*)\)s`)

// MessageFormat renders forwarded message bodies from a template with
// %(snick)s, %(msg)s and %(src)s placeholders. %% yields a literal percent.
type MessageFormat struct {
	template string
}

// ParseMessageFormat validates tmpl. An empty template selects DefaultFormat.
func ParseMessageFormat(tmpl string) (MessageFormat, error) {
	if tmpl == "" {
		tmpl = DefaultFormat
	}

	if strings.Contains(placeholderRE.ReplaceAllString(tmpl, ""), "%") {
		return MessageFormat{}, fmt.Errorf("template %q: %w", tmpl, ErrBadTemplate)
	}

	for _, sub := range placeholderRE.FindAllStringSubmatch(tmpl, -1) {
		switch sub[1] {
		case "", fieldSenderNick, fieldMessage, fieldSource:
		default:
			return MessageFormat{}, fmt.Errorf("template %q field %q: %w", tmpl, sub[1], ErrUnknownPlaceholder)
		}
	}

	return MessageFormat{template: tmpl}, nil
}

// MustParseMessageFormat is like ParseMessageFormat but panics on error.
func MustParseMessageFormat(tmpl string) MessageFormat {
	f, err := ParseMessageFormat(tmpl)
	if err != nil {
		panic(err)
	}
	return f
}

// Render substitutes the sender nickname, message text and source address.
func (f MessageFormat) Render(snick, msg, src string) string {
	tmpl := f.template
	if tmpl == "" {
		tmpl = DefaultFormat
	}
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch m {
		case "%%":
			return "%"
		case "%(" + fieldSenderNick + ")s":
			return snick
		case "%(" + fieldMessage + ")s":
			return msg
		case "%(" + fieldSource + ")s":
			return src
		default:
			return m
		}
	})
}

// String returns the template text.
func (f MessageFormat) String() string {
	if f.template == "" {
		return DefaultFormat
	}
	return f.template
}
