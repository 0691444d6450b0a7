package gateway_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/dantte-lp/smgw/internal/gateway"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{body: "!smshutup 10", wantName: "smshutup", wantArgs: []string{"10"}, wantOK: true},
		{body: "  !smhelp  ", wantName: "smhelp", wantArgs: []string{}, wantOK: true},
		{body: "hello", wantOK: false},
		{body: "!", wantOK: false},
		{body: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			t.Parallel()

			name, args, ok := gateway.ParseCommand(tt.body)
			if ok != tt.wantOK || name != tt.wantName {
				t.Fatalf("ParseCommand(%q) = (%q, %v, %v)", tt.body, name, args, ok)
			}
			if ok && !slices.Equal(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestParseSuppressMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want float64
	}{
		{name: "default", want: 5},
		{name: "integer", args: []string{"10"}, want: 10},
		{name: "fraction", args: []string{"0.5"}, want: 0.5},
		{name: "unparsable", args: []string{"soon"}, want: 5},
		{name: "negative", args: []string{"-3"}, want: 5},
		{name: "infinite", args: []string{"Inf"}, want: 5},
		{name: "nan", args: []string{"NaN"}, want: 5},
		{name: "huge", args: []string{"1e12"}, want: gateway.MaxSuppressMinutes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := gateway.ParseSuppressMinutes(tt.args); got != tt.want {
				t.Errorf("ParseSuppressMinutes(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}

	if d := gateway.MinutesToDuration(0.5); d != 30*time.Second {
		t.Errorf("MinutesToDuration(0.5) = %v, want 30s", d)
	}
	if s := gateway.FormatMinutes(5); s != "5" {
		t.Errorf("FormatMinutes(5) = %q, want 5", s)
	}
}

func TestMinutesToDurationBounds(t *testing.T) {
	t.Parallel()

	maxDuration := time.Duration(gateway.MaxSuppressMinutes) * time.Minute

	tests := []struct {
		name    string
		minutes float64
		want    time.Duration
	}{
		{name: "half", minutes: 0.5, want: 30 * time.Second},
		{name: "zero", minutes: 0, want: 0},
		{name: "negative", minutes: -1, want: 0},
		{name: "nan", minutes: math.NaN(), want: 0},
		{name: "positive infinity", minutes: math.Inf(1), want: maxDuration},
		{name: "negative infinity", minutes: math.Inf(-1), want: 0},
		{name: "huge", minutes: 1e12, want: maxDuration},
		{name: "at cap", minutes: gateway.MaxSuppressMinutes, want: maxDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := gateway.MinutesToDuration(tt.minutes)
			if got != tt.want {
				t.Errorf("MinutesToDuration(%v) = %v, want %v", tt.minutes, got, tt.want)
			}
			if got < 0 {
				t.Errorf("MinutesToDuration(%v) is negative", tt.minutes)
			}
		})
	}
}

func TestNormalizeSuppressMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		minutes float64
		want    float64
	}{
		{name: "regular", minutes: 10, want: 10},
		{name: "zero", minutes: 0, want: gateway.DefaultSuppressMinutes},
		{name: "nan", minutes: math.NaN(), want: gateway.DefaultSuppressMinutes},
		{name: "infinity", minutes: math.Inf(1), want: gateway.DefaultSuppressMinutes},
		{name: "huge", minutes: 1e12, want: gateway.MaxSuppressMinutes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := gateway.NormalizeSuppressMinutes(tt.minutes); got != tt.want {
				t.Errorf("NormalizeSuppressMinutes(%v) = %v, want %v", tt.minutes, got, tt.want)
			}
		})
	}
}

func TestCommandRegistry(t *testing.T) {
	t.Parallel()

	reg := gateway.NewCommandRegistry()
	echo := gateway.Command{
		Name: "smecho",
		Handler: func(_ context.Context, req gateway.CommandRequest) (string, error) {
			return req.Message.Whom + ":" + req.Args[0], nil
		},
	}
	if err := reg.Register(echo); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Register(echo); !errors.Is(err, gateway.ErrDuplicateCommand) {
		t.Errorf("Register duplicate = %v, want ErrDuplicateCommand", err)
	}
	if err := reg.Register(gateway.Command{Name: "x"}); !errors.Is(err, gateway.ErrNilCommandHandler) {
		t.Errorf("Register nil handler = %v, want ErrNilCommandHandler", err)
	}
	if err := reg.Register(gateway.Command{}); !errors.Is(err, gateway.ErrEmptyCommandName) {
		t.Errorf("Register empty name = %v, want ErrEmptyCommandName", err)
	}

	reply, handled, err := reg.Dispatch(context.Background(), gateway.InboundMessage{Body: "!smecho hi", Whom: "room1"})
	if err != nil || !handled || reply != "room1:hi" {
		t.Errorf("Dispatch = (%q, %v, %v), want (room1:hi, true, nil)", reply, handled, err)
	}

	_, handled, err = reg.Dispatch(context.Background(), gateway.InboundMessage{Body: "!smnope"})
	if handled || err != nil {
		t.Errorf("Dispatch unknown = (%v, %v), want (false, nil)", handled, err)
	}
}

func TestCommandRegistryHandlerError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	reg := gateway.NewCommandRegistry()
	_ = reg.Register(gateway.Command{
		Name: "smfail",
		Handler: func(context.Context, gateway.CommandRequest) (string, error) {
			return "", errBoom
		},
	})

	_, handled, err := reg.Dispatch(context.Background(), gateway.InboundMessage{Body: "!smfail"})
	if !handled || !errors.Is(err, errBoom) {
		t.Errorf("Dispatch = (%v, %v), want (true, boom)", handled, err)
	}
}
