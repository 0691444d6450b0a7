package gateway_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/dantte-lp/smgw/internal/gateway"
)

func TestSenderRegistryVerify(t *testing.T) {
	t.Parallel()

	reg := mustRegistry(t, map[string]string{
		"alice": "abc123",
		"bob":   "s3cret",
	})

	tests := []struct {
		name     string
		env      gateway.Envelope
		wantName string
		wantOK   bool
	}{
		{
			name:     "alice",
			env:      gateway.Sign("hello world", []byte("abc123")),
			wantName: "alice",
			wantOK:   true,
		},
		{
			name:     "bob",
			env:      gateway.Sign("hello world", []byte("s3cret")),
			wantName: "bob",
			wantOK:   true,
		},
		{
			name: "unknown secret",
			env:  gateway.Sign("hello world", []byte("wrong")),
		},
		{
			name: "tampered message",
			env: gateway.Envelope{
				Msg:  "hello world!",
				Auth: gateway.Sign("hello world", []byte("abc123")).Auth,
			},
		},
		{
			name: "short tag",
			env: gateway.Envelope{
				Msg:  "hello world",
				Auth: gateway.Sign("hello world", []byte("abc123")).Auth[:10],
			},
		},
		{
			name: "empty tag",
			env:  gateway.Envelope{Msg: "hello world"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			name, ok := reg.Verify(tt.env)
			if ok != tt.wantOK || name != tt.wantName {
				t.Errorf("Verify() = (%q, %v), want (%q, %v)", name, ok, tt.wantName, tt.wantOK)
			}
		})
	}
}

func TestNewSenderRegistryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		secrets map[string]string
		wantErr error
	}{
		{
			name:    "duplicate secret",
			secrets: map[string]string{"alice": "same", "bob": "same"},
			wantErr: gateway.ErrDuplicateSecret,
		},
		{
			name:    "empty secret",
			secrets: map[string]string{"alice": ""},
			wantErr: gateway.ErrEmptySecret,
		},
		{
			name:    "empty name",
			secrets: map[string]string{" ": "abc"},
			wantErr: gateway.ErrEmptySenderName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := gateway.NewSenderRegistry(tt.secrets)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewSenderRegistry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSenderRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	reg := mustRegistry(t, map[string]string{"zed": "1", "alice": "2", "mallory": "3"})

	want := []string{"alice", "mallory", "zed"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d, want 3", reg.Len())
	}
}
