package watcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	slugs []string
	err   error
}

func (f *fakeProvisioner) Provision(_ context.Context, slug string) error {
	f.slugs = append(f.slugs, slug)
	return f.err
}

func TestParsePayload(t *testing.T) {
	slug, err := ParsePayload(`{"slug":"acme"}`)
	require.NoError(t, err)
	assert.Equal(t, "acme", slug)
}

func TestParsePayloadExtraFields(t *testing.T) {
	slug, err := ParsePayload(`{"slug":"acme","created_at":"2026-08-25T10:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "acme", slug)
}

func TestParsePayloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "acme"},
		{"empty", ""},
		{"missing slug", `{"name":"acme"}`},
		{"empty slug", `{"slug":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestDispatch(t *testing.T) {
	p := &fakeProvisioner{}
	w := New("postgres://ignored", p, slog.Default())

	w.dispatch(context.Background(), `{"slug":"acme"}`)
	assert.Equal(t, []string{"acme"}, p.slugs)
}

func TestDispatchMalformedPayloadSkipsProvisioner(t *testing.T) {
	p := &fakeProvisioner{}
	w := New("postgres://ignored", p, slog.Default())

	w.dispatch(context.Background(), "garbage")
	assert.Empty(t, p.slugs)
}

func TestDispatchSwallowsProvisionError(t *testing.T) {
	p := &fakeProvisioner{err: errors.New("resolver down")}
	w := New("postgres://ignored", p, slog.Default())

	// Must not panic or propagate; the listen loop stays up.
	w.dispatch(context.Background(), `{"slug":"acme"}`)
	assert.Equal(t, []string{"acme"}, p.slugs)
}
