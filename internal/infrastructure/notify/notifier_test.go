package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBell_WritesBellCharacter(t *testing.T) {
	var buf bytes.Buffer
	b := &Bell{W: &buf}
	require.NoError(t, b.Notify(context.Background()))
	assert.Equal(t, "\a", buf.String())
}

func TestFunc_Adapts(t *testing.T) {
	boom := errors.New("boom")
	var called bool
	ok := Func(func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, ok.Notify(context.Background()))
	assert.True(t, called)

	bad := Func(func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, bad.Notify(context.Background()), boom)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background()))
}
