package drivers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/history"
	"github.com/nadzzz/voicerelay/internal/llm"
)

func TestMemoryStore_AppendLoadReset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	msgs, err := s.Load(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.Append(ctx, "a", history.NewMessage(llm.RoleUser, "hi")))
	require.NoError(t, s.Append(ctx, "a", history.NewMessage(llm.RoleAssistant, "hello.")))
	require.NoError(t, s.Append(ctx, "b", history.NewMessage(llm.RoleUser, "other")))

	msgs, err = s.Load(ctx, "a")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello.", msgs[1].Content)

	require.NoError(t, s.Reset(ctx, "a"))
	msgs, err = s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "reset must not touch other sessions")
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Append(ctx, "a", history.NewMessage(llm.RoleUser, "original")))

	msgs, _ := s.Load(ctx, "a")
	msgs[0].Content = "mutated"

	again, _ := s.Load(ctx, "a")
	assert.Equal(t, "original", again[0].Content)
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, "a", history.NewMessage(llm.RoleUser, fmt.Sprint(i)))
		}()
	}
	wg.Wait()

	msgs, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, msgs, 50)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.HistoryConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, config.HistoryConfig{Backend: "cassandra"})
	assert.ErrorIs(t, err, history.ErrInvalidBackend)

	_, err = Open(ctx, config.HistoryConfig{Backend: "redis"})
	assert.ErrorIs(t, err, history.ErrInvalidConfig)

	_, err = Open(ctx, config.HistoryConfig{Backend: "postgres"})
	assert.ErrorIs(t, err, history.ErrInvalidConfig)
}
