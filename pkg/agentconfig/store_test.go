package agentconfig

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(zerolog.Nop())
}

func echoConfig() AgentConfig {
	return AgentConfig{
		Name:         "Echo",
		Instructions: "echo the input",
		Model:        "gpt-4.1",
		Tools:        []ToolSpec{},
	}
}

func TestStoreCreate(t *testing.T) {
	t.Run("generates id and timestamps", func(t *testing.T) {
		store := newTestStore()

		created, err := store.Create(echoConfig())
		require.NoError(t, err)

		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())
		assert.False(t, created.UpdatedAt.IsZero())

		got, err := store.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, got)
	})

	t.Run("keeps caller supplied id", func(t *testing.T) {
		store := newTestStore()
		cfg := echoConfig()
		cfg.ID = "echo"

		created, err := store.Create(cfg)
		require.NoError(t, err)
		assert.Equal(t, "echo", created.ID)
	})

	t.Run("rejects colliding id", func(t *testing.T) {
		store := newTestStore()
		cfg := echoConfig()
		cfg.ID = "echo"

		_, err := store.Create(cfg)
		require.NoError(t, err)

		_, err = store.Create(cfg)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("defaults model", func(t *testing.T) {
		store := newTestStore()
		cfg := echoConfig()
		cfg.Model = ""

		created, err := store.Create(cfg)
		require.NoError(t, err)
		assert.Equal(t, DefaultModel, created.Model)
	})

	t.Run("rejects missing name", func(t *testing.T) {
		store := newTestStore()
		_, err := store.Create(AgentConfig{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "name")
	})

	t.Run("rejects unknown tool kind", func(t *testing.T) {
		store := newTestStore()
		cfg := echoConfig()
		cfg.Tools = []ToolSpec{{Name: "x", Kind: "shell"}}

		_, err := store.Create(cfg)
		assert.Error(t, err)
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	store := newTestStore()
	cfg := echoConfig()
	cfg.Tools = []ToolSpec{{
		Name:       "search",
		Kind:       ToolKindFileSearch,
		Parameters: map[string]any{"vector_store_ids": []any{"vs_1"}},
	}}

	created, err := store.Create(cfg)
	require.NoError(t, err)

	created.Tools[0].Parameters["vector_store_ids"] = []any{"mutated"}
	created.Name = "mutated"

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Echo", got.Name)
	assert.Equal(t, []any{"vs_1"}, got.Tools[0].Parameters["vector_store_ids"])
}

func TestStoreUpdate(t *testing.T) {
	store := newTestStore()
	created, err := store.Create(echoConfig())
	require.NoError(t, err)

	var notified []string
	store.OnChange(func(id string) { notified = append(notified, id) })

	store.now = func() time.Time { return created.UpdatedAt.Add(time.Minute) }

	replacement := AgentConfig{
		ID:           "ignored",
		Name:         "Shouter",
		Instructions: "shout",
		Model:        "gpt-4o",
	}
	updated, err := store.Update(created.ID, replacement)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shouter", got.Name)
	assert.Equal(t, "shout", got.Instructions)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Empty(t, got.Tools)

	assert.Equal(t, []string{created.ID}, notified)

	_, err = store.Update("missing", replacement)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore()
	created, err := store.Create(echoConfig())
	require.NoError(t, err)

	var notified []string
	store.OnChange(func(id string) { notified = append(notified, id) })

	require.NoError(t, store.Delete(created.ID))
	assert.Empty(t, store.List())
	assert.False(t, store.Exists(created.ID))
	assert.Equal(t, []string{created.ID}, notified)

	_, err = store.Get(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(created.ID), ErrNotFound)
}

func TestStoreListOrder(t *testing.T) {
	store := newTestStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		cfg := echoConfig()
		cfg.ID = id
		cfg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := store.Create(cfg)
		require.NoError(t, err)
	}

	var ids []string
	for _, cfg := range store.List() {
		ids = append(ids, cfg.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := newTestStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Create(echoConfig())
			if !assert.NoError(t, err) {
				return
			}
			_, _ = store.Update(created.ID, echoConfig())
			_ = store.List()
		}()
	}
	wg.Wait()

	assert.Len(t, store.List(), 20)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	seed := `agents:
  - id: echo
    name: Echo
    instructions: echo the input
    model: gpt-4.1
  - name: Researcher
    instructions: search the web
    tools:
      - name: web
        description: web search
        type: web_search
`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := newTestStore()
	created, err := store.LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, created, 2)

	echo, err := store.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo the input", echo.Instructions)

	assert.Equal(t, DefaultModel, created[1].Model)
	require.Len(t, created[1].Tools, 1)
	assert.Equal(t, ToolKindWebSearch, created[1].Tools[0].Kind)
}

func TestParseSeedRejectsInvalidAgents(t *testing.T) {
	_, err := ParseSeed([]byte("agents:\n  - instructions: nameless\n"))
	assert.Error(t, err)

	_, err = ParseSeed([]byte("agents: [unterminated"))
	assert.Error(t, err)
}
