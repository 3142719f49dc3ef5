package history

import (
	"context"
	"sync"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-phonic/internal/log"
)

// startJetStream starts an embedded NATS server with JetStream enabled.
func startJetStream(t *testing.T) (*server.Server, nats.JetStreamContext) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)
	return srv, js
}

func TestKVStoreRoundTrip(t *testing.T) {
	_, js := startJetStream(t)
	store, err := NewKVStore(js, "turns", log.Discard())
	require.NoError(t, err)

	ctx := context.Background()

	turns, err := store.Read(ctx, "fresh")
	require.NoError(t, err)
	require.Empty(t, turns)

	require.NoError(t, store.Append(ctx, "fresh", Turn{User: "one", Coaching: "c1", Conversational: "v1"}))
	require.NoError(t, store.Append(ctx, "fresh", Turn{User: "two", Coaching: "c2", Conversational: "v2"}))

	turns, err = store.Read(ctx, "fresh")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "one", turns[0].User)
	require.Equal(t, "v2", turns[1].Conversational)
}

func TestKVStoreBindsExistingBucket(t *testing.T) {
	_, js := startJetStream(t)

	first, err := NewKVStore(js, "shared", log.Discard())
	require.NoError(t, err)
	require.NoError(t, first.Append(context.Background(), "s", Turn{User: "hi"}))

	second, err := NewKVStore(js, "shared", log.Discard())
	require.NoError(t, err)

	turns, err := second.Read(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestKVStoreClear(t *testing.T) {
	_, js := startJetStream(t)
	store, err := NewKVStore(js, "clear", log.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "a", Turn{User: "keep"}))
	require.NoError(t, store.Append(ctx, "b", Turn{User: "drop"}))

	ok, err := store.Clear(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Clear(ctx, "missing")
	require.NoError(t, err)
	require.True(t, ok)

	turns, _ := store.Read(ctx, "a")
	require.Len(t, turns, 1)
	turns, _ = store.Read(ctx, "b")
	require.Empty(t, turns)

	// A cleared session accepts new turns.
	require.NoError(t, store.Append(ctx, "b", Turn{User: "again"}))
	turns, _ = store.Read(ctx, "b")
	require.Len(t, turns, 1)
}

func TestKVStoreCorruptedValue(t *testing.T) {
	_, js := startJetStream(t)
	store, err := NewKVStore(js, "corrupt", log.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.kv.Put("bad", []byte("not json"))
	require.NoError(t, err)

	turns, err := store.Read(ctx, "bad")
	require.NoError(t, err)
	require.Empty(t, turns)

	require.NoError(t, store.Append(ctx, "bad", Turn{User: "fresh"}))
	turns, _ = store.Read(ctx, "bad")
	require.Len(t, turns, 1)
}

func TestKVStoreConcurrentAppends(t *testing.T) {
	_, js := startJetStream(t)
	store, err := NewKVStore(js, "race", log.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Append(ctx, "shared", Turn{User: "x"})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns, _ := store.Read(ctx, "shared")
	require.Len(t, turns, 3)
}
