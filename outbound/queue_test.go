package outbound

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/gwbridge/model"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Push(model.NewMessage("a", nil)))
	require.NoError(t, q.Push(model.NewMessage("b", nil)))

	front, err := q.Front()
	require.NoError(t, err)
	require.Equal(t, "a", front.Channel)

	msg, err := q.Pop()
	require.NoError(t, err)
	require.Equal(t, "a", msg.Channel)

	empty, err := q.Empty()
	require.NoError(t, err)
	require.False(t, empty)

	_, _ = q.Pop()
	empty, err = q.Empty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestRedisQueueFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	q := NewRedisQueue(cli, "gwbridge:test:outbound")

	require.NoError(t, q.Push(model.NewMessage("a", []byte("1"))))
	require.NoError(t, q.Push(model.NewMessage("b", []byte("2"))))

	empty, err := q.Empty()
	require.NoError(t, err)
	require.False(t, empty)

	front, err := q.Front()
	require.NoError(t, err)
	require.Equal(t, "a", front.Channel)

	msg, err := q.Pop()
	require.NoError(t, err)
	require.Equal(t, "a", msg.Channel)
	require.Equal(t, []byte("1"), msg.Payload)

	msg, err = q.Pop()
	require.NoError(t, err)
	require.Equal(t, "b", msg.Channel)

	empty, err = q.Empty()
	require.NoError(t, err)
	require.True(t, empty)

	msg, err = q.Pop()
	require.NoError(t, err)
	require.Nil(t, msg)
}
