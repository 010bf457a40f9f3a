package mqtt

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
)

type fakeMessage struct {
	topic   string
	payload []byte
	acked   atomic.Bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return QoS }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              { m.acked.Store(true) }

func newTestFeed() *Feed {
	return &Feed{
		client: &Client{logger: logx.Nop{}},
		topic:  CommandTopic("dev"),
		buffer: 4,
	}
}

func TestFeedQueuesCommandsResentBeforeSubscribeCompletes(t *testing.T) {
	f := newTestFeed()
	first := f.install()

	f.lost(errors.New("broker went away"))
	assert.True(t, errors.Is(first.Err(), errs.ErrTransientChannel))
	_, open := <-first.Items()
	assert.False(t, open)

	// 重连时服务端在 SUBSCRIBE 确认之前就补发了缓存的命令
	second := f.install()
	msg := &fakeMessage{topic: f.topic, payload: []byte(`{"command":"vibrate"}`)}
	f.deliver(msg)

	select {
	case it := <-second.Items():
		assert.Equal(t, msg.payload, it.Payload())
		assert.NotEmpty(t, it.Key())
		assert.False(t, msg.acked.Load())
		require.NoError(t, it.Ack())
		assert.True(t, msg.acked.Load())
	case <-time.After(time.Second):
		t.Fatal("resent command was not queued")
	}
	require.NoError(t, second.Close())
}

func TestFeedWithoutSubscriptionLeavesCommandUnacked(t *testing.T) {
	f := newTestFeed()
	msg := &fakeMessage{topic: f.topic}
	f.deliver(msg)
	assert.False(t, msg.acked.Load())
}

func TestFeedAcksForeignTopic(t *testing.T) {
	f := newTestFeed()
	sub := f.install()
	msg := &fakeMessage{topic: "device/other/commands"}
	f.deliver(msg)
	assert.True(t, msg.acked.Load())
	require.NoError(t, sub.Close())
}

func TestFeedInstallReplacesPrevious(t *testing.T) {
	f := newTestFeed()
	first := f.install()
	second := f.install()

	_, open := <-first.Items()
	assert.False(t, open)
	assert.NoError(t, first.Err())

	require.NoError(t, second.Close())
	f.mu.Lock()
	assert.Nil(t, f.current)
	f.mu.Unlock()
}
