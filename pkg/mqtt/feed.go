package mqtt

import (
	"context"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/errs"
)

// Feed 设备命令主题上的命令流。QoS1、手动确认、持久会话：未确认的命令由服务端在重连后重新投递。
type Feed struct {
	client *Client
	topic  string
	buffer int

	mu      sync.Mutex
	current *subscription
}

// NewFeed 创建命令流，同一个 Client 上只能有一个 Feed
func NewFeed(client *Client, deviceID string) *Feed {
	f := &Feed{client: client, topic: CommandTopic(deviceID), buffer: 64}
	client.OnConnectionLost(f.lost)
	client.route(f.deliver)
	return f
}

// Topic 订阅的主题
func (f *Feed) Topic() string {
	return f.topic
}

// Subscribe 连接并订阅命令主题。已有的订阅会被结束。
func (f *Feed) Subscribe(ctx context.Context) (channel.Subscription, error) {
	// 先挂上订阅再连接：持久会话在 CONNACK 之后立刻补发缓存的命令
	sub := f.install()
	if err := f.client.Connect(ctx); err != nil {
		sub.close(err)
		return nil, err
	}

	token := f.client.client.Subscribe(f.topic, QoS, func(_ MQTT.Client, msg MQTT.Message) {
		f.deliver(msg)
	})
	if err := wait(ctx, token, f.client.timeout); err != nil {
		sub.close(err)
		return nil, errs.Wrap(errs.ErrTransientChannel, err, "subscribe to %s failed", f.topic)
	}
	f.client.logger.Info("Subscribed to command topic: %s", f.topic)

	go func() {
		select {
		case <-ctx.Done():
			sub.close(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// install 创建新订阅并设为当前订阅，结束之前的订阅
func (f *Feed) install() *subscription {
	sub := newSubscription(f, f.buffer)
	f.mu.Lock()
	previous := f.current
	f.current = sub
	f.mu.Unlock()
	if previous != nil {
		previous.close(nil)
	}
	return sub
}

// deliver 把消息交给当前订阅。没有订阅时不确认，服务端会在下次连接时重新投递。
func (f *Feed) deliver(msg MQTT.Message) {
	if msg.Topic() != f.topic {
		f.client.logger.Warn("Ignoring message on unexpected topic %s", msg.Topic())
		msg.Ack()
		return
	}
	f.mu.Lock()
	sub := f.current
	f.mu.Unlock()
	if sub == nil {
		f.client.logger.Warn("Command arrived with no active subscription, leaving it unacked")
		return
	}
	sub.push(&item{key: channel.NewPushKey(), msg: msg})
}

func (f *Feed) lost(err error) {
	f.mu.Lock()
	sub := f.current
	f.current = nil
	f.mu.Unlock()
	if sub != nil {
		sub.close(errs.Wrap(errs.ErrTransientChannel, err, "connection lost"))
	}
}

func (f *Feed) release(sub *subscription) {
	f.mu.Lock()
	if f.current == sub {
		f.current = nil
	}
	f.mu.Unlock()
}

type item struct {
	key string
	msg MQTT.Message
}

func (i *item) Key() string     { return i.key }
func (i *item) Payload() []byte { return i.msg.Payload() }
func (i *item) Ack() error {
	i.msg.Ack()
	return nil
}

// subscription 入站队列 in 从不关闭，转发协程在结束时关闭 out
type subscription struct {
	feed *Feed
	in   chan channel.Item
	out  chan channel.Item
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSubscription(f *Feed, buffer int) *subscription {
	s := &subscription{
		feed: f,
		in:   make(chan channel.Item, buffer),
		out:  make(chan channel.Item),
		done: make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *subscription) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case it := <-s.in:
			select {
			case s.out <- it:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) push(it channel.Item) {
	select {
	case s.in <- it:
	case <-s.done:
	}
}

func (s *subscription) Items() <-chan channel.Item { return s.out }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close 结束订阅。不向服务端退订，持久会话继续为设备缓存命令。
func (s *subscription) Close() error {
	s.close(nil)
	return nil
}

func (s *subscription) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.feed.release(s)
	})
}
