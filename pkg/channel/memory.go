package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mq_agent/pkg/errs"
)

// MemoryFeed 内存命令流。未确认的条目在每次订阅时重新投递，与服务端缓存的行为一致。
type MemoryFeed struct {
	mu            sync.Mutex
	seq           int64
	order         []string
	items         map[string]*memItem
	acks          map[string]int
	sub           *memSubscription
	subscribes    int
	failSubscribe int
}

// NewMemoryFeed 创建内存命令流
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		items: make(map[string]*memItem),
		acks:  make(map[string]int),
	}
}

// Publish 追加一个条目，返回其键
func (f *MemoryFeed) Publish(payload string) string {
	f.mu.Lock()
	f.seq++
	key := fmt.Sprintf("%020d", f.seq)
	f.items[key] = &memItem{feed: f, key: key, payload: []byte(payload)}
	f.order = append(f.order, key)
	sub := f.sub
	f.mu.Unlock()

	if sub != nil {
		sub.wake()
	}
	return key
}

// Subscribe 订阅命令流，同一时间只保留一个订阅
func (f *MemoryFeed) Subscribe(ctx context.Context) (Subscription, error) {
	f.mu.Lock()
	f.subscribes++
	if f.failSubscribe > 0 {
		f.failSubscribe--
		f.mu.Unlock()
		return nil, errs.New(errs.ErrTransientChannel, "subscribe refused")
	}
	prev := f.sub
	sub := &memSubscription{
		feed:      f,
		items:     make(chan Item),
		done:      make(chan struct{}),
		notify:    make(chan struct{}, 1),
		delivered: make(map[string]bool),
	}
	f.sub = sub
	f.mu.Unlock()

	if prev != nil {
		prev.close(fmt.Errorf("superseded"))
	}

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			sub.close(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Fail 以错误结束当前订阅，模拟连接中断
func (f *MemoryFeed) Fail(err error) {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub != nil {
		sub.close(err)
	}
}

// FailNextSubscribes 让接下来的 n 次订阅失败
func (f *MemoryFeed) FailNextSubscribes(n int) {
	f.mu.Lock()
	f.failSubscribe = n
	f.mu.Unlock()
}

// AckCount 条目被确认的次数
func (f *MemoryFeed) AckCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks[key]
}

// Pending 尚未确认的条目数
func (f *MemoryFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Subscribes 订阅尝试次数
func (f *MemoryFeed) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *MemoryFeed) ack(key string) {
	f.mu.Lock()
	f.acks[key]++
	delete(f.items, key)
	f.mu.Unlock()
}

// next 返回本次订阅尚未投递的第一个条目
func (f *MemoryFeed) next(s *memSubscription) *memItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range f.order {
		item, ok := f.items[key]
		if !ok || s.delivered[key] {
			continue
		}
		s.delivered[key] = true
		return item
	}
	return nil
}

type memItem struct {
	feed    *MemoryFeed
	key     string
	payload []byte
}

func (i *memItem) Key() string     { return i.key }
func (i *memItem) Payload() []byte { return i.payload }
func (i *memItem) Ack() error {
	i.feed.ack(i.key)
	return nil
}

type memSubscription struct {
	feed      *MemoryFeed
	items     chan Item
	done      chan struct{}
	notify    chan struct{}
	once      sync.Once
	err       error
	delivered map[string]bool
}

func (s *memSubscription) Items() <-chan Item { return s.items }

func (s *memSubscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *memSubscription) Close() error {
	s.close(nil)
	return nil
}

func (s *memSubscription) close(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *memSubscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memSubscription) run() {
	defer close(s.items)
	for {
		item := s.feed.next(s)
		if item == nil {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.items <- item:
		case <-s.done:
			return
		}
	}
}

// Record 出站通道的一次写入
type Record struct {
	Op    string // push, set
	Path  string
	Value []byte
}

// MemoryOutbound 内存出站通道
type MemoryOutbound struct {
	mu       sync.Mutex
	values   map[string][]byte
	records  []Record
	failures int
	failErr  error
	deletes  int
}

// NewMemoryOutbound 创建内存出站通道
func NewMemoryOutbound() *MemoryOutbound {
	return &MemoryOutbound{values: make(map[string][]byte)}
}

// FailNext 让接下来的 n 次写入返回 err
func (o *MemoryOutbound) FailNext(n int, err error) {
	o.mu.Lock()
	o.failures = n
	o.failErr = err
	o.mu.Unlock()
}

func (o *MemoryOutbound) fail() error {
	if o.failures > 0 {
		o.failures--
		return o.failErr
	}
	return nil
}

func (o *MemoryOutbound) Push(ctx context.Context, path string, value []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail(); err != nil {
		return "", err
	}
	key := NewPushKey()
	o.values[path+"/"+key] = value
	o.records = append(o.records, Record{Op: "push", Path: path, Value: value})
	return key, nil
}

func (o *MemoryOutbound) Set(ctx context.Context, path string, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail(); err != nil {
		return err
	}
	o.values[path] = value
	o.records = append(o.records, Record{Op: "set", Path: path, Value: value})
	return nil
}

func (o *MemoryOutbound) DeleteBefore(ctx context.Context, path, endKey string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	removed := 0
	for full := range o.values {
		if !strings.HasPrefix(full, prefix) {
			continue
		}
		child := strings.SplitN(strings.TrimPrefix(full, prefix), "/", 2)[0]
		if child <= endKey {
			delete(o.values, full)
			removed++
		}
	}
	o.deletes++
	return removed, nil
}

// Get 读取 path 上的值
func (o *MemoryOutbound) Get(path string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.values[path]
	return v, ok
}

// Children 返回 path 下现存子节点的键，按键排序
func (o *MemoryOutbound) Children(path string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]bool)
	var keys []string
	for full := range o.values {
		if !strings.HasPrefix(full, prefix) {
			continue
		}
		child := strings.SplitN(strings.TrimPrefix(full, prefix), "/", 2)[0]
		if !seen[child] {
			seen[child] = true
			keys = append(keys, child)
		}
	}
	sort.Strings(keys)
	return keys
}

// Records 返回所有写入记录的副本，可按路径前缀过滤
func (o *MemoryOutbound) Records(pathPrefix string) []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Record
	for _, r := range o.records {
		if strings.HasPrefix(r.Path, pathPrefix) {
			out = append(out, r)
		}
	}
	return out
}

// DeleteCalls DeleteBefore 被调用的次数
func (o *MemoryOutbound) DeleteCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deletes
}
