package mqtt

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mq_agent/pkg/channel"
)

// Outbound 设备出站通道。Push 发布到 path/<key>，Set 发布保留消息，DeleteBefore 用空保留消息清除旧节点。
type Outbound struct {
	client   *Client
	deviceID string

	mu       sync.Mutex
	retained map[string][]string // 父路径 -> 已设置的子键，按键有序
}

// NewOutbound 创建出站通道
func NewOutbound(client *Client, deviceID string) *Outbound {
	return &Outbound{
		client:   client,
		deviceID: deviceID,
		retained: make(map[string][]string),
	}
}

func (o *Outbound) Push(ctx context.Context, path string, value []byte) (string, error) {
	key := channel.NewPushKey()
	if err := o.client.publish(ctx, Topic(o.deviceID, path+"/"+key), false, value); err != nil {
		return "", err
	}
	return key, nil
}

func (o *Outbound) Set(ctx context.Context, path string, value []byte) error {
	if err := o.client.publish(ctx, Topic(o.deviceID, path), true, value); err != nil {
		return err
	}
	o.remember(path)
	return nil
}

func (o *Outbound) DeleteBefore(ctx context.Context, path, endKey string) (int, error) {
	parent := strings.Trim(path, "/")
	stale := o.takeUpTo(parent, endKey)

	deleted := 0
	for i, key := range stale {
		// 空的保留消息会清除服务端保存的值
		if err := o.client.publish(ctx, Topic(o.deviceID, parent+"/"+key), true, nil); err != nil {
			o.restore(parent, stale[i:])
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// remember 记录保留消息的路径，供 DeleteBefore 查找
func (o *Outbound) remember(path string) {
	clean := strings.Trim(path, "/")
	i := strings.LastIndex(clean, "/")
	if i < 0 {
		return
	}
	parent, key := clean[:i], clean[i+1:]

	o.mu.Lock()
	defer o.mu.Unlock()
	keys := o.retained[parent]
	n := sort.SearchStrings(keys, key)
	if n < len(keys) && keys[n] == key {
		return
	}
	keys = append(keys, "")
	copy(keys[n+1:], keys[n:])
	keys[n] = key
	o.retained[parent] = keys
}

func (o *Outbound) takeUpTo(parent, endKey string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := o.retained[parent]
	n := sort.Search(len(keys), func(i int) bool { return keys[i] > endKey })
	stale := append([]string(nil), keys[:n]...)
	o.retained[parent] = append([]string(nil), keys[n:]...)
	return stale
}

func (o *Outbound) restore(parent string, keys []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := append(append([]string(nil), keys...), o.retained[parent]...)
	sort.Strings(merged)
	o.retained[parent] = merged
}

// Tracked 父路径下仍保留在服务端的子键数量
func (o *Outbound) Tracked(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.retained[strings.Trim(path, "/")])
}
