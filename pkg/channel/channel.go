// Package channel 定义代理依赖的外部通道契约：入站命令流、出站响应/遥测通道和大文件存储。
package channel

import (
	"context"

	"github.com/google/uuid"
)

// Item 命令流中的一个条目。Ack 将其从流中移除，移除即确认。
type Item interface {
	Key() string
	Payload() []byte
	Ack() error
}

// Subscription 一次订阅。Items 按到达顺序投递，订阅结束时关闭，结束原因由 Err 给出。
type Subscription interface {
	Items() <-chan Item
	Err() error
	Close() error
}

// Feed 入站命令流，按设备身份划分，服务端缓存未确认的条目
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Outbound 出站响应与遥测通道
type Outbound interface {
	// Push 在 path 下追加一个唯一键的子节点，返回该键
	Push(ctx context.Context, path string, value []byte) (string, error)
	// Set 覆盖 path 上的值
	Set(ctx context.Context, path string, value []byte) error
	// DeleteBefore 删除 path 下键不大于 endKey 的子节点，返回删除数量
	DeleteBefore(ctx context.Context, path, endKey string) (int, error)
}

// BlobStore 大文件存储，返回下载地址
type BlobStore interface {
	PutBytes(ctx context.Context, path string, data []byte) (string, error)
	PutFile(ctx context.Context, path, localPath string) (string, error)
}

// NewPushKey 生成按时间有序的唯一键
func NewPushKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
