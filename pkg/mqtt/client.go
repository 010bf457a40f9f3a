// Package mqtt 基于 MQTT 的命令流、出站通道和操作端控制器
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
)

// QoS 命令和响应都使用至少一次投递
const QoS byte = 1

// CommandTopic 设备的命令主题
func CommandTopic(deviceID string) string {
	return "device/" + deviceID + "/commands"
}

// Topic 设备出站路径对应的主题
func Topic(deviceID, path string) string {
	return "device/" + deviceID + "/" + strings.Trim(path, "/")
}

// Options 连接参数
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// CleanSession 为 false 时服务端为该客户端缓存未确认的 QoS1 消息
	CleanSession   bool
	ConnectTimeout time.Duration
	Logger         logx.Logger
}

// Client MQTT 连接封装。断线后不自动重连，由调用方决定何时重新 Connect。
type Client struct {
	client  MQTT.Client
	timeout time.Duration
	logger  logx.Logger

	mu      sync.Mutex
	onLost  []func(error)
	onRoute func(MQTT.Message)
}

// NewClient 创建 MQTT 客户端
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logx.Nop{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	c := &Client{timeout: opts.ConnectTimeout, logger: opts.Logger}

	mo := MQTT.NewClientOptions().AddBroker(opts.BrokerURL)
	mo.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetCleanSession(opts.CleanSession)
	mo.SetAutoReconnect(false)
	mo.SetAutoAckDisabled(true)
	mo.SetOrderMatters(true)
	mo.SetConnectTimeout(opts.ConnectTimeout)
	mo.SetKeepAlive(60 * time.Second)
	mo.SetPingTimeout(10 * time.Second)
	mo.SetDefaultPublishHandler(func(_ MQTT.Client, msg MQTT.Message) {
		// 持久会话重连后，服务端可能在重新订阅之前就投递缓存的消息
		c.mu.Lock()
		route := c.onRoute
		c.mu.Unlock()
		if route != nil {
			route(msg)
			return
		}
		c.logger.Warn("Dropping unrouted message on topic %s", msg.Topic())
		msg.Ack()
	})
	mo.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.logger.Error("MQTT connection lost: %v", err)
		c.mu.Lock()
		handlers := append([]func(error){}, c.onLost...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(err)
		}
	})

	c.client = MQTT.NewClient(mo)
	return c
}

// OnConnectionLost 注册断线回调
func (c *Client) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	c.onLost = append(c.onLost, fn)
	c.mu.Unlock()
}

func (c *Client) route(fn func(MQTT.Message)) {
	c.mu.Lock()
	c.onRoute = fn
	c.mu.Unlock()
}

// Connect 连接到 MQTT 服务器，已连接时直接返回
func (c *Client) Connect(ctx context.Context) error {
	if c.client.IsConnectionOpen() {
		return nil
	}
	if err := wait(ctx, c.client.Connect(), c.timeout); err != nil {
		return errs.Wrap(errs.ErrTransientChannel, err, "MQTT connection failed")
	}
	c.logger.Info("Connected to MQTT broker")
	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}

func (c *Client) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, QoS, retained, payload), c.timeout); err != nil {
		return errs.Wrap(errs.ErrTransientChannel, err, "publish to %s failed", topic)
	}
	return nil
}

var errTimeout = errors.New("timed out")

// wait 等待 token 完成，受 ctx 和超时约束
func wait(ctx context.Context, token MQTT.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation %w after %s", errTimeout, timeout)
	}
}
