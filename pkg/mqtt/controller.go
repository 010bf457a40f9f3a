package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"mq_agent/pkg/models"
)

// ResponsesPath 命令响应的出站路径
const ResponsesPath = "command_responses"

// ResponseWaiter 按命令 ID 等待响应
type ResponseWaiter struct {
	pending map[string]chan *models.Response
	mu      sync.Mutex
}

// NewResponseWaiter 创建响应等待器
func NewResponseWaiter() *ResponseWaiter {
	return &ResponseWaiter{pending: make(map[string]chan *models.Response)}
}

// Register 注册等待响应的命令
func (rw *ResponseWaiter) Register(commandID string) <-chan *models.Response {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	ch := make(chan *models.Response, 1)
	rw.pending[commandID] = ch
	return ch
}

// Cancel 放弃等待
func (rw *ResponseWaiter) Cancel(commandID string) {
	rw.mu.Lock()
	delete(rw.pending, commandID)
	rw.mu.Unlock()
}

// HandleResponse 把响应交给等待者，返回是否有人在等
func (rw *ResponseWaiter) HandleResponse(resp *models.Response) bool {
	rw.mu.Lock()
	ch, exists := rw.pending[resp.ID]
	delete(rw.pending, resp.ID)
	rw.mu.Unlock()

	if !exists {
		return false
	}
	ch <- resp
	return true
}

// Controller 操作端：向设备发布命令并接收响应
type Controller struct {
	client   *Client
	deviceID string
	waiter   *ResponseWaiter

	mu      sync.Mutex
	watcher func(*models.Response)
}

// NewController 创建操作端控制器
func NewController(client *Client, deviceID string) *Controller {
	return &Controller{
		client:   client,
		deviceID: deviceID,
		waiter:   NewResponseWaiter(),
	}
}

// Watch 设置响应回调，收到任何响应都会调用
func (c *Controller) Watch(fn func(*models.Response)) {
	c.mu.Lock()
	c.watcher = fn
	c.mu.Unlock()
}

// Connect 连接并订阅设备的响应
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return err
	}
	topic := Topic(c.deviceID, ResponsesPath+"/+")
	token := c.client.client.Subscribe(topic, QoS, func(_ MQTT.Client, msg MQTT.Message) {
		defer msg.Ack()
		c.handle(msg.Payload())
	})
	if err := wait(ctx, token, c.client.timeout); err != nil {
		return fmt.Errorf("subscribe to %s failed: %w", topic, err)
	}
	c.client.logger.Info("Subscribed to response topic: %s", topic)
	return nil
}

func (c *Controller) handle(payload []byte) {
	var resp models.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.client.logger.Error("Failed to unmarshal response: %v", err)
		return
	}
	c.waiter.HandleResponse(&resp)

	c.mu.Lock()
	watcher := c.watcher
	c.mu.Unlock()
	if watcher != nil {
		watcher(&resp)
	}
}

// PublishCommand 发布命令，ID 为空时生成一个
func (c *Controller) PublishCommand(ctx context.Context, cmd *models.Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command failed: %w", err)
	}
	if err := c.client.publish(ctx, CommandTopic(c.deviceID), false, payload); err != nil {
		return err
	}
	c.client.logger.Info("Published command %s (%s) to device %s", cmd.ID, cmd.Action, c.deviceID)
	return nil
}

// Send 发布命令并等待对应的响应
func (c *Controller) Send(ctx context.Context, cmd *models.Command, timeout time.Duration) (*models.Response, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	ch := c.waiter.Register(cmd.ID)
	defer c.waiter.Cancel(cmd.ID)

	if err := c.PublishCommand(ctx, cmd); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response to %s", cmd.ID)
	}
}
