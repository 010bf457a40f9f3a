package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/models"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "device/abc/commands", CommandTopic("abc"))
	assert.Equal(t, "device/abc/command_responses", Topic("abc", "/command_responses/"))
	assert.Equal(t, "device/abc/sessions/camera", Topic("abc", "sessions/camera"))
}

func TestResponseWaiter(t *testing.T) {
	rw := NewResponseWaiter()
	ch := rw.Register("c1")

	assert.False(t, rw.HandleResponse(&models.Response{ID: "other"}))
	assert.True(t, rw.HandleResponse(&models.Response{ID: "c1", Status: models.StatusSuccess}))

	select {
	case resp := <-ch:
		assert.Equal(t, models.StatusSuccess, resp.Status)
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}

	// 只投递一次
	assert.False(t, rw.HandleResponse(&models.Response{ID: "c1"}))
}

func TestResponseWaiterCancel(t *testing.T) {
	rw := NewResponseWaiter()
	rw.Register("c1")
	rw.Cancel("c1")
	assert.False(t, rw.HandleResponse(&models.Response{ID: "c1"}))
}

func TestOutboundRetainedIndex(t *testing.T) {
	o := NewOutbound(nil, "dev")
	for _, path := range []string{"camera_stream/0003", "camera_stream/0001", "camera_stream/0002", "admin_status"} {
		o.remember(path)
	}
	o.remember("camera_stream/0002")
	require.Equal(t, 3, o.Tracked("camera_stream"))

	stale := o.takeUpTo("camera_stream", "0002")
	assert.Equal(t, []string{"0001", "0002"}, stale)
	assert.Equal(t, 1, o.Tracked("camera_stream"))

	o.restore("camera_stream", []string{"0002"})
	assert.Equal(t, []string{"0002", "0003"}, o.retained["camera_stream"])
}

func TestControllerHandleDispatchesToWaiterAndWatcher(t *testing.T) {
	c := NewController(NewClient(Options{BrokerURL: "tcp://127.0.0.1:1", ClientID: "test"}), "dev")
	var seen []string
	c.Watch(func(resp *models.Response) { seen = append(seen, resp.ID) })
	ch := c.waiter.Register("c9")

	c.handle([]byte(`{"id":"c9","command":"vibrate","status":"success","data":"ok"}`))
	c.handle([]byte(`not json`))

	resp := <-ch
	assert.Equal(t, "vibrate", resp.Command)
	assert.Equal(t, []string{"c9"}, seen)
}
