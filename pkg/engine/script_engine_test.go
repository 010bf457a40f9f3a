package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/models"
)

const playbook = `
name: lock_and_report
description: 锁屏后上报位置
version: "1"
variables:
  level: 7
  pkg: com.example
steps:
  - name: volume
    action: set_volume
    args:
      volume: "{{level}}"
  - name: launch
    action: launch_app
    args:
      package_name: "{{pkg}}.main"
  - name: locate
    action: get_location
---
name: second
steps:
  - name: buzz
    action: vibrate
`

type fakeSender struct {
	sent     []*models.Command
	failures map[string]int
}

func (f *fakeSender) Send(ctx context.Context, cmd *models.Command, timeout time.Duration) (*models.Response, error) {
	f.sent = append(f.sent, cmd)
	if f.failures[cmd.Action] > 0 {
		f.failures[cmd.Action]--
		return models.NewError(cmd.ID, cmd.Action, errors.New("Device admin not active")), nil
	}
	return models.NewSuccess(cmd.ID, cmd.Action, "ok"), nil
}

func noSleep(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }

func TestLoadScripts(t *testing.T) {
	scripts, err := LoadScripts(strings.NewReader(playbook))
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "lock_and_report", scripts[0].Name)
	assert.Len(t, scripts[0].Steps, 3)
	assert.Equal(t, "vibrate", scripts[1].Steps[0].Action)

	_, err = LoadScripts(strings.NewReader("name: broken\nsteps:\n  - name: x\n"))
	assert.ErrorContains(t, err, "has no action")
}

func TestLoadScriptByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.yaml")
	require.NoError(t, os.WriteFile(path, []byte(playbook), 0o644))

	script, err := LoadScript(path, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", script.Name)

	script, err = LoadScript(path, "")
	require.NoError(t, err)
	assert.Equal(t, "lock_and_report", script.Name)

	_, err = LoadScript(path, "missing")
	assert.Error(t, err)
}

func TestExecuteSubstitutesVariables(t *testing.T) {
	scripts, err := LoadScripts(strings.NewReader(playbook))
	require.NoError(t, err)

	sender := &fakeSender{}
	se := NewScriptEngine(sender, nil)
	se.sleep = noSleep

	execution := se.Execute(context.Background(), scripts[0], map[string]interface{}{"pkg": "org.other"})
	assert.Equal(t, StatusCompleted, execution.Status)
	require.Len(t, sender.sent, 3)
	assert.Equal(t, 7, sender.sent[0].Args["volume"])
	assert.Equal(t, "org.other.main", sender.sent[1].Args["package_name"])
	assert.Len(t, execution.Results, 3)
}

func TestExecuteStopsOnFailure(t *testing.T) {
	script := &Script{Name: "s", Steps: []ScriptStep{
		{Name: "lock", Action: "lock_device"},
		{Name: "never", Action: "vibrate"},
	}}
	sender := &fakeSender{failures: map[string]int{"lock_device": 5}}
	se := NewScriptEngine(sender, nil)
	se.sleep = noSleep

	execution := se.Execute(context.Background(), script, nil)
	assert.Equal(t, StatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "Device admin not active")
	assert.Len(t, sender.sent, 1)
}

func TestExecuteRetriesAndContinues(t *testing.T) {
	script := &Script{Name: "s", Steps: []ScriptStep{
		{Name: "lock", Action: "lock_device", RetryCount: 1},
		{Name: "reboot", Action: "reboot", OnFailure: OnFailureContinue},
		{Name: "buzz", Action: "vibrate"},
	}}
	sender := &fakeSender{failures: map[string]int{"lock_device": 1, "reboot": 1}}
	se := NewScriptEngine(sender, nil)
	se.sleep = noSleep

	execution := se.Execute(context.Background(), script, nil)
	assert.Equal(t, StatusCompleted, execution.Status)
	assert.Len(t, sender.sent, 4)
}

func TestExecuteCancelled(t *testing.T) {
	script := &Script{Name: "s", Steps: []ScriptStep{{Name: "buzz", Action: "vibrate", Wait: 60}}}
	ctx, cancel := context.WithCancel(context.Background())
	se := NewScriptEngine(&fakeSender{}, nil)
	se.sleep = func(ctx context.Context, d time.Duration) bool {
		cancel()
		return false
	}

	execution := se.Execute(ctx, script, nil)
	assert.Equal(t, StatusCancelled, execution.Status)
}
