package device

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/errs"
)

func TestDirFSWriteCreatesParents(t *testing.T) {
	root := t.TempDir()
	files := NewDirFS(root)

	require.NoError(t, files.WriteFile("/tmp/a/b.txt", []byte("hi")))
	data, err := files.ReadFile("/tmp/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	list, err := files.List("/tmp/a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, FileInfo{Name: "b.txt", Path: "/tmp/a/b.txt", Size: 2, LastModified: list[0].LastModified}, list[0])

	_, err = files.List("/tmp/a/b.txt")
	assert.True(t, errors.Is(err, fs.ErrInvalid))
}

func TestDirFSStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	files := NewDirFS(filepath.Join(root, "jail"))

	require.NoError(t, files.WriteFile("../../outside.txt", []byte("x")))
	_, err := os.Stat(filepath.Join(root, "outside.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "jail", "outside.txt"))
	assert.NoError(t, err)
}

func TestDirFSMissingFile(t *testing.T) {
	files := NewDirFS(t.TempDir())
	_, err := files.ReadFile("/nope")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, errors.Is(files.Remove("/nope"), fs.ErrNotExist))
	_, err = files.LocalPath("/nope")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	files := NewDirFS(t.TempDir())
	d := NewHTTPDownloader(files)

	n, err := d.Download(context.Background(), srv.URL+"/file", "/sdcard/Download/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	data, err := files.ReadFile("/sdcard/Download/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = d.Download(context.Background(), srv.URL+"/missing", "/x")
	assert.Error(t, err)
}

func TestSyntheticSource(t *testing.T) {
	sim := NewSimulator()
	sim.FrameInterval = time.Millisecond

	src, err := sim.OpenCameraStream("back")
	require.NoError(t, err)

	var mu sync.Mutex
	var frames []string
	require.NoError(t, src.Start(func(b []byte) {
		mu.Lock()
		frames = append(frames, string(b))
		mu.Unlock()
	}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 3
	}, time.Second, time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	mu.Lock()
	assert.Equal(t, "camera-1", frames[0])
	mu.Unlock()

	sim.SetBusy("camera", errors.New("camera in use"))
	_, err = sim.OpenCameraStream("back")
	assert.EqualError(t, err, "camera in use")
}

type fakeADB struct {
	mu     sync.Mutex
	calls  []string
	output map[string]string
}

func (f *fakeADB) run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := strings.Join(args, " ")
	f.calls = append(f.calls, line)
	for prefix, out := range f.output {
		if strings.HasPrefix(line, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func TestADBCommands(t *testing.T) {
	fake := &fakeADB{output: map[string]string{
		"shell cmd media_session volume --stream 3 --get": "volume is 4 in range [0..15]",
		"shell dumpsys location":                         "last location=Location[gps 31.230400,121.473700 hAcc=5.0 et=+1d]",
	}}
	a := NewADB(fake.run)
	ctx := context.Background()

	require.NoError(t, a.InjectInput(ctx, InputEvent{Action: "tap", X: 10, Y: 20}))
	require.NoError(t, a.SetWiFi(ctx, false))
	require.NoError(t, a.SetVolume(ctx, 3, 5))

	max, err := a.MaxVolume(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 15, max)

	fix, err := a.CurrentLocation(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 31.2304, fix.Latitude, 1e-6)
	assert.InDelta(t, 5.0, fix.Accuracy, 1e-6)

	assert.Contains(t, fake.calls, "shell input tap 10 20")
	assert.Contains(t, fake.calls, "shell svc wifi disable")
	assert.Contains(t, fake.calls, "shell cmd media_session volume --stream 3 --set 5")

	_, err = a.OpenKeyEvents()
	assert.True(t, errors.Is(err, errs.ErrUnsupported))
	assert.True(t, errors.Is(a.InjectInput(ctx, InputEvent{Action: "pinch"}), errs.ErrValidation))
}
