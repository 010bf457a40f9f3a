package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mq_agent/pkg/api"
	"mq_agent/pkg/channel"
	"mq_agent/pkg/codec"
	"mq_agent/pkg/config"
	"mq_agent/pkg/device"
	"mq_agent/pkg/dispatch"
	"mq_agent/pkg/emitter"
	"mq_agent/pkg/handlers"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/mqtt"
	"mq_agent/pkg/ocr"
	"mq_agent/pkg/registry"
	"mq_agent/pkg/session"
	"mq_agent/pkg/store"
)

// 命令去重记录的保留时间
const seenRetention = 7 * 24 * time.Hour

var (
	configPath string
	backend    string
	apiAddr    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mq-agent",
		Short: "Remote device agent",
		Long:  "订阅 MQTT 命令流，分发到设备能力处理器，并把响应和遥测写回出站通道",
		RunE:  runAgent,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML 配置文件路径，默认读取 AGENT_CONFIG")
	rootCmd.Flags().StringVarP(&backend, "backend", "b", "", "设备后端 sim 或 adb，覆盖配置")
	rootCmd.Flags().StringVar(&apiAddr, "api", "", "本地 HTTP 接口地址，覆盖配置，off 表示关闭")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Agent failed: %v", err)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if apiAddr != "" {
		cfg.APIAddr = apiAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logx.New(cfg.LogLevel)
	logger.Info("Starting agent for device %s (backend=%s)", cfg.DeviceID, cfg.Backend)

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer st.Close()
	if pruned, err := st.PruneSeen(time.Now().Add(-seenRetention)); err != nil {
		logger.Warn("Failed to prune command ledger: %v", err)
	} else if pruned > 0 {
		logger.Info("Pruned %d old command ids", pruned)
	}

	enc, err := codec.New(cfg.FrameFormat, cfg.CompressStream)
	if err != nil {
		return err
	}

	var recognizer *ocr.Manager
	if cfg.OCR {
		recognizer, err = ocr.NewTesseractManager(logger)
		if err != nil {
			logger.Warn("OCR disabled: %v", err)
			recognizer = nil
		} else {
			defer recognizer.Close()
		}
	}

	client := mqtt.NewClient(mqtt.Options{
		BrokerURL:    cfg.BrokerURL(),
		ClientID:     cfg.ClientID,
		Username:     cfg.MQTTUsername,
		Password:     cfg.MQTTPassword,
		CleanSession: false,
		Logger:       logger,
	})
	defer client.Disconnect()
	feed := mqtt.NewFeed(client, cfg.DeviceID)
	out := mqtt.NewOutbound(client, cfg.DeviceID)

	em := emitter.New(out, st, logger, emitter.Options{Attempts: cfg.EmitAttempts, Backoff: cfg.EmitBackoff})
	defer em.Close()

	dev := newDevice(cfg)
	sessions := session.NewManager(logger, func(capability string, state session.State) {
		em.SetStatus("sessions/"+capability, map[string]interface{}{
			"capability": capability,
			"state":      state,
			"timestamp":  time.Now().UnixMilli(),
		})
	})

	reg := registry.New()
	handlers.RegisterAll(reg, &handlers.Deps{
		DeviceID:  cfg.DeviceID,
		Device:    dev,
		Sessions:  sessions,
		Out:       out,
		Blobs:     channel.NewDirBlobStore(cfg.BlobDir, cfg.BlobBaseURL),
		Publisher: em,
		Encoder:   enc,
		OCR:       recognizer,
		Stream: handlers.StreamOptions{
			CameraFPS:   cfg.CameraFPS,
			ScreenFPS:   cfg.ScreenFPS,
			Window:      cfg.FrameWindow,
			Buffer:      cfg.FrameBuffer,
			StopTimeout: cfg.StopTimeout,
		},
		Logger: logger,
	})
	logger.Info("Registered %d capabilities", reg.Len())

	// 处理器在独立的上下文中执行，监听器停止后仍可完成已接收的命令
	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()
	pool := dispatch.NewPool(cfg.Workers, cfg.QueueSize, logger)
	disp := dispatch.NewDispatcher(execCtx, reg, pool, em, logger)

	listener := dispatch.NewListener(feed, disp, em, st, logger, dispatch.ListenerOptions{
		Backoff: cfg.ReconnectBackoff,
		OnSubscribed: func(ctx context.Context) {
			reportAdminStatus(em, dev.Admin)
			if n, err := em.Flush(ctx); err != nil {
				logger.Warn("Outbox flush stopped after %d responses: %v", n, err)
			} else if n > 0 {
				logger.Info("Flushed %d undelivered responses", n)
			}
		},
	})

	var server *api.Server
	if cfg.APIAddr != "" && cfg.APIAddr != "off" {
		server = api.NewServer(cfg.DeviceID, disp, reg, sessions, logger)
		server.Start(cfg.APIAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		listener.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("Shutting down agent...")

	// 停止顺序：监听器、会话、工作池、发送器、连接
	<-listenerDone
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown: %v", err)
		}
		cancel()
	}
	sessions.ShutdownAll()
	if !pool.Close(10 * time.Second) {
		logger.Warn("Worker pool did not drain in time")
	}
	cancelExec()
	em.Wait()
	logger.Info("Agent stopped")
	return nil
}

func newDevice(cfg *config.Config) *device.Device {
	files := device.NewDirFS(cfg.FilesRoot)
	if cfg.Backend == "adb" {
		return device.NewADBDevice(device.NewADB(device.ExecRunner(cfg.DeviceID)), files)
	}
	return device.NewSimulatorDevice(device.NewSimulator(), files)
}

// reportAdminStatus 上报设备管理员状态
func reportAdminStatus(em *emitter.Emitter, admin device.Admin) {
	status := "disabled"
	if admin.AdminActive() {
		status = "enabled"
	}
	em.SetStatus("admin_status", map[string]interface{}{
		"type":      "device_admin_status",
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
}
