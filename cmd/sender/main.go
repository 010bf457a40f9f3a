package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mq_agent/pkg/config"
	"mq_agent/pkg/engine"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/mqtt"
)

var (
	configPath string
	deviceID   string
	timeout    time.Duration
	verbose    bool
	scriptName string
	scriptVars []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mq-sender",
		Short: "Send commands to a remote agent",
		Long:  "操作端工具：通过 MQTT 向设备发送命令并查看响应",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML 配置文件路径")
	rootCmd.PersistentFlags().StringVarP(&deviceID, "device", "d", "", "目标设备 ID，默认读取 DEVICE_ID")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 MQTT 日志")

	sendCmd := &cobra.Command{
		Use:   "send <action> [key=value...]",
		Short: "Send one command and wait for its response",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	sendCmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "等待响应的超时时间")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every response from the device",
		RunE:  runWatch,
	}

	runCmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Run a YAML script of commands step by step",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}
	runCmd.Flags().StringVarP(&scriptName, "name", "n", "", "文件中的脚本名称，默认第一个")
	runCmd.Flags().StringArrayVar(&scriptVars, "var", nil, "覆盖脚本变量 key=value，可重复")

	rootCmd.AddCommand(sendCmd, watchCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

func connect(ctx context.Context) (*mqtt.Controller, *mqtt.Client, error) {
	if deviceID != "" {
		os.Setenv("DEVICE_ID", deviceID)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	var logger logx.Logger = logx.Nop{}
	if verbose {
		logger = logx.New("debug")
	}
	client := mqtt.NewClient(mqtt.Options{
		BrokerURL:    cfg.BrokerURL(),
		ClientID:     "sender_" + uuid.NewString(),
		Username:     cfg.MQTTUsername,
		Password:     cfg.MQTTPassword,
		CleanSession: true,
		Logger:       logger,
	})
	controller := mqtt.NewController(client, cfg.DeviceID)
	if err := controller.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return controller, client, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	params, err := parseArgs(args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	resp, err := controller.Send(ctx, &models.Command{Action: args[0], Args: params}, timeout)
	if err != nil {
		return err
	}
	printResponse(resp)
	if !resp.IsSuccess() {
		return fmt.Errorf("%s failed", resp.Command)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	controller.Watch(printResponse)
	fmt.Println("Watching responses, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func runScript(cmd *cobra.Command, args []string) error {
	script, err := engine.LoadScript(args[0], scriptName)
	if err != nil {
		return err
	}
	vars, err := parseArgs(scriptVars)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	execution := engine.NewScriptEngine(controller, logx.New("info")).Execute(ctx, script, vars)
	out, _ := json.MarshalIndent(execution, "", "  ")
	fmt.Println(string(out))
	if execution.Status != engine.StatusCompleted {
		return fmt.Errorf("script %s %s", script.Name, execution.Status)
	}
	return nil
}

// parseArgs 解析 key=value 参数，值能按 JSON 解析时保留其类型，否则作为字符串
func parseArgs(pairs []string) (models.Args, error) {
	args := models.Args{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}

func printResponse(resp *models.Response) {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", resp)
		return
	}
	fmt.Println(string(out))
}
