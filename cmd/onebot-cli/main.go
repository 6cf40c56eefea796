package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lisuiheng/onebot-go/config"
	"github.com/lisuiheng/onebot-go/core"
	"github.com/lisuiheng/onebot-go/logger"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
	"github.com/lisuiheng/onebot-go/protocols/websocket"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "Path to config file")
	command := flag.String("cmd", "", "Command to execute, e.g. \"call get_status {}\"")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logCfg := logger.Config{
		Level:   "warn",
		Outputs: []string{"stderr"},
	}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.Component("cli")
	client, err := websocket.NewClient(cfg.Connection, core.JSONCodec{}, core.NewCorrelator(log), core.NewEventBus(log), log)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Start(); err != nil {
		fmt.Printf("Failed to start client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.HandshakeTimeout+time.Second)
	_, err = client.AwaitConnected(ctx)
	cancel()
	if err != nil {
		fmt.Printf("Failed to connect to %s: %v\n", cfg.Connection.URL(), err)
		os.Exit(1)
	}

	// 如果指定了命令，直接执行
	if *command != "" {
		if err := execute(client, *command); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// 交互式模式
	startInteractive(client)
}

func execute(client *websocket.Client, input string) error {
	parts := strings.SplitN(strings.TrimSpace(input), " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("usage: call|send <action> [json params]")
	}

	var params json.RawMessage
	if len(parts) == 3 {
		params = json.RawMessage(parts[2])
		if !json.Valid(params) {
			return fmt.Errorf("params are not valid JSON: %s", parts[2])
		}
	}

	switch parts[0] {
	case "call":
		result, err := client.Call(context.Background(), parts[1], params)
		var failure *core.RemoteFailure
		switch {
		case errors.As(err, &failure):
			return fmt.Errorf("remote failed with retcode %d", failure.RetCode)
		case err != nil:
			return err
		case result.Async:
			fmt.Println("accepted, no immediate result")
		default:
			printJSON(result)
		}
	case "send":
		if err := client.Send(parts[1], params); err != nil {
			return err
		}
		fmt.Println("sent")
	default:
		return fmt.Errorf("unknown command: %s", parts[0])
	}
	return nil
}

func printJSON(result interfaces.Result) {
	var v any
	if err := json.Unmarshal(result.Data, &v); err != nil {
		fmt.Println(string(result.Data))
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func startInteractive(client *websocket.Client) {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("\nonebot-cli> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch strings.Fields(input)[0] {
		case "status":
			fmt.Println("\nCurrent Status:")
			fmt.Printf("  State: %s\n", client.State())
			fmt.Printf("  Attempts: %d\n", client.Attempts())
		case "exit", "quit":
			fmt.Println("Exiting...")
			return
		case "help":
			printHelp()
		default:
			if err := execute(client, input); err != nil {
				fmt.Printf("✗ Error: %v\n", err)
			}
		}
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  call <action> [json] - Call an action and print its result")
	fmt.Println("  send <action> [json] - Send an action without waiting")
	fmt.Println("  status               - Show connection status")
	fmt.Println("  exit/quit            - Exit the program")
	fmt.Println("  help                 - Show this help message")
}
