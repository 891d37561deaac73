package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	runtimedebug "runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/chatclient"
	"github.com/coty-crg/CorgiSceneViewChat/internal/debug"
	"github.com/coty-crg/CorgiSceneViewChat/internal/metrics"
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// maybeDumpStack writes the stack of a panicking main goroutine next to the
// working directory before re-panicking.
func maybeDumpStack() {
	r := recover()
	if r == nil {
		return
	}

	cwd, err := os.Getwd()
	debug.Assert(err == nil)

	dir := filepath.Join(cwd, "crashes")
	debug.Assert(os.MkdirAll(dir, 0o755) == nil)

	filename := filepath.Join(dir, "scenechat-"+time.Now().UTC().Format("20060102T150405Z")+".txt")
	stackTrace := fmt.Appendf(nil, "%v\n\n%s", r, runtimedebug.Stack())
	debug.Assert(os.WriteFile(filename, stackTrace, 0o644) == nil)

	panic(r)
}

func configureLogger(verbose bool) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Level = log.WarnLevel
	if verbose {
		logger.Level = log.DebugLevel
	}
	logger.Writer = &log.ConsoleWriter{
		Writer:         os.Stderr,
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func loadConfig(cmd *cobra.Command) (chatclient.Config, error) {
	// .env is optional, real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return chatclient.Config{}, fmt.Errorf("could not load .env: %w", err)
	}

	config, err := chatclient.LoadConfig("scenechat")
	if err != nil {
		return chatclient.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		config.ServerAddress, _ = flags.GetString("server")
	}
	if flags.Changed("port") {
		config.ServerPort, _ = flags.GetInt("port")
	}
	if flags.Changed("channel") {
		config.Channel, _ = flags.GetString("channel")
	}
	if flags.Changed("name") {
		config.Username, _ = flags.GetString("name")
	}
	if flags.Changed("scene") {
		config.SceneName, _ = flags.GetString("scene")
	}
	if config.Username == "" {
		config.Username = os.Getenv("USER")
	}
	if config.Username == "" {
		config.Username = "anonymous"
	}

	return config, nil
}

func printMessage(out io.Writer, msg protocol.ChatMessage) {
	stamp := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	if msg.IsSystemMessage {
		fmt.Fprintf(out, "%s * %s\n", stamp, msg.Text)
		return
	}
	fmt.Fprintf(out, "%s <%s> %s\n", stamp, msg.Username, msg.Text)
}

func parseVector3(args []string) (protocol.Vector3, error) {
	if len(args) != 3 {
		return protocol.Vector3{}, fmt.Errorf("expected x y z, got %d values", len(args))
	}
	var v [3]float32
	for i, arg := range args {
		f, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return protocol.Vector3{}, fmt.Errorf("could not parse %q: %w", arg, err)
		}
		v[i] = float32(f)
	}
	return protocol.Vector3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// handleCommand returns false when the user asked to quit.
func handleCommand(ctx context.Context, out io.Writer, client *chatclient.Client, gizmo *chatclient.GizmoPublisher, line string) bool {
	fields := strings.Fields(line)
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "/quit":
		return false
	case "/reconnect":
		if err := client.Reconnect(ctx); err != nil {
			fmt.Fprintf(out, "could not reconnect: %v\n", err)
		}
		gizmo.Reset()
	case "/name":
		client.SetUsername(rest)
	case "/channel":
		client.SetChannel(rest)
	case "/scene":
		client.SetScene(rest)
	case "/who":
		tracked := client.TrackedClients()
		fmt.Fprintf(out, "you are %d, %d other(s) here\n", client.LocalClientID(), len(tracked))
		for _, tc := range tracked {
			fmt.Fprintf(out, "  %d %v at %+v on %q\n", tc.ClientID, tc.Mode, tc.Position, tc.SelectedObject)
		}
	case "/move":
		position, err := parseVector3(fields[1:])
		if err != nil {
			fmt.Fprintf(out, "usage: /move x y z: %v\n", err)
			break
		}
		gizmo.Publish(protocol.UpdateGizmo{
			Mode:     protocol.GizmoModeMove,
			Position: position,
			Rotation: protocol.IdentityQuaternion,
			Scale:    protocol.Vector3{X: 1, Y: 1, Z: 1},
		})
	default:
		fmt.Fprintf(out, "unknown command %s\n", fields[0])
	}
	return true
}

func runChat(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := configureLogger(verbose)

	config, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	var opts []chatclient.Option
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, chatclient.WithMetrics(metrics.NewClient(reg)))
		go func() {
			err := http.ListenAndServe(metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			logger.Error().Msgf("metrics server stopped: %v", err)
		}()
	}

	out := cmd.OutOrStdout()

	client := chatclient.New(config, logger, opts...)
	client.OnMessageReceived(func(msg protocol.ChatMessage) {
		printMessage(out, msg)
	})
	gizmo := client.Gizmo()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// failures are already reported as notices
	_ = client.Initialize(ctx)
	defer client.Shutdown()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if !handleCommand(ctx, out, client, gizmo, line) {
					return nil
				}
				continue
			}
			if err := client.EnsureRunning(ctx); err != nil {
				continue
			}
			client.SendChat(line)
		}
	}
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a channel and chat from the terminal",
		Long: `Connects to a scene chat server and joins a channel.

Lines typed are sent as chat. Lines starting with / are commands:
/name, /channel, /scene, /move x y z, /who, /reconnect and /quit.`,
		RunE: runChat,
	}

	cmd.Flags().String("server", "", "server host or IP (SCENECHAT_SERVER_ADDRESS)")
	cmd.Flags().Int("port", 0, "server port (SCENECHAT_SERVER_PORT)")
	cmd.Flags().StringP("channel", "c", "", "channel to join (SCENECHAT_CHANNEL)")
	cmd.Flags().StringP("name", "n", "", "username, defaults to $USER (SCENECHAT_USERNAME)")
	cmd.Flags().String("scene", "", "scene to announce (SCENECHAT_SCENE_NAME)")
	cmd.Flags().String("metrics-addr", "", "serve client metrics on this address")
	cmd.Flags().BoolP("verbose", "v", false, "log debug output to stderr")

	return cmd
}

func main() {
	defer maybeDumpStack()

	rootCmd := &cobra.Command{
		Use:           "scenechat",
		Short:         "Chat alongside the people editing the same scene",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(chatCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
