package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/internal/common/config"
	"github.com/amoylab/chatline/internal/server"
	"github.com/amoylab/chatline/internal/transport"
	"github.com/amoylab/chatline/internal/transport/redistransport"
	"github.com/amoylab/chatline/pkg/helper"
	pkglogger "github.com/amoylab/chatline/pkg/logger"
	"github.com/amoylab/chatline/pkg/utils"
	"github.com/amoylab/chatline/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of chatline",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration",
		Long:  `Load the configuration and build every component without serving`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
			}
			a, err := newApp(cmd.Context(), zap.NewNop(), cfg)
			if err != nil {
				return err
			}
			if err := a.shutdown(context.Background()); err != nil {
				return err
			}
			fmt.Printf("configuration file %s test is successful\n", cfgPath)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop a running chatline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pidFile
			if path == "" {
				cfg, _, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				path = cfg.PID
			}
			return utils.SendSignalToPIDFile(helper.GetPIDPath(path), syscall.SIGTERM)
		},
	}

	channelCmd = &cobra.Command{
		Use:   "channel",
		Short: "Seed channels and messages in the Redis backend",
	}

	channelCreateCmd = &cobra.Command{
		Use:   "create <creator> [member...]",
		Short: "Create a channel between users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			return withAdmin(cmd.Context(), func(ctx context.Context, admin transport.Admin) error {
				members := make([]transport.User, 0, len(args)-1)
				for _, arg := range args[1:] {
					members = append(members, parseUser(arg))
				}
				state, err := admin.CreateChannel(ctx, id, parseUser(args[0]), members...)
				if err != nil {
					return err
				}
				fmt.Println(state.ID)
				return nil
			})
		},
	}

	channelPostCmd = &cobra.Command{
		Use:   "post <channel> <user> <text...>",
		Short: "Post a message to a channel as user",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), func(ctx context.Context, admin transport.Admin) error {
				msg, err := admin.Post(ctx, args[0], transport.Message{
					User: parseUser(args[1]),
					Text: strings.Join(args[2:], " "),
				})
				if err != nil {
					return err
				}
				fmt.Println(msg.ID)
				return nil
			})
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Real-time conversation session manager",
		Long:  `chatline binds one identity at a time to a real-time messaging backend and serves its conversation list and active conversation over HTTP`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.AppName+".yaml", "path to configuration file, like /etc/chatline/chatline.yaml")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	channelCreateCmd.Flags().String("id", "", "channel id, generated when empty")

	channelCmd.AddCommand(channelCreateCmd, channelPostCmd)
	rootCmd.AddCommand(versionCmd, testCmd, stopCmd, channelCmd)
}

// parseUser reads "id" or "id:name".
func parseUser(s string) transport.User {
	id, name, _ := strings.Cut(s, ":")
	return transport.User{ID: id, Name: name}
}

func withAdmin(ctx context.Context, fn func(context.Context, transport.Admin) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Transport.Type != cnst.TransportTypeRedis {
		return fmt.Errorf("channel commands need the %s transport, configured: %s", cnst.TransportTypeRedis, cfg.Transport.Type)
	}
	store, err := redistransport.NewStore(zap.NewNop(), cfg.Transport.Redis)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func run() {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", cfgPath, err)
	}
	if pidFile != "" {
		cfg.PID = pidFile
	}

	logger, level, err := pkglogger.NewLoggerWithLevel(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Loaded configuration", zap.String("path", cfgPath))
	logger.Info("Starting chatline", zap.String("version", version.Get()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pid := utils.NewPIDManager(helper.GetPIDPath(cfg.PID))
	if err := pid.WritePID(); err != nil {
		logger.Fatal("Failed to write PID file", zap.String("path", pid.GetPIDFile()), zap.Error(err))
	}
	defer func() {
		if err := pid.RemovePID(); err != nil {
			logger.Warn("Failed to remove PID file", zap.Error(err))
		}
	}()

	var opts []server.Option
	if cfg.HTTP.Admin {
		opts = append(opts, server.WithLogLevel(level))
	}
	a, err := newApp(ctx, logger, cfg, opts...)
	if err != nil {
		logger.Fatal("Failed to initialize chatline", zap.Error(err))
	}
	a.start()

	<-ctx.Done()
	logger.Info("Received shutdown signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
	}
	logger.Info("Server exited")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
