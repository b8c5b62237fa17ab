package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"CollabFM/cache"
	"CollabFM/core/auth"
	"CollabFM/core/hub"
	"CollabFM/core/sanitize"
	"CollabFM/core/stage"
	"CollabFM/db"
	"CollabFM/logger"
	"CollabFM/repository"
	"CollabFM/server"
	"CollabFM/storage"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	serverAddr    string
	withScheduler bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP API 服务",
	Long:  `启动 CollabFM 的 HTTP API 与 WebSocket 推送，可选在同一进程内运行阶段调度`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "", "监听地址，覆盖 SERVER_ADDR")
	serverCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "在服务进程内运行阶段调度")
	rootCmd.AddCommand(serverCmd)
}

// signalContext 收到 SIGINT/SIGTERM 时结束
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newSanitizer 加载敏感词表，配置了文件时监听变更
func newSanitizer(ctx context.Context) *sanitize.Sanitizer {
	words := sanitize.DefaultWords
	if cfg.DenylistFile != "" {
		loaded, err := sanitize.LoadFile(cfg.DenylistFile)
		if err != nil {
			logger.Warn("[Server] 加载敏感词表失败，使用内置词表",
				logger.String("path", cfg.DenylistFile), logger.ErrorField(err))
		} else {
			words = loaded
		}
	}
	s := sanitize.New(words)
	if cfg.DenylistFile != "" {
		if err := s.Watch(ctx, cfg.DenylistFile); err != nil {
			logger.Warn("[Server] 无法监听敏感词表", logger.ErrorField(err))
		}
	}
	return s
}

func runServer(cmd *cobra.Command) error {
	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	ctx, stop := signalContext()
	defer stop()

	if err := db.ConnectGormDB(cfg); err != nil {
		return err
	}
	defer db.CloseGormDB()

	if err := cache.ConnectRedis(cfg); err != nil {
		return err
	}
	defer cache.CloseRedis()

	if err := storage.InitMinio(cfg); err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, 0, clock.New())
	if err != nil {
		return fmt.Errorf("invalid JWT configuration: %w", err)
	}

	collabRepo := repository.NewGormCollaborationRepository(db.GormDB, uuid.NewString)
	projectRepo := repository.NewGormProjectRepository(db.GormDB, newSanitizer(ctx), uuid.NewString)
	schedulerCache := cache.NewSchedulerCache(nil)
	resolver := storage.NewURLResolver(storage.GetMinioClient(), cfg.MinioBucket, cfg.PresignTTL, clock.New())
	go resolver.PurgeLoop(ctx, cfg.PresignTTL)

	// 阶段变更经 Redis 转发给本进程的 WebSocket 客户端
	stageHub := hub.New()
	go stageHub.Run(ctx)
	events, err := schedulerCache.SubscribeStageChanges(ctx)
	if err != nil {
		return err
	}
	go stageHub.Feed(ctx, events)

	if withScheduler {
		scheduler := stage.NewScheduler(collabRepo,
			stage.WithPageSizes(cfg.SubmissionPageSize, cfg.VotingPageSize),
			stage.WithRecorder(schedulerCache),
			stage.WithNotifier(schedulerCache))
		go scheduler.Loop(ctx, cfg.SchedulerInterval)
		logger.Info("[Server] 进程内阶段调度已启动", logger.Duration("interval", cfg.SchedulerInterval))
	}

	api := server.NewAPIHandler(server.Deps{
		Collaborations: collabRepo,
		Projects:       projectRepo,
		Resolver:       resolver,
		Tokens:         tokens,
		Status:         schedulerCache,
		Hub:            stageHub,
	})
	return server.Serve(ctx, cfg.ServerAddr, api.Router())
}
