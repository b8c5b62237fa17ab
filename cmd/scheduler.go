package cmd

import (
	"time"

	"CollabFM/cache"
	"CollabFM/core/stage"
	"CollabFM/db"
	"CollabFM/logger"
	"CollabFM/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	schedulerOnce     bool
	schedulerInterval time.Duration
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "运行阶段调度",
	Long:  `按固定间隔推进合作阶段：提交截止后进入投票，投票截止后计票并完成。--once 只运行一次`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		opts := []stage.Option{stage.WithPageSizes(cfg.SubmissionPageSize, cfg.VotingPageSize)}
		// Redis 不可用时照常调度，只是没有运行记录和推送
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("[Scheduler] Redis 不可用，跳过运行记录与阶段推送", logger.ErrorField(err))
		} else {
			defer cache.CloseRedis()
			sc := cache.NewSchedulerCache(nil)
			opts = append(opts, stage.WithRecorder(sc), stage.WithNotifier(sc))
		}

		scheduler := stage.NewScheduler(repository.NewGormCollaborationRepository(db.GormDB, uuid.NewString), opts...)
		if schedulerOnce {
			_, err := scheduler.Run(ctx)
			return err
		}

		interval := cfg.SchedulerInterval
		if schedulerInterval > 0 {
			interval = schedulerInterval
		}
		logger.Info("[Scheduler] 调度循环启动", logger.Duration("interval", interval))
		scheduler.Loop(ctx, interval)
		logger.Info("[Scheduler] 调度循环已停止")
		return nil
	},
}

func init() {
	schedulerCmd.Flags().BoolVar(&schedulerOnce, "once", false, "只运行一次后退出")
	schedulerCmd.Flags().DurationVar(&schedulerInterval, "interval", 0, "运行间隔，覆盖 SCHEDULER_INTERVAL")
	rootCmd.AddCommand(schedulerCmd)
}
