package cmd

import (
	"fmt"

	"CollabFM/cache"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看阶段调度的最近一次运行",
	Long:  `从 Redis 读取调度器最近一次运行的结果与累计统计`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()

		s, err := cache.NewSchedulerCache(nil).LastRun(cmd.Context())
		if err != nil {
			return err
		}
		if s == nil {
			fmt.Println("调度器尚未运行")
			return nil
		}
		fmt.Printf("最近运行: %s (耗时 %dms)\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"), s.DurationMs)
		fmt.Printf("  提交 -> 投票: %d\n", s.SubmissionToVoting)
		fmt.Printf("  投票 -> 完成: %d\n", s.VotingToCompleted)
		fmt.Printf("  失败: %d\n", s.Failed)
		fmt.Printf("累计: %d 次运行，处理 %d 条\n", s.TotalRuns, s.TotalProcessed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
