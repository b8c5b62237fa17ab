package cmd

import (
	"fmt"
	"strings"

	"CollabFM/storage"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
)

var presignCheck bool

var presignCmd = &cobra.Command{
	Use:   "presign <path>...",
	Short: "生成对象的预签名下载地址",
	Long:  `把伴奏或提交作品的存储路径解析为可直接播放的地址，与 API 返回的地址一致`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := storage.InitMinio(cfg); err != nil {
			return err
		}
		client := storage.GetMinioClient()
		resolver := storage.NewURLResolver(client, cfg.MinioBucket, cfg.PresignTTL, clock.New())

		for _, path := range args {
			if presignCheck {
				exists, err := storage.ObjectExists(cmd.Context(), client, cfg.MinioBucket, strings.TrimPrefix(path, "/"))
				if err != nil {
					return err
				}
				if !exists {
					fmt.Printf("%s\t(不存在)\n", path)
					continue
				}
			}
			u, err := resolver.Resolve(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", path, u)
		}
		return nil
	},
}

func init() {
	presignCmd.Flags().BoolVarP(&presignCheck, "check", "c", false, "签名前确认对象存在")
	rootCmd.AddCommand(presignCmd)

	presignCmd.Example = `  # 解析一条伴奏
  collabfm presign backing/week1.mp3

  # 同时确认对象存在
  collabfm presign -c uploads/a.mp3 uploads/b.mp3`
}
