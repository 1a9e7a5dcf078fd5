package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var charactersCmd = &cobra.Command{
	Use:     "characters",
	Aliases: []string{"chars"},
	Short:   "浏览角色",
	RunE:    runListCharacters,
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "最近最受欢迎的角色",
	RunE:  runPopularCharacters,
}

func init() {
	charactersCmd.Flags().Int("page", 1, "页码")
	charactersCmd.Flags().Int("page-size", 20, "每页数量")
	charactersCmd.AddCommand(popularCmd)
	rootCmd.AddCommand(charactersCmd)
}

func runListCharacters(cmd *cobra.Command, args []string) error {
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	result, err := newClient().ListCharacters(cmd.Context(), page, pageSize)
	if err != nil {
		return err
	}
	if len(result.Characters) == 0 {
		fmt.Println("暂无角色")
		return nil
	}

	for _, ch := range result.Characters {
		visibility := "公开"
		if !ch.IsPublic {
			visibility = "私有"
		}
		fmt.Printf("#%-4d %-20s [%s] %s\n", ch.ID, ch.Name, visibility, ch.Description)
		if len(ch.Tags) > 0 {
			fmt.Printf("      标签: %s\n", strings.Join(ch.Tags, ", "))
		}
	}
	fmt.Printf("\n共 %d 个角色 (第 %d 页)\n", result.Total, result.Page)
	return nil
}

func runPopularCharacters(cmd *cobra.Command, args []string) error {
	popular, err := newClient().PopularCharacters(cmd.Context())
	if err != nil {
		return err
	}
	if len(popular) == 0 {
		fmt.Println("最近还没有热门角色")
		return nil
	}

	for i, p := range popular {
		fmt.Printf("%2d. #%-4d %-20s 热度 %d  评分 %.1f (%d)\n",
			i+1, p.Character.ID, p.Character.Name, p.Score,
			p.Character.RatingAverage, p.Character.RatingCount)
	}
	return nil
}
