package stage

import "CollabFM/model"

// Tally 按投票选项计数并选出票数最高者，平票时取字典序最小的选项。
// 没有任何投票时 winner 为 nil。
func Tally(votes []string) (model.VoteResults, *string) {
	results := make(model.VoteResults, len(votes))
	for _, v := range votes {
		results[v]++
	}

	var (
		winner string
		best   int
	)
	for choice, count := range results {
		if count > best || (count == best && choice < winner) {
			winner, best = choice, count
		}
	}
	if best == 0 {
		return results, nil
	}
	return results, &winner
}
