package cache

import "fmt"

// Every memoized read has a stable, named key.

func TeamScoreKey(tid string) string {
	return "score:" + tid
}

func TeamProgressionKey(tid, category string) string {
	if category == "" {
		return "progression:" + tid
	}
	return fmt.Sprintf("progression:%s:%s", tid, category)
}

func UnlockedKey(tid string) string {
	return "unlocked:" + tid
}

// ScoreboardKey names the sorted set for an event scoreboard.
func ScoreboardKey(sid string) string {
	return "scoreboard:" + sid
}

// GroupBoardKey names the sorted set for a classroom scoreboard.
func GroupBoardKey(gid string) string {
	return "scoreboard:group:" + gid
}

func TopProgressionsKey(boardKey string) string {
	return "top_progressions:" + boardKey
}

func SolveCountKey(pid string) string {
	return "solves:" + pid
}

func RegistrationStatsKey() string {
	return "stats:registration"
}
