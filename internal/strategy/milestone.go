package strategy

// Milestones are cumulative balance thresholds, ascending.
var Milestones = []int64{1000, 5000, 10000, 25000, 50000, 100000}

// BalanceUpdateThreshold is the minimum move that produces a balance notice.
const BalanceUpdateThreshold = 1000

// CrossedMilestones returns every threshold m with old < m <= new, ascending.
func CrossedMilestones(oldBalance, newBalance int64) []int64 {
	var out []int64
	for _, m := range Milestones {
		if oldBalance < m && newBalance >= m {
			out = append(out, m)
		}
	}
	return out
}

func Abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
