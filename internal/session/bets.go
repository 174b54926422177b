package session

import "sort"

// payouts maps a bet amount in sats to the winner's gross payout. The table
// is server-defined; the client mirrors it to show the prize and to compute
// the net result recorded in history.
var payouts = map[int64]int64{
	50:    80,
	300:   500,
	500:   800,
	1000:  1700,
	5000:  8000,
	10000: 17000,
}

// BetOptions returns the selectable bet amounts in ascending order.
func BetOptions() []int64 {
	opts := make([]int64, 0, len(payouts))
	for amount := range payouts {
		opts = append(opts, amount)
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i] < opts[j] })
	return opts
}

// PayoutFor returns the winner's gross payout for a bet amount.
func PayoutFor(bet int64) (int64, bool) {
	payout, ok := payouts[bet]
	return payout, ok
}

// netForWin is the sats delta recorded for a won game.
func netForWin(bet int64) int64 {
	payout, ok := payouts[bet]
	if !ok {
		return 0
	}
	return payout - bet
}
