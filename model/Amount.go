package model

// Amount is a quantity of satoshi. It is signed so that fee arithmetic can
// detect underflow before MoneyRange rejects it.
type Amount int64

const (
	// COIN is the number of satoshi in one coin.
	COIN Amount = 100_000_000

	// MaxMoney bounds every amount and every intermediate sum the consensus
	// code computes. Anything outside [0, MaxMoney] is a consensus failure.
	MaxMoney Amount = 21_000_000 * COIN
)

// MoneyRange reports whether the amount is a valid monetary value.
func MoneyRange(a Amount) bool {
	return a >= 0 && a <= MaxMoney
}
