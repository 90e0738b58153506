package service

// CashbackQuote is the referral reward options for a contract amount.
// Purely derived, never persisted.
type CashbackQuote struct {
	ReferrerKsNumber string
	ContractAmount   float64
	Options          []float64
	Recommended      float64
}

// ComputeCashbackOptions maps a contract amount to the eligible referral
// cashback tiers, smallest first. Amounts below 1000 earn nothing.
func ComputeCashbackOptions(contractAmount float64) []float64 {
	switch {
	case contractAmount < 1000:
		return nil
	case contractAmount <= 50000:
		switch {
		case contractAmount < 5000:
			return []float64{20}
		case contractAmount < 15000:
			return []float64{20, 40}
		default:
			return []float64{20, 40, 60}
		}
	default:
		switch {
		case contractAmount < 100000:
			return []float64{160}
		case contractAmount < 200000:
			return []float64{160, 180}
		default:
			return []float64{160, 180, 200}
		}
	}
}

// RecommendedCashback is the maximum eligible tier, 0 when not eligible.
func RecommendedCashback(options []float64) float64 {
	best := 0.0
	for _, option := range options {
		if option > best {
			best = option
		}
	}
	return best
}

func QuoteCashback(referrerKsNumber string, contractAmount float64) CashbackQuote {
	options := ComputeCashbackOptions(contractAmount)
	return CashbackQuote{
		ReferrerKsNumber: referrerKsNumber,
		ContractAmount:   contractAmount,
		Options:          options,
		Recommended:      RecommendedCashback(options),
	}
}
