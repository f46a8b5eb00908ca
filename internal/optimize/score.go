package optimize

// bandScore maps a metric onto [0, weight], linear between the bounds and
// clamped outside them.
func bandScore(value, min, max, weight float64) float64 {
	switch {
	case value < min:
		return 0
	case value > max:
		return weight
	case max == min:
		return weight
	default:
		return (value - min) / (max - min) * weight
	}
}

// singleScore ranks one period's result. Drawdown is negative, so values
// closer to zero score higher.
func singleScore(cagr, maxDrawdown float64, cfg ScoringConfig) float64 {
	return bandScore(cagr, cfg.CAGRMin, cfg.CAGRMax, cfg.CAGRWeight) +
		bandScore(maxDrawdown, cfg.DDMin, cfg.DDMax, cfg.DDWeight)
}

// trainTestScore combines in-sample and out-of-sample performance, each
// band weighted per its own configuration.
func trainTestScore(trainCAGR, trainDD, testCAGR, testDD float64, cfg ScoringConfig) float64 {
	train := bandScore(trainCAGR, cfg.CAGRMin, cfg.CAGRMax, cfg.CAGRWeight) +
		bandScore(trainDD, cfg.DDMin, cfg.DDMax, cfg.DDWeight)
	test := bandScore(testCAGR, cfg.TestCAGRMin, cfg.TestCAGRMax, cfg.TestCAGRWeight) +
		bandScore(testDD, cfg.TestDDMin, cfg.TestDDMax, cfg.TestDDWeight)
	return train + test
}
