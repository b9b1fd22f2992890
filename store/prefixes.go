package store

// Storage prefixes
const (
	BlockPrefix     = "bl-"
	ValidatorPrefix = "vd-"
	RoutePrefix     = "ad-"
	BalancePrefix   = "ba-"
)
