// Package tier holds the static subscription policy table: per-tier daily
// quotas and feature/timeframe/universe entitlements. The table is defined
// once and read-only; there is no state and no failure mode beyond a
// predicate returning false.
package tier

// Tier is a subscription level.
type Tier string

const (
	Free Tier = "free"
	Pro  Tier = "pro"
	Max  Tier = "max"
)

// Unlimited is the quota sentinel for the max tier. Checks against it never
// fail and remaining-quota math reports unlimited.
const Unlimited = -1

// Limits is the per-tier policy record.
type Limits struct {
	AnalysesPerDay       int
	ScansPerDay          int
	ScanResultsLimit     int
	WatchlistCount       int
	WatchlistSymbolLimit int
	Timeframes           []string
	Universes            []string
	Features             []string
}

var table = map[Tier]Limits{
	Free: {
		AnalysesPerDay:       5,
		ScansPerDay:          3,
		ScanResultsLimit:     10,
		WatchlistCount:       1,
		WatchlistSymbolLimit: 10,
		Timeframes:           []string{"1d"},
		Universes:            []string{"sp500"},
		Features:             []string{"analysis", "scan"},
	},
	Pro: {
		AnalysesPerDay:       50,
		ScansPerDay:          25,
		ScanResultsLimit:     50,
		WatchlistCount:       5,
		WatchlistSymbolLimit: 50,
		Timeframes:           []string{"1h", "4h", "1d", "1w"},
		Universes:            []string{"sp500", "nasdaq100", "crypto"},
		Features:             []string{"analysis", "scan", "fibonacci", "trade-plan", "watchlist"},
	},
	Max: {
		AnalysesPerDay:       Unlimited,
		ScansPerDay:          Unlimited,
		ScanResultsLimit:     Unlimited,
		WatchlistCount:       Unlimited,
		WatchlistSymbolLimit: Unlimited,
		Timeframes:           []string{"5m", "15m", "1h", "4h", "1d", "1w"},
		Universes:            []string{"sp500", "nasdaq100", "russell2000", "crypto", "forex"},
		Features:             []string{"analysis", "scan", "fibonacci", "trade-plan", "watchlist", "backtest", "portfolio-risk"},
	},
}

// ParseTier maps untrusted input onto the closed set, defaulting unknown
// values to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case Free, Pro, Max:
		return Tier(s)
	}
	return Free
}

// LimitsFor returns the policy record for a tier. Callers are expected to
// have normalized the tier via ParseTier already; anything unknown gets the
// free limits.
func LimitsFor(t Tier) Limits {
	if l, ok := table[t]; ok {
		return l
	}
	return table[Free]
}

// CanAccessFeature reports whether the tier's feature list contains name.
func CanAccessFeature(t Tier, name string) bool {
	return contains(LimitsFor(t).Features, name)
}

// CanAccessTimeframe reports whether the tier may request the timeframe.
func CanAccessTimeframe(t Tier, timeframe string) bool {
	return contains(LimitsFor(t).Timeframes, timeframe)
}

// CanAccessUniverse reports whether the tier may scan the universe.
func CanAccessUniverse(t Tier, universe string) bool {
	return contains(LimitsFor(t).Universes, universe)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
