package eod

// aggRow is one symbol's activity for the day.
type aggRow struct {
	Symbol      string
	Entries     int     // positions opened
	BuyLots     float64 // lots opened long
	SellLots    float64 // lots opened short
	Closes      int     // exits, including partial closes
	Wins        int
	Losses      int
	RealizedPnL float64 // sum of exit profit in account currency
}
