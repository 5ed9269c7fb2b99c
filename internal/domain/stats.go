package domain

// Stats24h holds slow-moving 24h statistics for a pair. Nil pointers are
// values the provider did not report.
type Stats24h struct {
	PriceChangePercent float64
	High               *float64
	Low                *float64
	Volume             *float64
	LastPrice          *float64
}

// Clone returns a deep copy.
func (s *Stats24h) Clone() *Stats24h {
	if s == nil {
		return nil
	}
	return &Stats24h{
		PriceChangePercent: s.PriceChangePercent,
		High:               copyFloat(s.High),
		Low:                copyFloat(s.Low),
		Volume:             copyFloat(s.Volume),
		LastPrice:          copyFloat(s.LastPrice),
	}
}
