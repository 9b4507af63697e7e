// Package bar
package bar

import (
	"errors"
	"time"

	"github.com/pairslab/pairscope/internal/interval"
)

// Bar is an OHLCV record for one (instrument, interval) bucket. A bar is
// mutable only while owned by the Aggregator; a sealed bar never changes.
type Bar struct {
	Instrument string    `json:"instrument"`
	Interval   string    `json:"interval"`
	OpenTime   time.Time `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TickCount  int       `json:"tick_count"`
}

// CloseTime returns the end of the bar's bucket.
func (b *Bar) CloseTime() time.Time {
	return b.OpenTime.Add(interval.Duration(b.Interval))
}

// Validate checks if a bar has valid data
func (b *Bar) Validate() error {
	if b.Instrument == "" {
		return errors.New("bar instrument cannot be empty")
	}
	if !interval.IsValid(b.Interval) {
		return errors.New("bar interval is not supported")
	}
	if b.OpenTime.IsZero() {
		return errors.New("bar open time is zero")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.New("bar prices must be positive")
	}
	if b.High < b.Low {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open < b.Low || b.Open > b.High {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return errors.New("bar close price must be between high and low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume cannot be negative")
	}
	if b.TickCount < 0 {
		return errors.New("bar tick count cannot be negative")
	}
	return nil
}
