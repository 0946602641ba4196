package travelbot

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/flowdial/flowdial/dialog/actions"
	"github.com/flowdial/flowdial/dialog/flow"
)

// RegisterActions adds the demo action handlers to reg. The handlers
// are deterministic: the same inputs always produce the same flight and
// confirmation code, so scripted conversations are reproducible.
func RegisterActions(reg *actions.Registry) error {
	if err := reg.Register(actions.Spec{
		Name:    "search_flights",
		Inputs:  []string{"origin", "destination", "depart_date", "fare_class"},
		Outputs: []string{"flight_number", "price"},
	}, searchFlights); err != nil {
		return err
	}
	if err := reg.Register(actions.Spec{
		Name:    "reserve_seats",
		Inputs:  []string{"flight_number", "passengers"},
		Outputs: []string{"confirmation_code"},
	}, reserveSeats); err != nil {
		return err
	}
	return reg.Register(actions.Spec{
		Name:    "fetch_balance",
		Inputs:  []string{"account"},
		Outputs: []string{"balance"},
	}, fetchBalance)
}

// RegisterValidators adds the demo's custom validator: future_date
// rejects departure dates that already passed. now anchors "the past"
// so tests can pin it; nil means the wall clock.
func RegisterValidators(v *flow.Validators, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return v.Register("future_date", flow.ValidatorFunc(func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be a calendar date")
		}
		day, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("must be a date like 2026-09-14")
		}
		today := now().UTC().Truncate(24 * time.Hour)
		if day.Before(today) {
			return fmt.Errorf("must not be in the past")
		}
		return nil
	}))
}

func searchFlights(_ context.Context, inputs map[string]any) (map[string]any, error) {
	origin, _ := inputs["origin"].(string)
	destination, _ := inputs["destination"].(string)
	date, _ := inputs["depart_date"].(string)
	class, _ := inputs["fare_class"].(string)

	seed := hashInputs(origin, destination, date)
	price := 89 + float64(seed%400)
	if class == "business" {
		price *= 3
	}
	return map[string]any{
		"flight_number": fmt.Sprintf("FD%03d", 100+seed%900),
		"price":         price,
	}, nil
}

func reserveSeats(_ context.Context, inputs map[string]any) (map[string]any, error) {
	flight, _ := inputs["flight_number"].(string)
	seed := hashInputs(flight, fmt.Sprint(inputs["passengers"]))
	return map[string]any{
		"confirmation_code": fmt.Sprintf("TRV-%05d", seed%100000),
	}, nil
}

// fetchBalance returns a fixed balance per account so transcripts stay
// stable across runs.
func fetchBalance(_ context.Context, inputs map[string]any) (map[string]any, error) {
	account, _ := inputs["account"].(string)
	balance := map[string]float64{
		"checking": 2457.75,
		"savings":  10250,
	}[account]
	return map[string]any{"balance": balance}, nil
}

func hashInputs(parts ...string) int {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	// Mask the sign bit so the seed stays non-negative on 32-bit ints.
	return int(h.Sum32() & 0x7fffffff)
}
