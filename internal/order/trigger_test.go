package order

import "testing"

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name  string
		typ   Type
		price float64
		want  bool
	}{
		{"limit buy below", TypeLimitBuy, 95, true},
		{"limit buy equal", TypeLimitBuy, 100, true},
		{"limit buy above", TypeLimitBuy, 101, false},
		{"stop loss below", TypeStopLoss, 99, true},
		{"stop loss equal", TypeStopLoss, 100, true},
		{"stop loss above", TypeStopLoss, 100.01, false},
		{"limit sell above", TypeLimitSell, 105, true},
		{"limit sell equal", TypeLimitSell, 100, true},
		{"limit sell below", TypeLimitSell, 99, false},
		{"zero price", TypeLimitBuy, 0, false},
		{"negative price", TypeStopLoss, -1, false},
		{"unknown type", Type("market"), 50, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(Order{Type: tc.typ, TriggerPrice: 100}, tc.price)
			if got != tc.want {
				t.Fatalf("Evaluate(%s, %v) = %v, want %v", tc.typ, tc.price, got, tc.want)
			}
		})
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	all := []Status{StatusActive, StatusExecuting, StatusFilled, StatusCancelled, StatusExpired, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			if from.Terminal() && CanTransition(from, to) {
				t.Fatalf("terminal status %s must not transition to %s", from, to)
			}
		}
	}
	if !CanTransition(StatusActive, StatusExecuting) || !CanTransition(StatusExecuting, StatusFilled) {
		t.Fatalf("expected active -> executing -> filled to be allowed")
	}
	if CanTransition(StatusActive, StatusFilled) {
		t.Fatalf("filled must only be reached through executing")
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"limit_buy": TypeLimitBuy,
		"LimitBuy":  TypeLimitBuy,
		"limitSell": TypeLimitSell,
		"stop-loss": TypeStopLoss,
		"StopLoss":  TypeStopLoss,
	} {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Fatalf("ParseType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseType("market"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
