package rx

import "testing"

func TestStateCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateSent, true},
		{StatePending, StatePrinted, true},
		{StatePending, StateFaxed, true},
		{StatePending, StateFailed, true},
		{StatePending, StatePending, false},
		{StateFailed, StateSent, true},
		{StateFailed, StateFaxed, true},
		{StateFailed, StateFailed, true},
		{StateFailed, StatePending, false},
		{StateSent, StateFailed, false},
		{StateSent, StateSent, false},
		{StatePrinted, StateFaxed, false},
		{StateFaxed, StatePending, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateDelivered(t *testing.T) {
	for _, s := range []State{StateSent, StatePrinted, StateFaxed} {
		if !s.Delivered() {
			t.Errorf("expected %s to be delivered", s)
		}
	}
	for _, s := range []State{StatePending, StateFailed} {
		if s.Delivered() {
			t.Errorf("expected %s not to be delivered", s)
		}
	}
}

func TestDetermineChannel(t *testing.T) {
	cases := []struct {
		name     string
		pharmacy Pharmacy
		want     Channel
	}{
		{"electronic preferred", Pharmacy{AcceptsElectronic: true, FaxNumber: "555-0100"}, ChannelElectronic},
		{"fax fallback", Pharmacy{FaxNumber: "555-0100"}, ChannelFax},
		{"print last resort", Pharmacy{}, ChannelPrint},
	}

	for _, c := range cases {
		if got := DetermineChannel(&c.pharmacy); got != c.want {
			t.Errorf("%s: DetermineChannel = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestChannelValid(t *testing.T) {
	for _, c := range []Channel{ChannelElectronic, ChannelPrint, ChannelFax} {
		if !c.Valid() {
			t.Errorf("expected %s to be valid", c)
		}
	}
	if Channel("carrier_pigeon").Valid() {
		t.Error("expected unknown channel to be invalid")
	}
}
