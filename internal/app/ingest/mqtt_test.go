package ingest

import (
	"fmt"
	"testing"
)

func TestFarmerIDFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"farmer/FARMER_NORTH_AB12/sensor/data", "FARMER_NORTH_AB12", true},
		{"farmer//sensor/data", "", false},
		{"farmer/FARMER_NORTH_AB12/sensor", "", false},
		{"farmer/FARMER_NORTH_AB12/allocation", "", false},
		{"device/FARMER_NORTH_AB12/sensor/data", "", false},
		{"farmer/FARMER_NORTH_AB12/sensor/data/extra", "", false},
	}
	for _, tc := range cases {
		got, ok := farmerIDFromTopic(tc.topic)
		if got != tc.want || ok != tc.ok {
			t.Errorf("farmerIDFromTopic(%q) = (%q, %v), want (%q, %v)", tc.topic, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPerFarmerRateLimit(t *testing.T) {
	svc := New(Config{BrokerURL: "tcp://unused:1883"}, nil, nil)

	if !svc.allow("FARMER_A") {
		t.Fatalf("first reading must pass")
	}
	if svc.allow("FARMER_A") {
		t.Fatalf("second immediate reading must be dropped")
	}
	// Limiters are keyed per farmer.
	if !svc.allow("FARMER_B") {
		t.Fatalf("unrelated farmer must not share the limiter")
	}
}

func TestLimiterMapBounded(t *testing.T) {
	svc := New(Config{BrokerURL: "tcp://unused:1883"}, nil, nil)

	for i := 0; i < maxTrackedFarmers+100; i++ {
		svc.allow(fmt.Sprintf("FARMER_%d", i))
	}

	svc.mu.Lock()
	size := len(svc.limiters)
	svc.mu.Unlock()
	if size > maxTrackedFarmers {
		t.Fatalf("limiter map grew past the cap: %d", size)
	}
}
