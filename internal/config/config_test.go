package config

import "testing"

func TestLoadClampsSweepInterval(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"0", 300},
		{"-5", 300},
		{"", 300},
		{"60", 60},
	}

	for _, tc := range cases {
		t.Setenv("SWEEP_INTERVAL_SECONDS", tc.raw)
		if got := Load().SweepIntervalSeconds; got != tc.want {
			t.Errorf("SWEEP_INTERVAL_SECONDS=%q: interval = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
