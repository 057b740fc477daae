package agent

import "testing"

func TestTimeControlLabel(t *testing.T) {
	cases := []struct {
		limitMS, incMS int64
		want           string
	}{
		{180_000, 2_000, "180+2"},
		{60_000, 0, "60+0"},
		{0, 2_000, ""},
	}
	for _, tc := range cases {
		if got := timeControlLabel(tc.limitMS, tc.incMS); got != tc.want {
			t.Errorf("timeControlLabel(%d, %d) = %q, want %q", tc.limitMS, tc.incMS, got, tc.want)
		}
	}
}
