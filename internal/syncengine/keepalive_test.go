package syncengine

import "testing"

func TestBackoffForDoublesUpToCap(t *testing.T) {
	cases := []struct {
		attempt int
		want    int64 // milliseconds
	}{
		{1, 2000},
		{2, 4000},
		{3, 8000},
		{4, 16000},
		{5, 32000},
		{6, 32000},
		{7, 32000},
	}
	for _, c := range cases {
		got := backoffFor(c.attempt).Milliseconds()
		if got != c.want {
			t.Fatalf("attempt=%d: got %dms, want %dms", c.attempt, got, c.want)
		}
	}
}
