package merge

import (
	"testing"
	"time"
)

func TestRenameName(t *testing.T) {
	ts := time.Date(2022, 8, 14, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		base    string
		attempt int
		want    string
	}{
		{"beach.jpg", 0, "20220814_beach.jpg"},
		{"beach.jpg", 1, "20220814_beach_0.jpg"},
		{"beach.jpg", 2, "20220814_beach_1.jpg"},
		{"beach.jpg", 11, "20220814_beach_10.jpg"},
		{"archive.tar.gz", 0, "20220814_archive.tar.gz"},
		{"archive.tar.gz", 1, "20220814_archive.tar_0.gz"},
		{"noext", 0, "20220814_noext"},
		{"noext", 1, "20220814_noext_0"},
	}
	for _, c := range cases {
		if got := renameName(c.base, ts, c.attempt); got != c.want {
			t.Errorf("renameName(%q, %d) = %q, want %q", c.base, c.attempt, got, c.want)
		}
	}
}

func TestRenameNameDeterministic(t *testing.T) {
	ts := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)
	a := renameName("x.jpg", ts, 5)
	b := renameName("x.jpg", ts, 5)
	if a != b {
		t.Fatalf("rename not deterministic: %q vs %q", a, b)
	}
	if a != "20210102_x_4.jpg" {
		t.Fatalf("unexpected candidate: %q", a)
	}
}
