package scheduling

import (
	"testing"
	"time"
)

func TestTimeToMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{" 09:05 ", 545, false},
		{"9:05", 0, true},
		{"09:5", 0, true},
		{"+9:05", 0, true},
		{"+09:5", 0, true},
		{"0x:30", 0, true},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"-1:00", 0, true},
		{"0930", 0, true},
		{"09:30:00", 0, true},
		{"ab:cd", 0, true},
		{":30", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := TimeToMinutes(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("TimeToMinutes(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("TimeToMinutes(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("TimeToMinutes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestComputeEndTime(t *testing.T) {
	tests := []struct {
		start    string
		duration int
		want     string
		wantErr  bool
	}{
		{"09:00", 30, "09:30", false},
		{"09:45", 30, "10:15", false},
		{"08:00", 5, "08:05", false},
		{"8:00", 5, "", true},
		{"23:00", 60, "24:00", false},
		{"23:00", 120, "", true},
		{"09:00", 0, "", true},
		{"09:00", -15, "", true},
		{"nine", 30, "", true},
	}
	for _, tt := range tests {
		got, err := ComputeEndTime(tt.start, tt.duration)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ComputeEndTime(%q, %d): expected error, got %q", tt.start, tt.duration, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ComputeEndTime(%q, %d): unexpected error: %v", tt.start, tt.duration, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ComputeEndTime(%q, %d) = %q, want %q", tt.start, tt.duration, got, tt.want)
		}
	}
}

func TestFormatMinutes(t *testing.T) {
	if got := FormatMinutes(0); got != "00:00" {
		t.Errorf("expected 00:00, got %q", got)
	}
	if got := FormatMinutes(605); got != "10:05" {
		t.Errorf("expected 10:05, got %q", got)
	}
	if got := FormatMinutes(1440); got != "24:00" {
		t.Errorf("expected 24:00, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Karachi")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d, err := ParseDate("2025-01-06", loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %s", d.Weekday())
	}
	if d.Location() != loc || d.Hour() != 0 {
		t.Errorf("expected midnight in %s, got %s", loc, d)
	}

	for _, bad := range []string{"2025-02-30", "2025-13-01", "06/01/2025", "", "2025-1-6"} {
		if _, err := ParseDate(bad, loc); err == nil {
			t.Errorf("ParseDate(%q): expected error", bad)
		}
	}
}

func TestParseDate_NilLocation(t *testing.T) {
	d, err := ParseDate("2024-02-29", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Location() != time.UTC {
		t.Errorf("expected UTC, got %s", d.Location())
	}
}

func TestDayName(t *testing.T) {
	if DayName(0) != "Sunday" || DayName(6) != "Saturday" {
		t.Errorf("unexpected day names: %q %q", DayName(0), DayName(6))
	}
	if DayName(7) != "" || DayName(-1) != "" {
		t.Error("expected empty name for out-of-range day")
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("PKT", 5*3600)
	// 22:00 UTC on the 5th is 03:00 on the 6th in PKT.
	instant := time.Date(2025, 1, 5, 22, 0, 0, 0, time.UTC)
	got := StartOfDay(instant, loc)
	if FormatDate(got) != "2025-01-06" || got.Hour() != 0 {
		t.Errorf("expected 2025-01-06 00:00 PKT, got %s", got)
	}
}
