package util

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default for garbage")
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"26-Dec-2024", "26-DEC-2024", "2024-12-26", " 26-dec-2024 "} {
		got, err := ParseDate(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %v", s, got)
		}
	}
	if _, err := ParseDate("Dec 26"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseNumber(t *testing.T) {
	v, err := ParseNumber("1,23,450.50")
	if err != nil || v == nil || *v != 123450.5 {
		t.Fatalf("unexpected %v %v", v, err)
	}
	for _, s := range []string{"", "-", "  "} {
		v, err := ParseNumber(s)
		if err != nil || v != nil {
			t.Fatalf("%q should be absent", s)
		}
	}
	if _, err := ParseNumber("abc"); err == nil {
		t.Fatalf("expected error")
	}
	for _, s := range []string{"NaN", "Inf", "-Infinity", "+inf"} {
		v, err := ParseNumber(s)
		if !errors.Is(err, ErrNotFinite) || v != nil {
			t.Fatalf("%q: expected ErrNotFinite, got %v %v", s, v, err)
		}
	}
}
