package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1048576", 1 * MiB},
		{"1Mi", 1 * MiB},
		{"1MiB", 1 * MiB},
		{"512Ki", 512 * KiB},
		{"100MB", 100 * MB},
		{"2Gi", 2 * GiB},
		{"0", 0},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{" 64 Ki ", 64 * KiB},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "1Xi", "-5Mi", "1.2.3Mi"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{1 * KiB, "1.00KiB"},
		{1 * MiB, "1.00MiB"},
		{3 * GiB, "3.00GiB"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("4Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 4*MiB {
		t.Errorf("got %d, want %d", b, 4*MiB)
	}

	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Error("UnmarshalText should fail on invalid input")
	}
}
