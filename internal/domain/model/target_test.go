package model

import "testing"

func TestImageTarget_String(t *testing.T) {
	tests := []struct {
		name   string
		target ImageTarget
		want   string
	}{
		{"UASTC", UASTC, "UASTC"},
		{"ASTC", ASTC, "ASTC"},
		{"ASTC_HIGH", ASTCHigh, "ASTC_HIGH"},
		{"unknown", ImageTarget(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseImageTarget(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   ImageTarget
		wantOK bool
	}{
		{"empty defaults to UASTC", "", UASTC, true},
		{"UASTC", "UASTC", UASTC, true},
		{"ASTC", "ASTC", ASTC, true},
		{"ASTC_HIGH", "ASTC_HIGH", ASTCHigh, true},
		{"garbage", "WEBP", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseImageTarget(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseImageTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVideoTarget(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   VideoTarget
		wantOK bool
	}{
		{"empty defaults to MP4", "", MP4, true},
		{"MP4", "MP4", MP4, true},
		{"OGV", "OGV", OGV, true},
		{"garbage", "AVI", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVideoTarget(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseVideoTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}
