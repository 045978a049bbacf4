package main

import "testing"

func TestIntArg(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		fallback int
		want     int
		wantErr  bool
	}{
		{"default steps", []string{"down"}, 1, 1, false},
		{"explicit steps", []string{"down", "3"}, 1, 3, false},
		{"required missing", []string{"force"}, -1, 0, true},
		{"not a number", []string{"force", "x"}, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := intArg(tt.args, tt.fallback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("intArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intArg() = %d, want %d", got, tt.want)
			}
		})
	}
}
