package reply

import (
	"reflect"
	"testing"
)

func TestLastN(t *testing.T) {
	tests := []struct {
		name string
		ids  []uint32
		n    int
		want []uint32
	}{
		{"under the cap", []uint32{1, 2, 3}, 50, []uint32{1, 2, 3}},
		{"exactly the cap", []uint32{1, 2}, 2, []uint32{1, 2}},
		{"keeps the most recent", []uint32{1, 2, 3, 4, 5}, 2, []uint32{4, 5}},
		{"empty", nil, 50, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastN(tt.ids, tt.n); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("lastN(%v, %d) = %v, want %v", tt.ids, tt.n, got, tt.want)
			}
		})
	}
}
