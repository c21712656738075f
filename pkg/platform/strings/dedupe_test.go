package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{name: "empty", raw: "", expected: nil},
		{name: "only separators", raw: " , ,", expected: []string{}},
		{name: "single", raw: "localhost:9092", expected: []string{"localhost:9092"}},
		{
			name:     "trims and drops repeats",
			raw:      "kafka-1:9092, kafka-2:9092,,kafka-1:9092 ",
			expected: []string{"kafka-1:9092", "kafka-2:9092"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.raw))
		})
	}
}

func TestDedupeAndTrimKeepsFirstOccurrenceOrder(t *testing.T) {
	got := DedupeAndTrim([]string{" b", "a", "b ", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}
