package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
)

func TestExtractCountyLabel(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		county string
		label  string
	}{
		{
			name:   "top-level",
			input:  `{"county": "Dade", "dataGroupLabel": "seed-2024"}`,
			county: "Dade",
			label:  "seed-2024",
		},
		{
			name:   "nested-detail",
			input:  `{"detail": {"county": "Broward", "dataGroupLabel": "batch-7"}}`,
			county: "Broward",
			label:  "batch-7",
		},
		{
			name:   "seed-shape",
			input:  `{"seed": {"county": "Palm Beach"}}`,
			county: "Palm Beach",
			label:  resources.LabelNotSet,
		},
		{
			name:   "snake-case-label",
			input:  `{"county": "Dade", "data_group_label": "legacy"}`,
			county: "Dade",
			label:  "legacy",
		},
		{
			name:   "blank-label-normalized",
			input:  `{"county": "Dade", "dataGroupLabel": "  "}`,
			county: "Dade",
			label:  resources.LabelNotSet,
		},
		{
			name:   "path-priority",
			input:  `{"county": "Dade", "detail": {"county": "Broward"}}`,
			county: "Dade",
			label:  resources.LabelNotSet,
		},
		{
			name:   "non-string-ignored",
			input:  `{"county": 7}`,
			county: "",
			label:  resources.LabelNotSet,
		},
		{
			name:   "invalid-json",
			input:  `not json`,
			county: "",
			label:  resources.LabelNotSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			county, label := ExtractCountyLabel(tt.input)
			assert.Equal(t, tt.county, county)
			assert.Equal(t, tt.label, label)
		})
	}
}
