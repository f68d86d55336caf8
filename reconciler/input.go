package reconciler

import (
	"encoding/json"
	"strings"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
)

// Candidate JSON paths for county and data-group label in execution inputs.
// Input shapes have drifted across pipeline revisions, so each path is tried
// in order and the first non-empty string wins.
var (
	countyPaths = []string{
		"county",
		"detail.county",
		"seed.county",
		"propertyData.county",
		"input.county",
	}
	labelPaths = []string{
		"dataGroupLabel",
		"detail.dataGroupLabel",
		"data_group_label",
		"label",
	}
)

// ExtractCountyLabel best-effort inspects an execution input document for
// the county and data-group label. The label is always normalized; a missing
// label comes back as the sentinel.
func ExtractCountyLabel(input string) (county, label string) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(input), &doc); err != nil {
		return "", resources.LabelNotSet
	}
	for _, path := range countyPaths {
		if v, ok := stringAtPath(doc, path); ok {
			county = v
			break
		}
	}
	for _, path := range labelPaths {
		if v, ok := stringAtPath(doc, path); ok {
			label = v
			break
		}
	}
	return county, resources.NormalizeLabel(label)
}

func stringAtPath(doc map[string]interface{}, path string) (string, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
