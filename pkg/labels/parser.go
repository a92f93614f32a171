// Package labels handles region label bookkeeping: parsing label-name
// files, excluding invalid regions, contiguous renumbering, and the
// offset mapping that keeps the three atlases' label ranges disjoint.
package labels

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// nameFormat parses one recognized label-name file layout into an
// index-to-name map.
type nameFormat interface {
	parse(lines []string) (map[int]string, error)
}

// indexedFormat handles "index: name" files (e.g. Destrieux).
type indexedFormat struct{}

func (indexedFormat) parse(lines []string) (map[int]string, error) {
	names := make(map[int]string)
	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		k, err := strconv.Atoi(strings.TrimSpace(line[:idx]))
		if err != nil {
			// Non-numeric index, skip the line like the rest of the
			// ecosystem tooling does.
			continue
		}
		names[k] = strings.TrimSpace(line[idx+1:])
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no parsable \"index: name\" lines")
	}
	return names, nil
}

// bareFormat handles name-per-line files with implied sequential
// 1-based indices (e.g. Tian).
type bareFormat struct{}

func (bareFormat) parse(lines []string) (map[int]string, error) {
	names := make(map[int]string, len(lines))
	for i, line := range lines {
		names[i+1] = line
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("label file is empty")
	}
	return names, nil
}

// detectFormat probes the content lines for a colon separator and
// selects the matching parser.
func detectFormat(lines []string) nameFormat {
	for _, line := range lines {
		if strings.Contains(line, ":") {
			return indexedFormat{}
		}
	}
	return bareFormat{}
}

// ParseNameFile reads a label-name file in either recognized format and
// returns the index-to-name map. Blank lines and '#' comments are
// ignored. A missing or unparsable file is a configuration error.
func ParseNameFile(path string) (map[int]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("label file not found: %s", path)
	}

	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}

	names, err := detectFormat(lines).parse(lines)
	if err != nil {
		return nil, fmt.Errorf("malformed label file %s: %v", path, err)
	}
	return names, nil
}
