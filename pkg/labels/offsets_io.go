package labels

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"levtiades/internal/models"
)

// SaveRanges persists the computed label ranges so the QC stage can
// reload the mapping without recomputing the pipeline.
func SaveRanges(path string, m *OffsetMapping) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create ranges file: %v", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# source start end")
	for _, src := range m.order {
		r := m.ranges[src]
		fmt.Fprintf(f, "%s %d %d\n", src, r.Start, r.End)
	}
	return nil
}

// LoadRanges reads a ranges file back into an OffsetMapping. The
// reloaded mapping goes through the same validation as a freshly
// computed one; a tampered or stale file fails here.
func LoadRanges(path string) (*OffsetMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ranges file not found: %s", path)
	}
	defer f.Close()

	var order []models.Source
	counts := make(map[models.Source]int)
	starts := make(map[models.Source]int)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed ranges line: %q", line)
		}
		start, err1 := strconv.Atoi(fields[1])
		end, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || end < start {
			return nil, fmt.Errorf("malformed ranges line: %q", line)
		}
		src := models.Source(fields[0])
		order = append(order, src)
		counts[src] = end - start + 1
		starts[src] = start
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	m, err := BuildOffsetMapping(order, counts)
	if err != nil {
		return nil, err
	}
	for src, start := range starts {
		if m.ranges[src].Start != start {
			return nil, fmt.Errorf("ranges file %s is inconsistent: %s starts at %d, expected %d",
				path, src, start, m.ranges[src].Start)
		}
	}
	return m, nil
}
