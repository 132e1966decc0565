package detections

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Exported YOLO models carry their class map as a python dict literal,
// e.g. {0: 'person', 1: 'bicycle', 2: "rider's bike"}.
var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// ParseNames turns the "names" metadata value into an index-ordered label
// slice. Gaps in the index range are filled with fallback labels.
func ParseNames(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no class entries in %q", raw)
	}

	byID := make(map[int]string, len(matches))
	maxID := -1
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("class id %q: %w", m[1], err)
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		byID[id] = name
		if id > maxID {
			maxID = id
		}
	}

	names := make([]string, maxID+1)
	for i := range names {
		if name, ok := byID[i]; ok {
			names[i] = name
		} else {
			names[i] = fallbackLabel(i)
		}
	}
	return names, nil
}

// padNames extends names to n entries using fallback labels.
func padNames(names []string, n int) []string {
	for i := len(names); i < n; i++ {
		names = append(names, fallbackLabel(i))
	}
	return names
}

func fallbackLabel(id int) string {
	return "class" + strconv.Itoa(id)
}
