package job

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseCPUList parses a Linux-style CPU list such as "0-3,6" into sorted,
// de-duplicated unit numbers.
func ParseCPUList(cpuList string) ([]int, error) {
	set := make(map[int]struct{})
	for _, segment := range strings.Split(cpuList, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if strings.Contains(segment, "-") {
			bounds := strings.Split(segment, "-")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid range: %s", segment)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil || start < 0 {
				return nil, fmt.Errorf("invalid start of range: %s", bounds[0])
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %s", bounds[1])
			}
			if start > end {
				return nil, fmt.Errorf("start greater than end in range: %s", segment)
			}
			for i := start; i <= end; i++ {
				set[i] = struct{}{}
			}
			continue
		}
		num, err := strconv.Atoi(segment)
		if err != nil || num < 0 {
			return nil, fmt.Errorf("invalid number: %s", segment)
		}
		set[num] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty cpu list %q", cpuList)
	}

	result := make([]int, 0, len(set))
	for c := range set {
		result = append(result, c)
	}
	sort.Ints(result)
	return result, nil
}
