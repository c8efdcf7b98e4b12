package ordering

import (
	"sort"
	"strings"
)

// DetectCycles reports every dependency cycle in deps once. Each cycle is
// rotated to start at its smallest key and lists the keys in edge order.
func DetectCycles(deps map[string]string) [][]string {
	starts := make([]string, 0, len(deps))
	for k := range deps {
		starts = append(starts, k)
	}
	sort.Strings(starts)

	seen := make(map[string]bool)
	var cycles [][]string
	for _, start := range starts {
		pos := map[string]int{}
		var walk []string
		for cur := start; cur != ""; cur = deps[cur] {
			if i, ok := pos[cur]; ok {
				cycle := canonical(walk[i:])
				id := strings.Join(cycle, "\x00")
				if !seen[id] {
					seen[id] = true
					cycles = append(cycles, cycle)
				}
				break
			}
			pos[cur] = len(walk)
			walk = append(walk, cur)
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i], "\x00") < strings.Join(cycles[j], "\x00")
	})
	return cycles
}

func canonical(cycle []string) []string {
	start := 0
	for i, k := range cycle {
		if k < cycle[start] {
			start = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[start:]...)
	return append(out, cycle[:start]...)
}
