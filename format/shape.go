// shape.go - Formatierung von Tensor-Shapes fuer CLI und Logs
package format

import (
	"strconv"
	"strings"
)

// Shape formatiert eine Shape als "[1 4]". Dimensionen < 0 werden als "?"
// ausgegeben, ein Skalar als "[]".
func Shape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ParseShape parst "1x4", "1,4" oder "[1 4]". Ein leerer String oder "[]"
// ergibt einen Skalar.
func ParseShape(s string) ([]int, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []int{}, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == 'x' || r == ',' || r == ' '
	})

	shape := make([]int, 0, len(fields))
	for _, f := range fields {
		if f == "?" {
			shape = append(shape, -1)
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		shape = append(shape, d)
	}
	return shape, nil
}
