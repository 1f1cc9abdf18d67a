package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadLabels reads a filename,is_illegal CSV into a session-name → label map.
func LoadLabels(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	return ParseLabels(f)
}

// ParseLabels is LoadLabels over a reader.
func ParseLabels(r io.Reader) (map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read labels header: %w", err)
	}
	nameCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "filename":
			nameCol = i
		case "is_illegal":
			labelCol = i
		}
	}
	if nameCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("labels header must contain filename and is_illegal, got %v", header)
	}

	labels := map[string]int{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return labels, nil
		}
		if err != nil {
			return nil, fmt.Errorf("labels line %d: %w", line, err)
		}
		v, err := parseLabel(row[labelCol])
		if err != nil {
			return nil, fmt.Errorf("labels line %d: %w", line, err)
		}
		labels[strings.TrimSpace(row[nameCol])] = v
	}
}

func parseLabel(s string) (int, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid label %q", s)
	}
	return int(f), nil
}
