package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Flow names a pipeline shape.
type Flow string

const (
	FlowTaxiWebToBucket          Flow = "taxi-web-to-bucket"
	FlowTaxiBucketToWarehouse    Flow = "taxi-bucket-to-warehouse"
	FlowHousingWebToBucket       Flow = "housing-web-to-bucket"
	FlowHousingBucketToWarehouse Flow = "housing-bucket-to-warehouse"
	FlowPriceToRent              Flow = "price-to-rent"
)

// Plan describes one invocation: which flow to run over which units.
type Plan struct {
	Flow     Flow
	Family   Family
	Action   ActionType
	Years    []int
	Months   []int
	Files    []string
	Filename string
}

// IsTaxi reports whether the flow works on NYC taxi data.
func (f Flow) IsTaxi() bool {
	return f == FlowTaxiWebToBucket || f == FlowTaxiBucketToWarehouse
}

// IsHousing reports whether the flow iterates Belgian housing file groups.
func (f Flow) IsHousing() bool {
	return f == FlowHousingWebToBucket || f == FlowHousingBucketToWarehouse
}

// Validate checks the plan is complete and consistent for its flow.
func (p Plan) Validate() error {
	switch {
	case p.Flow.IsTaxi():
		if err := p.Family.Validate(); err != nil {
			return err
		}
	case p.Flow.IsHousing():
		if err := p.Action.Validate(); err != nil {
			return err
		}
		if len(p.Files) == 0 {
			return errors.New("housing flows need at least one file group")
		}
		for _, f := range p.Files {
			if strings.TrimSpace(f) == "" || strings.ContainsAny(f, `/\`) {
				return fmt.Errorf("invalid file group %q", f)
			}
		}
	case p.Flow == FlowPriceToRent:
		if p.Filename == "" || strings.ContainsAny(p.Filename, `/\.`) {
			return fmt.Errorf("price-to-rent needs a plain filename, got %q", p.Filename)
		}
		return nil
	default:
		return fmt.Errorf("unknown flow %q", string(p.Flow))
	}

	if len(p.Years) == 0 || len(p.Months) == 0 {
		return errors.New("at least one year and one month are required")
	}
	for _, y := range p.Years {
		if y < 2000 || y > 2100 {
			return fmt.Errorf("year %d out of range", y)
		}
	}
	for _, m := range p.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("month %d out of range", m)
		}
		if p.Flow.IsHousing() && m%3 != 0 {
			return fmt.Errorf("housing snapshots are quarterly, month %d is not a quarter end", m)
		}
	}
	return nil
}

// ParseYears parses "2019", "2016-2022" or "2016,2018".
func ParseYears(s string) ([]int, error) {
	return parseIntList(s)
}

// ParseMonths parses "3", "1-12" or "3,6,9,12".
func ParseMonths(s string) ([]int, error) {
	return parseIntList(s)
}

// ParseList splits a comma separated list, dropping empty entries.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range ParseList(s) {
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", part, err)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid range %q: end before start", part)
			}
		}
		for v := start; v <= end; v++ {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}
