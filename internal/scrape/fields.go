package scrape

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigFields lists the names accepted by WithField.
var ConfigFields = []string{
	"categoryUrl",
	"cursor",
	"historyIntervalSeconds",
	"watcherIntervalSeconds",
	"delayMin",
	"delayMax",
}

// WithField returns a copy of c with the named field set from its string
// form. The result is not validated.
func (c ScraperConfig) WithField(field, value string) (ScraperConfig, error) {
	var target *int
	switch strings.ToLower(strings.ReplaceAll(field, "_", "")) {
	case "categoryurl":
		c.CategoryURL = strings.TrimSpace(value)
		return c, nil
	case "cursor":
		target = &c.Cursor
	case "historyintervalseconds":
		target = &c.HistoryIntervalSeconds
	case "watcherintervalseconds":
		target = &c.WatcherIntervalSeconds
	case "delaymin":
		target = &c.DelayMin
	case "delaymax":
		target = &c.DelayMax
	default:
		return c, &ValidationError{Fields: []string{
			fmt.Sprintf("unknown field %q, want one of %s", field, strings.Join(ConfigFields, ", ")),
		}}
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return c, &ValidationError{Fields: []string{fmt.Sprintf("%s must be an integer", field)}}
	}
	*target = n
	return c, nil
}
