package ads

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
)

const (
	minDimension  = 10
	maxDimension  = 1024
	minCapacity   = 1
	maxCapacity   = 10
	minPrice      = 1
	maxPrice      = 1000000
	maxNameLen    = 100
	maxDescLen    = 1000
	maxAutoFill   = 65536
	maxURLLen     = 1000
	minMonths     = 1
	maxMonths     = 12
	maxWeight     = 100
	maxGeoLen     = 100
	maxKeywordLen = 100
)

var (
	aliasPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*$`)
	aliasSanitizer = regexp.MustCompile(`[^a-z0-9]+`)
)

// deriveAlias turns a slot name into its serving key.
func deriveAlias(name string) string {
	return strings.Trim(aliasSanitizer.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func checkLen(field, v string, min, max int) error {
	n := utf8.RuneCountInString(v)
	if n < min || n > max {
		return apperr.InvalidParam(field, "")
	}
	return nil
}

func checkRange(field string, v, min, max int64) error {
	if v < min || v > max {
		return apperr.InvalidParam(field, "")
	}
	return nil
}

func validateSlot(s *models.AdSlot) error {
	if err := checkLen("name", s.Name, 1, maxNameLen); err != nil {
		return err
	}
	if len(s.Alias) > maxNameLen || !aliasPattern.MatchString(s.Alias) {
		return apperr.InvalidParam("alias", "alias must be lower-case letters, digits and '-'")
	}
	if err := checkLen("description", s.Description, 1, maxDescLen); err != nil {
		return err
	}
	if err := checkRange("price", s.Price, minPrice, maxPrice); err != nil {
		return err
	}
	if err := checkRange("width", int64(s.Width), minDimension, maxDimension); err != nil {
		return err
	}
	if err := checkRange("height", int64(s.Height), minDimension, maxDimension); err != nil {
		return err
	}
	if err := checkRange("num_slots", int64(s.NumSlots), minCapacity, maxCapacity); err != nil {
		return err
	}
	if err := checkRange("num_auto_fill", int64(s.NumAutoFill), minCapacity, maxCapacity); err != nil {
		return err
	}
	return checkLen("auto_fill", s.AutoFill, 1, maxAutoFill)
}

// parseStartAt validates a reservation start date.
func parseStartAt(s string) (models.Date, error) {
	d, err := models.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return "", apperr.InvalidParam("start_at", "Invalid format of start_at.")
	}
	if d.Day() > models.MaxStartDay {
		return "", apperr.InvalidParam("start_at", "Please specify start day 1~28.")
	}
	return d, nil
}

func validateMonths(months int) error {
	if months < minMonths || months > maxMonths {
		return apperr.InvalidParam("months", "Must be 1~12.")
	}
	return nil
}

// endAfter returns from + months, rejecting ends past the last representable year.
func endAfter(from models.Date, months int) (models.Date, error) {
	end, ok := from.AddMonths(months)
	if !ok {
		return "", apperr.InvalidParam("months", "end_at is out of range.")
	}
	return end, nil
}

func validateClickURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if err := checkLen("url", u, 1, maxURLLen); err != nil {
		return "", err
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", apperr.InvalidParam("url", "Must be start with http:// or https://")
	}
	return u, nil
}

// parseWindow validates a creative sub-window against its reservation.
func parseWindow(start, end string, p *models.AdPeriod) (models.Date, models.Date, error) {
	var from, until models.Date
	if s := strings.TrimSpace(start); s != "" {
		d, err := models.ParseDate(s)
		if err != nil || d < p.StartAt || d >= p.EndAt {
			return "", "", apperr.InvalidParam("start_at", "start_at must fall inside the AdPeriod.")
		}
		from = d
	}
	if s := strings.TrimSpace(end); s != "" {
		d, err := models.ParseDate(s)
		if err != nil || d <= p.StartAt || d > p.EndAt {
			return "", "", apperr.InvalidParam("end_at", "end_at must fall inside the AdPeriod.")
		}
		until = d
	}
	if !from.IsZero() && !until.IsZero() && from >= until {
		return "", "", apperr.InvalidParam("end_at", "end_at must be after start_at.")
	}
	return from, until, nil
}
