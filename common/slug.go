package common

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrEmptySlug = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func Slugify(input, fallback string) (string, error) {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// DumpFileName builds the file name for a raw generation response dump,
// e.g. "shop-12_missing-attempt-2_20250101-120000.json".
func DumpFileName(anchorKey, suffix string, at time.Time) string {
	name, err := Slugify(anchorKey, "run")
	if err != nil {
		name = "run"
	}
	if s := slugify(suffix); s != "" {
		name += "_" + s
	}
	return fmt.Sprintf("%s_%s.json", name, at.UTC().Format("20060102-150405"))
}
