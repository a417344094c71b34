// Package presets holds the predefined volume sizes offered when formatting an
// image.
package presets

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/ecsfs/errors"
	"github.com/dargueta/ecsfs/file_systems/common/blockdevice"
	"github.com/gocarina/gocsv"
)

// Preset is a named volume size.
type Preset struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	TotalBlocks uint   `csv:"total_blocks"`
	Notes       string `csv:"notes"`
}

// TotalSizeBytes gives the size of an image formatted with this preset.
func (p *Preset) TotalSizeBytes() int64 {
	return int64(p.TotalBlocks) * blockdevice.BlockSize
}

////////////////////////////////////////////////////////////////////////////////

//go:embed presets.csv
var presetsRawCSV string
var presetsBySlug map[string]Preset

// Get returns the preset with the given slug.
func Get(slug string) (Preset, error) {
	preset, ok := presetsBySlug[slug]
	if ok {
		return preset, nil
	}
	return Preset{}, errors.ErrNotFound.WithMessage(
		fmt.Sprintf("no preset exists with slug %q", slug))
}

// All returns every preset, smallest first.
func All() []Preset {
	result := make([]Preset, 0, len(presetsBySlug))
	for _, preset := range presetsBySlug {
		result = append(result, preset)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TotalBlocks < result[j].TotalBlocks
	})
	return result
}

func parsePresets(rawCSV string) (map[string]Preset, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'

	var rows []Preset
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode presets: %w", err)
	}

	result := make(map[string]Preset, len(rows))
	for i, row := range rows {
		_, exists := result[row.Slug]
		if exists {
			return nil, fmt.Errorf(
				"duplicate definition for preset %q found on row %d", row.Slug, i+1)
		}
		result[row.Slug] = row
	}
	return result, nil
}

func init() {
	var err error
	presetsBySlug, err = parsePresets(presetsRawCSV)
	if err != nil {
		panic(err)
	}
}
