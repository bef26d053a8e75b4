package predictor

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"demeter/pkg/errors"
)

// CropStats holds the per-crop yield mean and standard deviation computed at
// training time, used to back-transform standardized model output
type CropStats struct {
	Mean float64
	Std  float64
}

// StatsTable maps a crop name to its training-time statistics
type StatsTable map[string]CropStats

// LoadCropStats reads a per-crop statistics CSV with columns crop_name_en,
// yield_mean_crop and yield_std_crop. Column order is taken from the header,
// not assumed.
func LoadCropStats(path string) (StatsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open crop statistics file %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read crop statistics header from %s", path)
	}

	cropIdx, meanIdx, stdIdx := -1, -1, -1
	for i, col := range header {
		switch col {
		case "crop_name_en":
			cropIdx = i
		case "yield_mean_crop":
			meanIdx = i
		case "yield_std_crop":
			stdIdx = i
		}
	}
	if cropIdx < 0 || meanIdx < 0 || stdIdx < 0 {
		return nil, errors.Wrapf(errors.ErrSchemaMismatch,
			"crop statistics file %s missing required columns", path)
	}

	table := make(StatsTable)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read crop statistics row from %s", path)
		}

		mean, err := strconv.ParseFloat(record[meanIdx], 64)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"invalid yield_mean_crop %q for crop %q", record[meanIdx], record[cropIdx])
		}
		std, err := strconv.ParseFloat(record[stdIdx], 64)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidInput,
				"invalid yield_std_crop %q for crop %q", record[stdIdx], record[cropIdx])
		}

		table[record[cropIdx]] = CropStats{Mean: mean, Std: std}
	}

	return table, nil
}

// Lookup returns the statistics for a crop. A zero or negative std is
// replaced with 1.0 so the back-transform degenerates to a mean shift
// instead of collapsing the prediction.
func (t StatsTable) Lookup(crop string) (CropStats, bool) {
	stats, ok := t[crop]
	if !ok {
		return CropStats{}, false
	}
	if stats.Std <= 0 {
		stats.Std = 1.0
	}
	return stats, true
}
