// Package catalogload implements the external collaborator from spec.md
// section 4.5: loading the station/target/Vs30-grid CSV files into the
// core's immutable catalog.Catalog contract. Only the lookup contract is
// specified; the file formats here are this implementation's own choice.
package catalogload

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/geo"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// Load reads the three static catalog files and builds a catalog.Static.
// Any read/parse failure here is fatal at startup, per spec.md section 7.
func Load(stationPath, targetPath, vs30GridPath string) (*catalog.Static, error) {
	stations, err := loadStations(stationPath)
	if err != nil {
		return nil, fmt.Errorf("load station catalog: %w", err)
	}

	targets, err := loadTargets(targetPath)
	if err != nil {
		return nil, fmt.Errorf("load target list: %w", err)
	}

	var cells []geo.GridCell
	if vs30GridPath != "" {
		cells, err = loadVs30Grid(vs30GridPath)
		if err != nil {
			return nil, fmt.Errorf("load vs30 grid: %w", err)
		}
	}

	return catalog.New(stations, targets, cells), nil
}

// loadStations expects columns: station_id,latitude,longitude,elevation_m,vs30,site_class
// where vs30 may be empty (not yet known for that station).
func loadStations(path string) ([]types.StationMeta, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	out := make([]types.StationMeta, 0, len(records))
	for _, rec := range records {
		if len(rec) < 6 {
			continue
		}
		lat, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("station %s: bad latitude: %w", rec[0], err)
		}
		lon, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("station %s: bad longitude: %w", rec[0], err)
		}
		elev, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("station %s: bad elevation: %w", rec[0], err)
		}

		var vs30 *float64
		if rec[4] != "" {
			v, err := strconv.ParseFloat(rec[4], 64)
			if err != nil {
				return nil, fmt.Errorf("station %s: bad vs30: %w", rec[0], err)
			}
			vs30 = &v
		}

		out = append(out, types.StationMeta{
			StationID: rec[0],
			Latitude:  lat,
			Longitude: lon,
			Elevation: elev,
			Vs30:      vs30,
			SiteClass: rec[5],
		})
	}
	return out, nil
}

// loadTargets expects columns: target_name,county,latitude,longitude,vs30
func loadTargets(path string) ([]types.Target, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	out := make([]types.Target, 0, len(records))
	for _, rec := range records {
		if len(rec) < 5 {
			continue
		}
		lat, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("target %s: bad latitude: %w", rec[0], err)
		}
		lon, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("target %s: bad longitude: %w", rec[0], err)
		}
		vs30, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, fmt.Errorf("target %s: bad vs30: %w", rec[0], err)
		}

		out = append(out, types.Target{
			Name:      rec[0],
			County:    rec[1],
			Latitude:  lat,
			Longitude: lon,
			Vs30:      vs30,
		})
	}
	return out, nil
}

// loadVs30Grid expects columns: latitude,longitude,vs30
func loadVs30Grid(path string) ([]geo.GridCell, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	out := make([]geo.GridCell, 0, len(records))
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		lat, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad grid latitude: %w", err)
		}
		lon, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad grid longitude: %w", err)
		}
		vs30, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad grid vs30: %w", err)
		}
		out = append(out, geo.GridCell{Latitude: lat, Longitude: lon, Vs30: vs30})
	}
	return out, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		// Skip a header row if the last cell is non-numeric.
		if _, err := strconv.ParseFloat(records[0][len(records[0])-1], 64); err != nil {
			records = records[1:]
		}
	}
	return records, nil
}
