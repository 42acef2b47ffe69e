package tmini

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/banshee-data/tmini/internal/monitoring"
)

// WriteScanCSV writes one scan as CSV rows with an angle/distance/intensity
// header plus the cartesian projection of each point. Invalid points (no
// return) are included so consumers can see the full angular coverage.
func WriteScanCSV(w io.Writer, scan *LaserScan) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"angle_deg", "distance_m", "intensity", "x_m", "y_m"}); err != nil {
		return err
	}

	for _, p := range scan.Points {
		x, y := p.Cartesian()
		record := []string{
			strconv.FormatFloat(p.Angle, 'f', 4, 64),
			strconv.FormatFloat(p.Distance, 'f', 4, 64),
			strconv.FormatUint(uint64(p.Intensity), 10),
			strconv.FormatFloat(x, 'f', 4, 64),
			strconv.FormatFloat(y, 'f', 4, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportScanCSV writes a scan to a CSV file at path.
func ExportScanCSV(scan *LaserScan, path string) error {
	if scan == nil || len(scan.Points) == 0 {
		return fmt.Errorf("no points to export")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteScanCSV(f, scan); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	monitoring.Logf("tmini: exported %d points to %s", len(scan.Points), path)
	return nil
}
