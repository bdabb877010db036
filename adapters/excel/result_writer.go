// Package excel exports result tables and PCA scores to spreadsheets for
// the surrounding reporting tooling.
package excel

import (
	"fmt"

	"diffex/domain/core"
	"diffex/domain/model"
	"diffex/internal/pca"

	"github.com/xuri/excelize/v2"
)

// resultHeaders is the column order of the exported result sheet, matching
// the result table contract
var resultHeaders = []string{
	"feature_id", "external_name", "effect_size", "standard_error_or_rss",
	"p_value", "q_value", "mean_observed_abundance", "significance_flag",
	"test_identifier",
}

// ResultWriter writes analysis output workbooks
type ResultWriter struct {
	filePath string
}

// NewResultWriter creates a writer targeting one .xlsx file
func NewResultWriter(filePath string) *ResultWriter {
	return &ResultWriter{filePath: filePath}
}

// Write saves the result table, and optionally PCA scores, into one
// workbook. Undefined statistics become empty cells, never zeros.
func (w *ResultWriter) Write(table *model.ResultTable, pcaResult *pca.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "results"
	f.SetSheetName(f.GetSheetName(0), sheet)
	for col, header := range resultHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return core.StorageError(err, "failed to address header cell")
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return core.StorageError(err, "failed to write header row")
		}
	}
	for i, row := range table.Rows {
		values := []interface{}{
			row.FeatureID.String(),
			row.ExternalName,
			optionalCell(row.EffectSize),
			optionalCell(row.StdErrOrRSS),
			optionalCell(row.PValue),
			optionalCell(row.QValue),
			row.MeanObs,
			row.Significant,
			row.Test,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return core.StorageError(err, "failed to address result cell")
			}
			if v == nil {
				continue
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return core.StorageError(err, fmt.Sprintf("failed to write result row for feature %q", row.FeatureID))
			}
		}
	}

	if pcaResult != nil {
		if err := writePCASheet(f, pcaResult); err != nil {
			return err
		}
	}

	if err := f.SaveAs(w.filePath); err != nil {
		return core.StorageError(err, fmt.Sprintf("failed to save workbook %s", w.filePath))
	}
	return nil
}

// writePCASheet adds per-sample component scores plus a variance-explained
// footer row
func writePCASheet(f *excelize.File, result *pca.Result) error {
	sheet := "pca"
	if _, err := f.NewSheet(sheet); err != nil {
		return core.StorageError(err, "failed to create pca sheet")
	}

	headers := []string{"sample_id"}
	for _, c := range result.Components {
		headers = append(headers, fmt.Sprintf("component_%d", c))
	}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return core.StorageError(err, "failed to address pca header cell")
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return core.StorageError(err, "failed to write pca header row")
		}
	}

	for i, sampleID := range result.SampleIDs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetCellValue(sheet, cell, sampleID.String()); err != nil {
			return core.StorageError(err, "failed to write pca sample id")
		}
		for k := range result.Components {
			cell, _ := excelize.CoordinatesToCellName(k+2, i+2)
			if err := f.SetCellValue(sheet, cell, result.Scores[i][k]); err != nil {
				return core.StorageError(err, "failed to write pca score")
			}
		}
	}

	footerRow := len(result.SampleIDs) + 2
	cell, _ := excelize.CoordinatesToCellName(1, footerRow)
	if err := f.SetCellValue(sheet, cell, "percent_variance_explained"); err != nil {
		return core.StorageError(err, "failed to write pca footer")
	}
	for k := range result.Components {
		cell, _ := excelize.CoordinatesToCellName(k+2, footerRow)
		if err := f.SetCellValue(sheet, cell, 100*result.Explained[k]); err != nil {
			return core.StorageError(err, "failed to write pca variance explained")
		}
	}
	return nil
}

// optionalCell maps an undefined statistic to an empty cell
func optionalCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
