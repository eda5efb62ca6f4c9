// Package artifacts writes a run's columnar outputs: one Parquet file per
// contract score and one per leaderboard row. Column names follow the SECOP
// published names; downstream analytical tools read these files directly, so
// the schemas are a compatibility contract.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/auditlens/auditlens/internal/domain"
)

// ScoresFile and LeaderboardFile are the artifact file names inside each
// run's directory.
const (
	ScoresFile      = "risk_scores.parquet"
	LeaderboardFile = "agency_leaderboard.parquet"
)

// Writer persists run outputs under a base directory, one subdirectory per
// run ID. Files are written to a temp name and renamed into place, so a
// reader never sees a partial file.
type Writer struct {
	dir string
}

// NewWriter creates a Writer. The base directory is created on first write.
func NewWriter(cfg domain.ArtifactsConfig) *Writer {
	dir := cfg.Dir
	if dir == "" {
		dir = "./artifacts"
	}
	return &Writer{dir: dir}
}

// Dir returns the base artifacts directory.
func (w *Writer) Dir() string {
	return w.dir
}

// scoreRow is the Parquet schema of risk_scores.parquet. The splitting score
// is optional: it is absent, not zero, for contracts whose year has no
// statutory threshold entry.
type scoreRow struct {
	ContractID   string    `parquet:"id_contrato"`
	AgencyID     string    `parquet:"codigo_entidad"`
	VendorID     string    `parquet:"codigo_proveedor"`
	Value        float64   `parquet:"valor_del_contrato"`
	StartDate    time.Time `parquet:"fecha_de_inicio_del_contrato,timestamp(millisecond)"`
	Year         int32     `parquet:"year"`
	Sector       string    `parquet:"sector"`
	Departamento string    `parquet:"departamento"`
	IsDirect     bool      `parquet:"is_direct"`
	IsModified   bool      `parquet:"is_modified"`

	ProcessAnomalyScore float64  `parquet:"process_anomaly_score"`
	SplittingScore      *float64 `parquet:"splitting_score,optional"`
	NetworkScore        float64  `parquet:"network_score"`
	CommunitySignal     float64  `parquet:"community_signal"`

	RiskScoreRaw        float64  `parquet:"risk_score_raw"`
	RiskScoreCalibrated float64  `parquet:"risk_score_calibrated"`
	Calibrated          bool     `parquet:"calibrated"`
	RiskTier            string   `parquet:"risk_tier"`
	Flags               []string `parquet:"flags,list"`
}

// leaderboardRow is the Parquet schema of agency_leaderboard.parquet.
type leaderboardRow struct {
	AgencyID     string  `parquet:"codigo_entidad"`
	AgencyName   string  `parquet:"nombre_entidad"`
	Sector       string  `parquet:"sector"`
	Departamento string  `parquet:"departamento"`
	Rank         int32   `parquet:"rank"`
	Contracts    int32   `parquet:"contracts"`
	HighCount    int32   `parquet:"high_count"`
	MediumCount  int32   `parquet:"medium_count"`
	TotalValue   float64 `parquet:"total_value"`
	ValueAtRisk  float64 `parquet:"value_at_risk"`
	MeanScore    float64 `parquet:"mean_calibrated_score"`
}

// WriteScores writes the per-contract output table for a run. Returns the
// final file path.
func (w *Writer) WriteScores(runID string, scores []*domain.RiskScore) (string, error) {
	rows := make([]scoreRow, 0, len(scores))
	for _, s := range scores {
		row := scoreRow{
			ContractID:          s.ContractID,
			AgencyID:            s.AgencyID,
			VendorID:            s.VendorID,
			Value:               s.Value,
			StartDate:           s.StartDate,
			Year:                int32(s.Year),
			Sector:              s.Sector,
			Departamento:        s.Departamento,
			IsDirect:            s.IsDirect,
			IsModified:          s.IsModified,
			ProcessAnomalyScore: s.Sub.ProcessAnomaly,
			NetworkScore:        s.Sub.Network,
			CommunitySignal:     s.Sub.Community,
			RiskScoreRaw:        s.Raw,
			RiskScoreCalibrated: s.Calibrated,
			Calibrated:          s.CalibratedApplied,
			RiskTier:            string(s.Tier),
			Flags:               s.Flags,
		}
		if s.Sub.SplittingValid {
			v := s.Sub.Splitting
			row.SplittingScore = &v
		}
		rows = append(rows, row)
	}
	return writeFile(filepath.Join(w.dir, runID), ScoresFile, rows)
}

// WriteLeaderboard writes the per-agency output table for a run. Returns the
// final file path.
func (w *Writer) WriteLeaderboard(runID string, board []*domain.AgencyLeaderboardRow) (string, error) {
	rows := make([]leaderboardRow, 0, len(board))
	for _, r := range board {
		rows = append(rows, leaderboardRow{
			AgencyID:     r.AgencyID,
			AgencyName:   r.AgencyName,
			Sector:       r.Sector,
			Departamento: r.Departamento,
			Rank:         int32(r.Rank),
			Contracts:    int32(r.Contracts),
			HighCount:    int32(r.HighTier),
			MediumCount:  int32(r.MediumTier),
			TotalValue:   r.TotalValue,
			ValueAtRisk:  r.ValueAtRisk,
			MeanScore:    r.MeanScore,
		})
	}
	return writeFile(filepath.Join(w.dir, runID), LeaderboardFile, rows)
}

// writeFile writes rows to dir/name via a temp file and rename.
func writeFile[T any](dir, name string, rows []T) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	if err := parquet.WriteFile(tmp, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return final, nil
}
