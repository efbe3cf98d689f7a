package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xuri/excelize/v2"

	"github.com/forgepath/forgepath/internal/progress"
)

// handleExport serves the caller's progress as an xlsx workbook. Admins may
// export any user with ?user=<id>.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	userID := id.UserID
	if requested := r.URL.Query().Get("user"); requested != "" && requested != id.UserID {
		if !id.Admin {
			writeError(w, http.StatusForbidden, "only admins may export other users")
			return
		}
		userID = requested
	}

	results, err := s.evaluate(r.Context(), userID)
	if err != nil {
		slog.Error("progress evaluation failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate progress")
		return
	}

	f, err := buildWorkbook(userID, results)
	if err != nil {
		slog.Error("building export workbook failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "progress-"+userID+".xlsx"))
	if err := f.Write(w); err != nil {
		slog.Error("writing export failed", "user_id", userID, "error", err)
	}
}

func buildWorkbook(userID string, results []progress.PhaseProgress) (*excelize.File, error) {
	f := excelize.NewFile()

	const overview = "Overview"
	if err := f.SetSheetName("Sheet1", overview); err != nil {
		return nil, err
	}

	header := []any{"Phase", "Status", "Percentage", "Unlocked", "Requirements Validated", "Requirements Total"}
	if err := setRow(f, overview, 1, header); err != nil {
		return nil, err
	}
	for i, pp := range results {
		row := []any{pp.Slug, string(pp.Status), pp.Percentage, pp.Unlocked, pp.RequirementsValidated, pp.RequirementsTotal}
		if err := setRow(f, overview, i+2, row); err != nil {
			return nil, err
		}
	}

	completed, total, pct := progress.Overall(results)
	summaryRow := len(results) + 3
	if err := setRow(f, overview, summaryRow, []any{"Overall", fmt.Sprintf("%d/%d phases", completed, total), pct}); err != nil {
		return nil, err
	}

	const topics = "Topics"
	if _, err := f.NewSheet(topics); err != nil {
		return nil, err
	}
	topicHeader := []any{"Phase", "Topic", "Steps Done", "Steps Total", "Questions Passed", "Questions Total", "Percentage", "Status", "Unlocked"}
	if err := setRow(f, topics, 1, topicHeader); err != nil {
		return nil, err
	}
	rowNum := 2
	for _, pp := range results {
		for _, tp := range pp.Topics {
			row := []any{pp.Slug, tp.TopicID, tp.StepsCompleted, tp.StepsTotal, tp.QuestionsPassed, tp.QuestionsTotal, tp.Percentage, string(tp.Status), tp.Unlocked}
			if err := setRow(f, topics, rowNum, row); err != nil {
				return nil, err
			}
			rowNum++
		}
	}

	return f, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
