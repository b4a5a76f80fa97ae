// Package export renders sync state as an Excel workbook.
package export

import (
	"fmt"
	"time"

	"gemindex/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	jobsSheet  = "Jobs"
	tasksSheet = "Tasks"
)

// Workbook builds a two-sheet workbook: recurring jobs and the task
// history, newest task first. The caller owns closing the file.
func Workbook(doc *models.Document) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeJobs(f, doc.SyncJobs); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeTasks(f, doc.SyncTasks); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeJobs(f *excelize.File, jobs []models.SyncJobRecord) error {
	index, err := f.NewSheet(jobsSheet)
	if err != nil {
		return fmt.Errorf("create jobs sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Type", "Name", "Enabled", "Interval (min)",
		"Next run", "Running", "Last run", "Last success", "Last status", "Last error",
	}
	writeHeaderRow(f, jobsSheet, headers)

	for i, job := range jobs {
		row := i + 2
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("A%d", row), job.ID)
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("B%d", row), job.Type)
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("C%d", row), job.Name)
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("D%d", row), boolCell(job.Enabled))
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("E%d", row), job.IntervalMinutes)
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("F%d", row), formatTime(&job.NextRunAt))
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("G%d", row), boolCell(job.Running))
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("H%d", row), formatTime(job.LastRunAt))
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("I%d", row), formatTime(job.LastSuccessAt))
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("J%d", row), job.LastStatus)
		_ = f.SetCellValue(jobsSheet, fmt.Sprintf("K%d", row), job.LastError)
	}

	_ = f.SetColWidth(jobsSheet, "A", "C", 28)
	_ = f.SetColWidth(jobsSheet, "D", "K", 20)
	return nil
}

func writeTasks(f *excelize.File, tasks []models.SyncTaskRecord) error {
	if _, err := f.NewSheet(tasksSheet); err != nil {
		return fmt.Errorf("create tasks sheet: %w", err)
	}

	headers := []string{
		"ID", "Type", "Status", "Requested by",
		"Created", "Started", "Finished", "Summary", "Error",
	}
	writeHeaderRow(f, tasksSheet, headers)

	// Newest first, same ordering as the status endpoint.
	for i := range tasks {
		task := tasks[len(tasks)-1-i]
		row := i + 2
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("A%d", row), task.ID)
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("B%d", row), task.Type)
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("C%d", row), task.Status)
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("D%d", row), task.RequestedBy)
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("E%d", row), formatTime(&task.CreatedAt))
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("F%d", row), formatTime(task.StartedAt))
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("G%d", row), formatTime(task.FinishedAt))
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("H%d", row), task.ResultSummary)
		_ = f.SetCellValue(tasksSheet, fmt.Sprintf("I%d", row), task.Error)
	}

	_ = f.SetColWidth(tasksSheet, "A", "B", 28)
	_ = f.SetColWidth(tasksSheet, "C", "G", 20)
	_ = f.SetColWidth(tasksSheet, "H", "I", 40)
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func boolCell(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
