// Package export renders compliance reports as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxdesk/internal/compliance"
	"taxdesk/pkg/logger"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

const (
	SheetCompliance = "Compliance"
	SheetAlerts     = "Alerts"
)

var (
	complianceHeaders = []string{"Client", "Status", "Score", "Missing Documents", "Next VAT Due", "Next CT Due"}
	alertHeaders      = []string{"Client", "Type", "Severity", "Message", "Date", "Days"}
)

// DashboardSource computes every client's report, worst first.
type DashboardSource interface {
	Dashboard(ctx context.Context) ([]*compliance.Report, error)
}

type Service struct {
	source DashboardSource
	logger logger.Logger
}

func NewService(source DashboardSource, log logger.Logger) *Service {
	return &Service{source: source, logger: log}
}

// ExportComplianceXLSX returns the dashboard as workbook bytes.
func (s *Service) ExportComplianceXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	reports, err := s.source.Dashboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("build dashboard: %w", err)
	}

	var summary, alerts [][]interface{}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary = complianceRows(reports)
		return nil
	})
	g.Go(func() error {
		alerts = alertRows(reports)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCompliance); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetAlerts); err != nil {
		return nil, err
	}
	if err := writeSheet(f, SheetCompliance, complianceHeaders, summary); err != nil {
		return nil, err
	}
	if err := writeSheet(f, SheetAlerts, alertHeaders, alerts); err != nil {
		return nil, err
	}

	_ = f.SetColWidth(SheetCompliance, "A", "A", 36)
	_ = f.SetColWidth(SheetCompliance, "D", "D", 48)
	_ = f.SetColWidth(SheetCompliance, "E", "F", 14)
	_ = f.SetColWidth(SheetAlerts, "A", "A", 36)
	_ = f.SetColWidth(SheetAlerts, "B", "C", 22)
	_ = f.SetColWidth(SheetAlerts, "D", "D", 72)
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("Compliance export built", map[string]interface{}{
		"clients":     len(summary),
		"alerts":      len(alerts),
		"bytes":       buf.Len(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	head := make([]interface{}, len(headers))
	for i, h := range headers {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, bold)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func complianceRows(reports []*compliance.Report) [][]interface{} {
	rows := make([][]interface{}, 0, len(reports))
	for _, r := range reports {
		missing := make([]string, len(r.MissingDocuments))
		for i, c := range r.MissingDocuments {
			missing[i] = string(c)
		}
		vat, ct := "", ""
		if r.NextVATDue != nil {
			vat = r.NextVATDue.SubmissionDate.String()
		}
		if r.NextCorporateTaxDue != nil {
			ct = r.NextCorporateTaxDue.DueDate.String()
		}
		rows = append(rows, []interface{}{
			r.ClientName, string(r.Status), r.ComplianceScore, strings.Join(missing, ", "), vat, ct,
		})
	}
	return rows
}

func alertRows(reports []*compliance.Report) [][]interface{} {
	var rows [][]interface{}
	for _, r := range reports {
		for _, a := range r.Alerts {
			date := ""
			switch {
			case a.DueDate != nil:
				date = a.DueDate.String()
			case a.ExpiryDate != nil:
				date = a.ExpiryDate.String()
			}
			var days interface{} = ""
			switch {
			case a.DaysUntilDue != nil:
				days = *a.DaysUntilDue
			case a.DaysOverdue != nil:
				days = -*a.DaysOverdue
			}
			rows = append(rows, []interface{}{r.ClientName, string(a.Type), string(a.Severity), a.Message, date, days})
		}
	}
	return rows
}
