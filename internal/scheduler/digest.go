// Package scheduler runs periodic compliance sweeps.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"taxdesk/internal/compliance"
	"taxdesk/pkg/logger"
)

// DashboardSource computes every client's report.
type DashboardSource interface {
	Dashboard(ctx context.Context) ([]*compliance.Report, error)
}

// Sender delivers the digest. Implemented by pkg/mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// DigestItem is one CRITICAL or HIGH alert of one client.
type DigestItem struct {
	ClientName string
	Status     compliance.Status
	Score      int
	Alert      compliance.Alert
}

// Scheduler mails a digest of urgent alerts on a fixed interval.
type Scheduler struct {
	source     DashboardSource
	sender     Sender
	recipients []string
	interval   time.Duration
	logger     logger.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(source DashboardSource, sender Sender, recipients []string, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		source:     source,
		sender:     sender,
		recipients: recipients,
		interval:   interval,
		logger:     log,
	}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval/2)
				if err := s.RunOnce(ctx); err != nil {
					s.logger.Error("Compliance digest failed", map[string]interface{}{"error": err.Error()})
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
	s.logger.Info("Compliance digest scheduler started", map[string]interface{}{"interval": s.interval.String()})
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// RunOnce computes the dashboard and sends the digest when something is urgent.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	reports, err := s.source.Dashboard(ctx)
	if err != nil {
		return fmt.Errorf("build dashboard: %w", err)
	}
	items := Collect(reports)

	if len(items) == 0 {
		s.logger.Info("Compliance digest skipped", map[string]interface{}{"clients": len(reports)})
		return nil
	}
	if len(s.recipients) == 0 {
		s.logger.Warn("Compliance digest has no recipients", map[string]interface{}{"alerts": len(items)})
		return nil
	}

	body, err := Render(items)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Compliance digest: %d urgent alerts", len(items))
	if err := s.sender.Send(ctx, s.recipients, subject, body); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	s.logger.Info("Compliance digest sent", map[string]interface{}{
		"clients":    len(reports),
		"alerts":     len(items),
		"recipients": len(s.recipients),
	})
	return nil
}

// Collect keeps CRITICAL and HIGH alerts, in dashboard order.
func Collect(reports []*compliance.Report) []DigestItem {
	var items []DigestItem
	for _, r := range reports {
		for _, a := range r.Alerts {
			if a.Severity != compliance.SeverityCritical && a.Severity != compliance.SeverityHigh {
				continue
			}
			items = append(items, DigestItem{ClientName: r.ClientName, Status: r.Status, Score: r.ComplianceScore, Alert: a})
		}
	}
	return items
}

var digestTemplate = template.Must(template.New("digest").Parse(`<h2>Compliance digest</h2>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Client</th><th>Score</th><th>Severity</th><th>Alert</th><th>Date</th></tr>
{{range .}}<tr><td>{{.ClientName}}</td><td>{{.Score}}</td><td>{{.Alert.Severity}}</td><td>{{.Alert.Message}}</td><td>{{with .Alert.DueDate}}{{.}}{{else}}{{with .Alert.ExpiryDate}}{{.}}{{end}}{{end}}</td></tr>
{{end}}</table>
`))

// Render builds the HTML digest body. Client names are escaped.
func Render(items []DigestItem) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, items); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}
