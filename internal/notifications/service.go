package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/0xPuncker/job-scheduler/pkg/utils"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	NotifyOnFailure = "failure"
	NotifyOnAll     = "all"

	maxDetailsLen = 1500
)

type Sender interface {
	SendSlackMessage(ctx context.Context, message *SlackMessage) error
}

// NotificationService turns recorded executions into Slack job status messages.
type NotificationService struct {
	sender   Sender
	notifyOn string
}

func NewNotificationService(sender Sender, notifyOn string) *NotificationService {
	if notifyOn == "" {
		notifyOn = NotifyOnFailure
	}
	return &NotificationService{
		sender:   sender,
		notifyOn: notifyOn,
	}
}

// NotifyExecution posts a status message for exec. Successful runs are only
// reported when the service is configured with NotifyOnAll.
func (s *NotificationService) NotifyExecution(ctx context.Context, job types.Job, exec types.Execution) error {
	if exec.Success && s.notifyOn != NotifyOnAll {
		return nil
	}
	return s.sender.SendSlackMessage(ctx, formatJobNotification(job, exec))
}

func (s *NotificationService) NotifyStartup(ctx context.Context, enabledJobs, totalJobs int) error {
	message := &SlackMessage{
		Text: "🚀 Job scheduler started",
		Attachments: []Attachment{
			{
				Color: "good",
				Fields: []Field{
					{Title: "Enabled Jobs", Value: fmt.Sprintf("%d", enabledJobs), Short: true},
					{Title: "Total Jobs", Value: fmt.Sprintf("%d", totalJobs), Short: true},
				},
				Ts: time.Now().Unix(),
			},
		},
	}
	return s.sender.SendSlackMessage(ctx, message)
}

func formatJobNotification(job types.Job, exec types.Execution) *SlackMessage {
	status := "failed"
	color := "danger"
	icon := "❌"
	if exec.Success {
		status = "success"
		color = "good"
		icon = "✅"
	}

	name := job.Name
	if name == "" {
		name = job.ID
	}

	fields := []Field{
		{
			Title: "Job Name",
			Value: name,
			Short: true,
		},
		{
			Title: "Status",
			Value: cases.Title(language.English).String(status),
			Short: true,
		},
		{
			Title: "Started",
			Value: exec.StartedAt.Format(time.RFC1123),
			Short: true,
		},
		{
			Title: "Duration",
			Value: utils.FormatDuration(exec.Duration()),
			Short: true,
		},
	}

	if details := strings.TrimSpace(exec.OutputText()); details != "" {
		if len(details) > maxDetailsLen {
			cut := maxDetailsLen
			for cut > 0 && !utf8.RuneStart(details[cut]) {
				cut--
			}
			details = details[:cut] + "…"
		}
		fields = append(fields, Field{
			Title: "Output",
			Value: "```" + details + "```",
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s Job Status Update", icon),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Job: %s | Execution: %s", job.ID, exec.ID),
				Ts:     exec.EndedAt.Unix(),
			},
		},
	}
}
