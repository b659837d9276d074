// ABOUTME: Scheduled mail jobs: daily deadline reminders and weekly project summaries
// ABOUTME: Run sleeps until the next job is due; each job can also be triggered directly

package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/store"
)

const (
	jobReminder = "reminder"
	jobSummary  = "summary"
)

// reminderWindow is how far ahead the daily reminder looks.
const reminderWindow = 24 * time.Hour

// Schedule says when the jobs run.
type Schedule struct {
	Location       *time.Location
	ReminderHour   int
	SummaryWeekday time.Weekday
	SummaryHour    int
}

// DefaultSchedule runs reminders at 02:00 and summaries on Monday at 03:00, India time.
func DefaultSchedule() Schedule {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return Schedule{
		Location:       loc,
		ReminderHour:   2,
		SummaryWeekday: time.Monday,
		SummaryHour:    3,
	}
}

// Notifier mails task reminders and project summaries.
type Notifier struct {
	store    store.Store
	mailer   Mailer
	schedule Schedule
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics counts mail attempts per job and result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New creates a Notifier. Pass nil logger for default.
func New(st store.Store, mailer Mailer, schedule Schedule, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule.Location == nil {
		schedule.Location = time.UTC
	}
	n := &Notifier{
		store:    st,
		mailer:   mailer,
		schedule: schedule,
		logger:   logger.With("component", "notifier"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run executes the jobs on schedule until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		now := n.now()
		at, jobs := n.nextJobs(now)
		n.logger.Debug("next jobs scheduled", "jobs", jobs, "at", at)

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		for _, job := range jobs {
			var err error
			switch job {
			case jobReminder:
				_, err = n.SendReminders(ctx)
			case jobSummary:
				_, err = n.SendSummaries(ctx)
			}
			if err != nil && ctx.Err() == nil {
				n.logger.Error("scheduled job failed", "job", job, "error", err)
			}
		}
	}
}

// nextJobs returns the next slot after now and every job due at it. Jobs
// sharing a slot all run, reminder first.
func (n *Notifier) nextJobs(now time.Time) (time.Time, []string) {
	reminderAt := nextDaily(now, n.schedule.ReminderHour, n.schedule.Location)
	summaryAt := nextWeekly(now, n.schedule.SummaryWeekday, n.schedule.SummaryHour, n.schedule.Location)

	switch {
	case reminderAt.Equal(summaryAt):
		return reminderAt, []string{jobReminder, jobSummary}
	case summaryAt.Before(reminderAt):
		return summaryAt, []string{jobSummary}
	default:
		return reminderAt, []string{jobReminder}
	}
}

// SendReminders mails every assignee whose unfinished task is due within
// the next 24 hours, one mail per task. It returns the number of mails sent.
func (n *Notifier) SendReminders(ctx context.Context) (int, error) {
	now := n.now()
	until := now.Add(reminderWindow)
	tasks, err := n.store.ListTasks(ctx, store.TaskFilter{
		DueAfter:      &now,
		DueBefore:     &until,
		ExcludeStatus: store.StatusDone,
	})
	if err != nil {
		return 0, fmt.Errorf("listing due tasks: %w", err)
	}
	if len(tasks) == 0 {
		n.logger.Info("no tasks due within 24 hours")
		return 0, nil
	}

	users := make(map[string]*store.User)
	sent := 0
	for _, t := range tasks {
		u, err := n.user(ctx, users, t.AssigneeID)
		if err != nil {
			return sent, err
		}
		if u == nil || u.Email == "" {
			n.logger.Warn("no email for assignee", "task_id", t.ID, "assignee_id", t.AssigneeID)
			n.metrics.NotifierMail(jobReminder, "skipped")
			continue
		}

		deadline := t.Deadline.In(n.schedule.Location).Format("2006-01-02 15:04:05 MST")
		body := fmt.Sprintf("Your task **%s** is due within 24 hours.\n\nDeadline: %s\n", t.Title, deadline)
		if n.send(ctx, jobReminder, []string{u.Email}, "Task Reminder: "+t.Title, body) {
			sent++
		}
	}
	n.logger.Info("reminders sent", "due", len(tasks), "sent", sent)
	return sent, nil
}

// SendSummaries mails each project's task counts to its members.
func (n *Notifier) SendSummaries(ctx context.Context) (int, error) {
	projects, err := n.store.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing projects: %w", err)
	}

	users := make(map[string]*store.User)
	sent := 0
	for _, p := range projects {
		tasks, err := n.store.ListTasks(ctx, store.TaskFilter{ProjectID: p.ID})
		if err != nil {
			return sent, fmt.Errorf("listing tasks of project %s: %w", p.ID, err)
		}

		var to []string
		for _, id := range p.Members {
			u, err := n.user(ctx, users, id)
			if err != nil {
				return sent, err
			}
			if u != nil && u.Email != "" {
				to = append(to, u.Email)
			}
		}
		if len(to) == 0 {
			n.logger.Warn("no member emails for project", "project_id", p.ID)
			n.metrics.NotifierMail(jobSummary, "skipped")
			continue
		}

		if n.send(ctx, jobSummary, to, "Weekly Project Summary: "+p.Title, summaryBody(p, tasks)) {
			sent++
		}
	}
	n.logger.Info("summaries sent", "projects", len(projects), "sent", sent)
	return sent, nil
}

func summaryBody(p *store.Project, tasks []*store.Task) string {
	counts := make(map[store.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	b.WriteString("| Status | Tasks |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total | %d |\n", len(tasks))
	fmt.Fprintf(&b, "| Completed | %d |\n", counts[store.StatusDone])
	fmt.Fprintf(&b, "| In Progress | %d |\n", counts[store.StatusInProgress])
	fmt.Fprintf(&b, "| Todo | %d |\n", counts[store.StatusTodo])
	return b.String()
}

// send renders and delivers one mail. Failures are logged, not returned.
func (n *Notifier) send(ctx context.Context, job string, to []string, subject, markdown string) bool {
	m, err := newMail(to, subject, markdown)
	if err == nil {
		err = n.mailer.Send(ctx, m)
	}
	if err != nil {
		n.logger.Error("mail failed", "job", job, "subject", subject, "error", err)
		n.metrics.NotifierMail(job, "error")
		return false
	}
	n.metrics.NotifierMail(job, "ok")
	return true
}

// user looks up id through cache. A missing user yields nil.
func (n *Notifier) user(ctx context.Context, cache map[string]*store.User, id string) (*store.User, error) {
	if u, ok := cache[id]; ok {
		return u, nil
	}
	u, err := n.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		u, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", id, err)
	}
	cache[id] = u
	return u, nil
}
