// ABOUTME: Tests for the notifier jobs and schedule arithmetic
// ABOUTME: Uses MockStore with a recording mailer and a fixed clock

package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/store"
)

type recordingMailer struct {
	mu    sync.Mutex
	mails []*Mail
	fail  map[string]bool // subject -> fail
}

func (r *recordingMailer) Send(_ context.Context, m *Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[m.Subject] {
		return errors.New("smtp unavailable")
	}
	r.mails = append(r.mails, m)
	return nil
}

func (r *recordingMailer) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.mails {
		out = append(out, m.Subject)
	}
	return out
}

var testNow = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) *store.MockStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMockStore()

	for _, u := range []*store.User{
		{ID: "u-alice", Name: "Alice", Email: "alice@example.com", Role: store.RoleUser},
		{ID: "u-bob", Name: "Bob", Email: "bob@example.com", Role: store.RoleUser},
		{ID: "u-ghost", Name: "Ghost", Role: store.RoleUser},
	} {
		require.NoError(t, st.CreateUser(ctx, u))
	}
	require.NoError(t, st.CreateProject(ctx, &store.Project{
		ID: "p-launch", Title: "Launch", Status: store.ProjectActive,
		Members: []string{"u-alice", "u-bob"}, CreatedAt: testNow,
	}))
	require.NoError(t, st.CreateProject(ctx, &store.Project{
		ID: "p-empty", Title: "Empty", Status: store.ProjectActive,
		Members: []string{"u-ghost"}, CreatedAt: testNow.Add(time.Second),
	}))

	tasks := []*store.Task{
		{ID: "t-soon", Title: "Ship it", AssigneeID: "u-alice", Status: store.StatusTodo, Deadline: testNow.Add(3 * time.Hour)},
		{ID: "t-done", Title: "Finished", AssigneeID: "u-alice", Status: store.StatusDone, Deadline: testNow.Add(4 * time.Hour)},
		{ID: "t-later", Title: "Next week", AssigneeID: "u-bob", Status: store.StatusInProgress, Deadline: testNow.Add(72 * time.Hour)},
		{ID: "t-past", Title: "Overdue", AssigneeID: "u-bob", Status: store.StatusTodo, Deadline: testNow.Add(-time.Hour)},
		{ID: "t-ghost", Title: "Nobody reads", AssigneeID: "u-ghost", Status: store.StatusTodo, Deadline: testNow.Add(time.Hour)},
	}
	for i, tk := range tasks {
		tk.ProjectID = "p-launch"
		tk.Priority = store.PriorityMedium
		tk.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.CreateTask(ctx, tk))
	}
	return st
}

func newTestNotifier(t *testing.T, st store.Store, mailer Mailer, opts ...Option) *Notifier {
	t.Helper()
	n := New(st, mailer, Schedule{Location: time.UTC, ReminderHour: 2, SummaryWeekday: time.Monday, SummaryHour: 3}, nil, opts...)
	n.now = func() time.Time { return testNow }
	return n
}

func TestSendReminders(t *testing.T) {
	mailer := &recordingMailer{}
	n := newTestNotifier(t, seed(t), mailer)

	sent, err := n.SendReminders(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.Len(t, mailer.mails, 1)
	m := mailer.mails[0]
	assert.Equal(t, []string{"alice@example.com"}, m.To)
	assert.Equal(t, "Task Reminder: Ship it", m.Subject)
	assert.Contains(t, m.Text, "2026-03-02 03:00:00 UTC")
	assert.Contains(t, m.HTML, "<strong>Ship it</strong>")
}

func TestSendReminders_NothingDue(t *testing.T) {
	mailer := &recordingMailer{}
	n := newTestNotifier(t, store.NewMockStore(), mailer)

	sent, err := n.SendReminders(t.Context())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, mailer.mails)
}

func TestSendReminders_StoreError(t *testing.T) {
	n := newTestNotifier(t, failingList{seed(t)}, &recordingMailer{})

	_, err := n.SendReminders(t.Context())
	assert.Error(t, err)
}

// failingList fails every ListTasks call.
type failingList struct{ *store.MockStore }

func (f failingList) ListTasks(context.Context, store.TaskFilter) ([]*store.Task, error) {
	return nil, errors.New("db down")
}

func TestSendSummaries(t *testing.T) {
	mailer := &recordingMailer{}
	m := metrics.New()
	n := newTestNotifier(t, seed(t), mailer, WithMetrics(m))

	sent, err := n.SendSummaries(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "project without member emails is skipped")

	require.Len(t, mailer.mails, 1)
	mail := mailer.mails[0]
	assert.Equal(t, "Weekly Project Summary: Launch", mail.Subject)
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, mail.To)
	assert.Contains(t, mail.Text, "| Total | 5 |")
	assert.Contains(t, mail.Text, "| Completed | 1 |")
	assert.Contains(t, mail.Text, "| In Progress | 1 |")
	assert.Contains(t, mail.Text, "| Todo | 3 |")
	assert.Contains(t, mail.HTML, "<table>")
}

func TestSendSummaries_MailFailureContinues(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	require.NoError(t, st.CreateProject(ctx, &store.Project{
		ID: "p-second", Title: "Second", Status: store.ProjectActive,
		Members: []string{"u-bob"}, CreatedAt: testNow.Add(2 * time.Second),
	}))
	mailer := &recordingMailer{fail: map[string]bool{"Weekly Project Summary: Launch": true}}
	n := newTestNotifier(t, st, mailer)

	sent, err := n.SendSummaries(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"Weekly Project Summary: Second"}, mailer.subjects())
}

func TestLogMailer(t *testing.T) {
	m, err := newMail([]string{"a@example.com"}, "hi", "# Hello")
	require.NoError(t, err)
	assert.Contains(t, m.HTML, "<h1>Hello</h1>")
	assert.NoError(t, NewLogMailer(nil).Send(t.Context(), m))
}

func TestNextDaily(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before hour", time.Date(2026, 3, 2, 1, 0, 0, 0, ist), time.Date(2026, 3, 2, 2, 0, 0, 0, ist)},
		{"exactly at hour", time.Date(2026, 3, 2, 2, 0, 0, 0, ist), time.Date(2026, 3, 3, 2, 0, 0, 0, ist)},
		{"after hour", time.Date(2026, 3, 2, 9, 0, 0, 0, ist), time.Date(2026, 3, 3, 2, 0, 0, 0, ist)},
		{"month end", time.Date(2026, 3, 31, 23, 0, 0, 0, ist), time.Date(2026, 4, 1, 2, 0, 0, 0, ist)},
		// 20:45 UTC on the 1st is 02:15 IST on the 2nd.
		{"utc input", time.Date(2026, 3, 1, 20, 45, 0, 0, time.UTC), time.Date(2026, 3, 3, 2, 0, 0, 0, ist)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextDaily(tt.now, 2, ist)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestNextWeekly(t *testing.T) {
	// 2026-03-02 is a Monday.
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday before", time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
		{"monday after", time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextWeekly(tt.now, time.Monday, 3, time.UTC)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	n := newTestNotifier(t, store.NewMockStore(), &recordingMailer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestNextJobs(t *testing.T) {
	monday := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		reminder, sum int
		now           time.Time
		wantAt        time.Time
		wantJobs      []string
	}{
		{"reminder first", 2, 3, monday, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), []string{jobReminder}},
		{"summary first", 4, 3, monday, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), []string{jobSummary}},
		{"same slot", 2, 2, monday, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), []string{jobReminder, jobSummary}},
		{"same hour other day", 2, 2, monday.AddDate(0, 0, 1), time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), []string{jobReminder}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(store.NewMockStore(), &recordingMailer{}, Schedule{
				Location: time.UTC, ReminderHour: tt.reminder, SummaryWeekday: time.Monday, SummaryHour: tt.sum,
			}, nil)
			at, jobs := n.nextJobs(tt.now)
			assert.True(t, at.Equal(tt.wantAt), "got %v, want %v", at, tt.wantAt)
			assert.Equal(t, tt.wantJobs, jobs)
		})
	}
}

func TestRun_SameHourRunsBothJobs(t *testing.T) {
	mailer := &recordingMailer{}
	n := New(seed(t), mailer, Schedule{Location: time.UTC, ReminderHour: 2, SummaryWeekday: time.Monday, SummaryHour: 2}, nil)

	// Clock starts just before Monday 02:00 and advances in real time.
	start := time.Now()
	base := time.Date(2026, 3, 2, 1, 59, 59, 900_000_000, time.UTC)
	n.now = func() time.Time { return base.Add(time.Since(start)) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.Eventually(t, func() bool {
		var reminder, summary bool
		for _, s := range mailer.subjects() {
			reminder = reminder || strings.HasPrefix(s, "Task Reminder: ")
			summary = summary || strings.HasPrefix(s, "Weekly Project Summary: ")
		}
		return reminder && summary
	}, 2*time.Second, 10*time.Millisecond, "got %v", mailer.subjects())
}

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()
	assert.Equal(t, 2, s.ReminderHour)
	assert.Equal(t, time.Monday, s.SummaryWeekday)
	assert.Equal(t, 3, s.SummaryHour)
	_, offset := testNow.In(s.Location).Zone()
	assert.Equal(t, 5*3600+1800, offset)
}
