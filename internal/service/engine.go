package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
)

// ErrEscalationSkipped marks a scheduler row that was already handled elsewhere.
var ErrEscalationSkipped = errors.New("escalation skipped")

const dateLayout = "2006-01-02"

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

// Notifier receives best-effort teacher notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, teacherID string, kind models.NotificationKind, title, message string, priority models.NotificationPriority)
}

type notice struct {
	teacherID string
	kind      models.NotificationKind
	title     string
	message   string
	priority  models.NotificationPriority
}

// outbox collects notifications inside a transaction so they are sent only after commit.
type outbox []notice

func (o *outbox) add(teacherID string, kind models.NotificationKind, priority models.NotificationPriority, title, message string) {
	if teacherID == "" {
		return
	}
	*o = append(*o, notice{teacherID: teacherID, kind: kind, title: title, message: message, priority: priority})
}

func (o outbox) flush(ctx context.Context, n Notifier) {
	if n == nil {
		return
	}
	for _, item := range o {
		n.Notify(ctx, item.teacherID, item.kind, item.title, item.message, item.priority)
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func describeLecture(l models.Lecture) string {
	return fmt.Sprintf("%s %s on %s %s-%s in %s", l.Subject, l.ClassYear, l.Date.Format(dateLayout), l.StartTime, l.EndTime, l.Room)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func internalError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
