package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

const (
	colorError       = "#ff0000"
	colorPublication = "#36a64f"
	colorDefault     = "#0066cc"
)

// Message is one rendered notification, ready for every channel.
type Message struct {
	Kind         enums.NotificationKind
	Subject      string
	Body         string
	Recipients   []string
	SubmissionID string
	Link         string
	SiteName     string
}

// Color is the accent used by chat channels.
func (m Message) Color() string {
	switch m.Kind {
	case enums.NotificationKindError:
		return colorError
	case enums.NotificationKindPublication:
		return colorPublication
	default:
		return colorDefault
	}
}

// Channel delivers a message somewhere. Channels never see each other's
// errors.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

type noticeCreator interface {
	Create(ctx context.Context, notice *models.AdminNotice) error
}

// NoticeChannel stores messages as admin notices.
type NoticeChannel struct {
	repo noticeCreator
}

func NewNoticeChannel(repo noticeCreator) (*NoticeChannel, error) {
	if repo == nil {
		return nil, fmt.Errorf("notice repository required")
	}
	return &NoticeChannel{repo: repo}, nil
}

func (c *NoticeChannel) Name() string { return "admin_notice" }

func (c *NoticeChannel) Deliver(ctx context.Context, msg Message) error {
	kind := enums.AdminNoticeInfo
	if msg.Kind == enums.NotificationKindError {
		kind = enums.AdminNoticeError
	}
	notice := &models.AdminNotice{
		Kind:    kind,
		Title:   msg.Subject,
		Message: msg.Body,
	}
	if id := strings.TrimSpace(msg.SubmissionID); id != "" {
		notice.SubmissionID = &id
	}
	return c.repo.Create(ctx, notice)
}
