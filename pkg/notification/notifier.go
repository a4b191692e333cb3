// Package notification delivers security alerts to account holders
package notification

// NotificationSystem represents a delivery channel (e.g. email)
type NotificationSystem string

// NoticeType identifies a kind of notice sent to users
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"

	TwoFaEnabledNotice  NoticeType = "2fa_enabled"
	TwoFaDisabledNotice NoticeType = "2fa_disabled"
)

// NoticeTemplate holds the subject and body templates for a notice. Text and
// Html are Go html/template sources; either may be empty.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// NotificationData carries the recipient and template data for one notice
type NotificationData struct {
	To   string
	Data map[string]string
}

// Notifier sends a rendered notice over one delivery channel
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
