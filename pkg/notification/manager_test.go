package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotificationManager(t *testing.T) {
	nm := NewNotificationManager()
	require.NotNil(t, nm)
	assert.NotNil(t, nm.notifiers)
	assert.NotNil(t, nm.notificationRegistry)
}

func TestRegisterNotification(t *testing.T) {
	nm := NewNotificationManager()

	tests := []struct {
		name        string
		noticeType  NoticeType
		system      NotificationSystem
		template    NoticeTemplate
		shouldError bool
	}{
		{
			name:       "valid registration with both Text and Html",
			noticeType: TwoFaEnabledNotice,
			system:     EmailSystem,
			template:   NoticeTemplate{Subject: "Alert", Text: "body", Html: "<p>body</p>"},
		},
		{
			name:       "valid registration with Text only",
			noticeType: TwoFaDisabledNotice,
			system:     EmailSystem,
			template:   NoticeTemplate{Subject: "Alert", Text: "body"},
		},
		{
			name:        "empty notice type",
			noticeType:  "",
			system:      EmailSystem,
			template:    NoticeTemplate{Text: "body"},
			shouldError: true,
		},
		{
			name:        "empty system",
			noticeType:  TwoFaEnabledNotice,
			system:      "",
			template:    NoticeTemplate{Text: "body"},
			shouldError: true,
		},
		{
			name:        "template with no body",
			noticeType:  TwoFaEnabledNotice,
			system:      EmailSystem,
			template:    NoticeTemplate{Subject: "Alert"},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := nm.RegisterNotification(tt.noticeType, tt.system, tt.template)
			if tt.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSend(t *testing.T) {
	mock := &MockNotifier{}
	nm, err := NewNotificationManagerWithOptions(WithDefaultTemplates())
	require.NoError(t, err)
	nm.RegisterNotifier(EmailSystem, mock)

	err = nm.Send(TwoFaEnabledNotice, EmailSystem, NotificationData{
		To:   "user@example.com",
		Data: map[string]string{"Time": "2026-01-02T15:04:05Z"},
	})
	require.NoError(t, err)
	require.Len(t, mock.SentNotifications, 1)
	assert.Equal(t, "user@example.com", mock.SentNotifications[0].To)
}

func TestSend_UnregisteredNoticeType(t *testing.T) {
	nm := NewNotificationManager()
	nm.RegisterNotifier(EmailSystem, &MockNotifier{})

	err := nm.Send(TwoFaEnabledNotice, EmailSystem, NotificationData{To: "user@example.com"})
	assert.Error(t, err)
}

func TestSend_NoNotifierForSystem(t *testing.T) {
	nm, err := NewNotificationManagerWithOptions(WithDefaultTemplates())
	require.NoError(t, err)

	err = nm.Send(TwoFaEnabledNotice, EmailSystem, NotificationData{To: "user@example.com"})
	assert.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	body, err := renderTemplate("text", "Enabled at {{.Time}}", map[string]string{"Time": "noon"})
	require.NoError(t, err)
	assert.Equal(t, "Enabled at noon", body)

	body, err = renderTemplate("text", "", nil)
	require.NoError(t, err)
	assert.Empty(t, body)

	_, err = renderTemplate("text", "{{.Broken", nil)
	assert.Error(t, err)
}
