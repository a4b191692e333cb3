package notification

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP adds an email notifier with the provided SMTP configuration
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithTwoFaEnabledTemplate registers the security alert sent when two-factor
// authentication is turned on for an account
func WithTwoFaEnabledTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(TwoFaEnabledNotice, EmailSystem, NoticeTemplate{
			Subject: "Two-factor authentication enabled",
			Text:    "Two-factor authentication was enabled on your account at {{.Time}}. If this was not you, contact support immediately.",
			Html:    "<p>Two-factor authentication was <strong>enabled</strong> on your account at {{.Time}}.</p><p>If this was not you, contact support immediately.</p>",
		})
	}
}

// WithTwoFaDisabledTemplate registers the security alert sent when two-factor
// authentication is turned off for an account
func WithTwoFaDisabledTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(TwoFaDisabledNotice, EmailSystem, NoticeTemplate{
			Subject: "Two-factor authentication disabled",
			Text:    "Two-factor authentication was disabled on your account at {{.Time}}. If this was not you, contact support immediately.",
			Html:    "<p>Two-factor authentication was <strong>disabled</strong> on your account at {{.Time}}.</p><p>If this was not you, contact support immediately.</p>",
		})
	}
}

// WithDefaultTemplates registers all default notice templates
func WithDefaultTemplates() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		options := []NotificationManagerOption{
			WithTwoFaEnabledTemplate(),
			WithTwoFaDisabledTemplate(),
		}

		for _, opt := range options {
			if err := opt(nm); err != nil {
				return err
			}
		}

		return nil
	}
}

// NewNotificationManagerWithOptions creates a new notification manager with the provided options
func NewNotificationManagerWithOptions(opts ...NotificationManagerOption) (*NotificationManager, error) {
	notificationManager := NewNotificationManager()

	for _, opt := range opts {
		if err := opt(notificationManager); err != nil {
			return nil, err
		}
	}

	return notificationManager, nil
}
