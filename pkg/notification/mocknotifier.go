package notification

// MockNotifier captures notifications instead of delivering them. Tests
// inspect SentNotifications to verify routing and template resolution.
type MockNotifier struct {
	SentNotifications []NotificationData
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}
