package dto

// NotificationQuery filters the caller's inbox.
type NotificationQuery struct {
	UnreadOnly bool `form:"unreadOnly"`
	Page       int  `form:"page"`
	PageSize   int  `form:"pageSize"`
}
