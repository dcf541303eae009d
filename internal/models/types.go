package models

import (
	"time"
)

// Roles used in conversation turns
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ImageRequestTurn and ImageSentTurn are the placeholder pair remembered after an image exchange
const (
	ImageRequestTurn = "[image request] "
	ImageSentTurn    = "[image sent]"
)

// ImageResult is what an image backend hands back: either raw bytes or a URL to fetch them from
type ImageResult struct {
	Model string
	URL   string
	Data  []byte
}

// Admission is the limiter's answer for an image request that was let through
type Admission struct {
	UserID         int64
	RemainingQuota int // -1 means unlimited
	GrantedAt      time.Time
}
