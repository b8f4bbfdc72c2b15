package types

import "time"

// Account represents one configured mailbox identity.
type Account struct {
	ID                  int64      `json:"id"`
	Email               string     `json:"email"`
	Provider            string     `json:"provider"`
	IMAPConfig          string     `json:"imap_config"` // JSON snapshot taken when the account was added
	AuthType            string     `json:"auth_type"`   // "password" or "oauth"
	Password            string     `json:"-"`
	OAuthAccessToken    string     `json:"-"`
	OAuthRefreshToken   string     `json:"-"`
	OAuthTokenExpiresAt int64      `json:"oauth_token_expires_at,omitempty"`
	LastSyncedUID       uint32     `json:"last_synced_uid"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
}

// AccountSummary is the listing view of an account.
type AccountSummary struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Provider  string `json:"provider"`
	AuthType  string `json:"auth_type"`
	CreatedAt string `json:"created_at"`
}

// Message is one stored mail item.
type Message struct {
	ID             int64     `json:"id"`
	MessageID      string    `json:"message_id"`
	AccountID      int64     `json:"account_id"`
	ThreadID       string    `json:"thread_id,omitempty"`
	ProjectID      *int64    `json:"project_id,omitempty"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	Recipients     []string  `json:"recipients"`
	Date           time.Time `json:"date"`
	BodyText       string    `json:"body_text,omitempty"`
	BodyHTML       string    `json:"body_html,omitempty"`
	HasAttachments bool      `json:"has_attachments"`
	SourceUID      uint32    `json:"source_uid"`

	// Attachments is populated for timeline views only; nil means not loaded.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment belongs to exactly one Message. Immutable once created.
type Attachment struct {
	ID          int64  `json:"id"`
	MessageID   int64  `json:"message_id"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	Filename    string `json:"filename"`
	FileType    string `json:"file_type"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
	IndexStatus string `json:"index_status"`
}

// Project is a classification bucket for related messages.
type Project struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status"` // "active" or "archived"
	IsPinned        bool     `json:"is_pinned"`
	Tags            []string `json:"tags,omitempty"`
	MessageCount    int64    `json:"message_count"`
	AttachmentCount int64    `json:"attachment_count"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Milestone is a dated marker on a project, optionally tied to one message.
// Created externally; the core only reads them.
type Milestone struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	MessageID *int64    `json:"message_id,omitempty"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
}

// ParsedMessage is the structured form of one raw RFC 822 message.
type ParsedMessage struct {
	MessageID   string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []ParsedAttachment
	InReplyTo   string
	References  []string
}

// ParsedAttachment is an attachment part extracted during parsing,
// content included.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
