package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	LocalGroup            string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Draft is a pending content change awaiting editorial review. Payload holds
// the full frontmatter and body so nothing is lost between submission and
// approval. ImageKey points at object storage when the change carries an
// image.
type Draft struct {
	ID          string
	AuthorID    string
	AuthorName  string
	ContentType string
	Slug        string
	Title       string
	Action      string
	Status      string
	TargetGroup string
	Payload     map[string]any
	ImageKey    string
	ReviewedBy  string
	ReviewNote  string
	ReviewedAt  *time.Time
	CommitSHA   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Draft statuses.
const (
	DraftPending   = "pending"
	DraftApproved  = "approved"
	DraftRejected  = "rejected"
	DraftPublished = "published"
)

// AuditEntry records who did what to which content item, including review
// decisions and publish outcomes.
type AuditEntry struct {
	ID          int64
	ActorID     string
	ActorName   string
	Action      string
	ContentType string
	Slug        string
	DraftID     *string
	CommitSHA   string
	Detail      map[string]any
	CreatedAt   time.Time
}
