package relay

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/garudnet/relaybot/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Token-shape validation bounds. A cheap syntactic check only; tokens are
// never validated live against the messaging platform.
const (
	minTokenLength = 30
	tokenDelimiter = ":"
)

// Clone dialogue reply texts.
const (
	clonePromptText = "Please send me the bot token you want to register for 'cloning'.\n" +
		"This token will be stored for future reference. To cancel, send /cancel."
	cloneUnavailableText = "The registration store is not available right now. Cannot use /clone."
	cloneInvalidText     = "That doesn't look like a valid bot token. " +
		"Please send a correct token or /cancel."
	cloneSuccessText = "✅ Bot token registered successfully!\n\n" +
		"Note: this registration stores your token for future reference. " +
		"It does NOT launch a new bot instance on this server."
	cloneFailureText = "An error occurred while trying to register your token. Please try again later."
	cloneCancelText  = "Cloning process cancelled."
)

// CloneDialogue runs the two-state token-registration conversation
// (Idle → AwaitingToken → Idle) and persists completed registrations.
type CloneDialogue struct {
	db       *gorm.DB
	sessions *Sessions
}

// CloneDialogueOpts holds parameters for creating a CloneDialogue.
type CloneDialogueOpts struct {
	DB       *gorm.DB
	Sessions *Sessions
}

// NewCloneDialogue creates a CloneDialogue.
func NewCloneDialogue(opts CloneDialogueOpts) (*CloneDialogue, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("relay: clone dialogue: db is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: clone dialogue: sessions is required")
	}
	return &CloneDialogue{db: opts.DB, sessions: opts.Sessions}, nil
}

// Available reports whether the persistence backend is reachable.
func (c *CloneDialogue) Available() bool {
	sqlDB, err := c.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// Begin handles /clone: transitions Idle → AwaitingToken if the store is
// reachable, otherwise stays Idle and reports unavailability.
func (c *CloneDialogue) Begin(userID string) string {
	if !c.Available() {
		log.Printf("relay: clone: store unreachable, refusing dialogue for user %s", userID)
		return cloneUnavailableText
	}
	c.sessions.SetDialogue(userID, DialogueAwaitingToken)
	return clonePromptText
}

// Cancel handles /cancel from AwaitingToken: back to Idle, no record created.
func (c *CloneDialogue) Cancel(userID string) string {
	c.sessions.SetDialogue(userID, DialogueIdle)
	return cloneCancelText
}

// SubmitToken handles a plain-text message while AwaitingToken. A token of
// valid shape is persisted as a CloneRecord in a single all-or-nothing write
// and the dialogue ends; an invalid token re-prompts without advancing.
// Persistence failure also ends the dialogue; no partial record exists.
func (c *CloneDialogue) SubmitToken(userID, userName, text string) string {
	token := strings.TrimSpace(text)
	if !ValidTokenShape(token) {
		return cloneInvalidText
	}

	rec := models.CloneRecord{
		ID:               uuid.NewString(),
		OwnerUserID:      userID,
		OwnerDisplayName: userName,
		Token:            token,
		RegisteredAt:     time.Now(),
	}
	if err := c.db.Create(&rec).Error; err != nil {
		log.Printf("relay: clone: store token for user %s: %v", userID, err)
		c.sessions.SetDialogue(userID, DialogueIdle)
		return cloneFailureText
	}

	log.Printf("relay: clone: user %s (%s) registered a bot token", userName, userID)
	c.sessions.SetDialogue(userID, DialogueIdle)
	return cloneSuccessText
}

// Records returns all persisted clone registrations.
func (c *CloneDialogue) Records() ([]models.CloneRecord, error) {
	var recs []models.CloneRecord
	if err := c.db.Order("registered_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("relay: clone: list records: %w", err)
	}
	return recs, nil
}

// ValidTokenShape reports whether text is plausibly a bot token: longer than
// the minimum threshold and containing the delimiter.
func ValidTokenShape(token string) bool {
	return len(token) > minTokenLength && strings.Contains(token, tokenDelimiter)
}
