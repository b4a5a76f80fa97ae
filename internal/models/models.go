package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses. Transitions are one-way:
// PENDING -> RUNNING -> COMPLETED or FAILED.
const (
	TaskStatusPending   = "PENDING"
	TaskStatusRunning   = "RUNNING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusFailed    = "FAILED"
)

// Job outcome statuses.
const (
	JobStatusSuccess = "SUCCESS"
	JobStatusFailed  = "FAILED"
)

// Known sync job types.
const (
	JobTypeCatalogSync         = "CATALOG_SYNC"
	JobTypeSalesSync           = "SALES_SYNC"
	JobTypeTCGPlayerDirectSync = "TCGPLAYER_DIRECT_SYNC"
)

// MaxTaskHistory bounds the persisted task list; oldest entries are
// dropped first.
const MaxTaskHistory = 500

// SyncOptions carries per-run tuning for an executor.
type SyncOptions struct {
	PageLimit int `json:"pageLimit,omitempty"`
	CardLimit int `json:"cardLimit,omitempty"`
}

// SyncTaskRecord is a one-shot background work item.
type SyncTaskRecord struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Status        string       `json:"status"`
	RequestedBy   string       `json:"requestedBy,omitempty"`
	Options       *SyncOptions `json:"options,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
	ResultSummary string       `json:"resultSummary,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// SyncJobRecord is a recurring background work definition.
type SyncJobRecord struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Name            string       `json:"name"`
	Enabled         bool         `json:"enabled"`
	IntervalMinutes int          `json:"intervalMinutes"`
	NextRunAt       time.Time    `json:"nextRunAt"`
	Running         bool         `json:"running"`
	Options         *SyncOptions `json:"options,omitempty"`
	LastRunAt       *time.Time   `json:"lastRunAt,omitempty"`
	LastSuccessAt   *time.Time   `json:"lastSuccessAt,omitempty"`
	LastStatus      string       `json:"lastStatus,omitempty"`
	LastError       string       `json:"lastError,omitempty"`
}

// SyncState is the singleton sync bookkeeping substructure. It is
// mutated only as a side effect of tick and job execution.
type SyncState struct {
	LastCatalogSyncAt   *time.Time `json:"lastCatalogSyncAt,omitempty"`
	LastCatalogProvider string     `json:"lastCatalogProvider,omitempty"`
	LastSalesSyncAt     *time.Time `json:"lastSalesSyncAt,omitempty"`
	LastSalesProviders  []string   `json:"lastSalesProviders,omitempty"`
	LastWorkerRunAt     *time.Time `json:"lastWorkerRunAt,omitempty"`
	SchedulerStartedAt  *time.Time `json:"schedulerStartedAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

// User roles.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type UserRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type SetRecord struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Series       string     `json:"series,omitempty"`
	ReleaseDate  string     `json:"releaseDate,omitempty"`
	PrintedTotal int        `json:"printedTotal,omitempty"`
	Total        int        `json:"total,omitempty"`
	SymbolURL    string     `json:"symbolUrl,omitempty"`
	LogoURL      string     `json:"logoUrl,omitempty"`
	Source       string     `json:"source,omitempty"`
	ExternalID   string     `json:"externalId,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

type CardRecord struct {
	ID            string     `json:"id"`
	SetID         string     `json:"setId"`
	Name          string     `json:"name"`
	CardNumber    string     `json:"cardNumber"`
	Rarity        string     `json:"rarity,omitempty"`
	ImageURL      string     `json:"imageUrl,omitempty"`
	ImageLargeURL string     `json:"imageLargeUrl,omitempty"`
	Supertype     string     `json:"supertype,omitempty"`
	Subtypes      []string   `json:"subtypes,omitempty"`
	TCGPlayerURL  string     `json:"tcgplayerUrl,omitempty"`
	CardmarketURL string     `json:"cardmarketUrl,omitempty"`
	Source        string     `json:"source,omitempty"`
	ExternalID    string     `json:"externalId,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
}

type SaleRecord struct {
	ID          string    `json:"id"`
	CardID      string    `json:"cardId"`
	Condition   string    `json:"condition"`
	PriceUSD    float64   `json:"priceUsd"`
	SaleDate    time.Time `json:"saleDate"`
	Source      string    `json:"source,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	ProviderRef string    `json:"providerRef,omitempty"`
	Currency    string    `json:"currency,omitempty"`
}

type CollectionItem struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	CardID   string `json:"cardId"`
	Quantity int    `json:"quantity,omitempty"`
}

type WishlistItem struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	CardID string `json:"cardId"`
}

type AuthToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Email      string     `json:"email,omitempty"`
	TokenHash  string     `json:"tokenHash"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Document is the entire persisted state. It is owned exclusively by
// the document store; everything else reaches it through the store's
// mutation primitive.
type Document struct {
	Version                 int              `json:"version"`
	Users                   []UserRecord     `json:"users"`
	Sets                    []SetRecord      `json:"sets"`
	Cards                   []CardRecord     `json:"cards"`
	Sales                   []SaleRecord     `json:"sales"`
	SyncJobs                []SyncJobRecord  `json:"syncJobs"`
	SyncTasks               []SyncTaskRecord `json:"syncTasks"`
	CollectionItems         []CollectionItem `json:"collectionItems"`
	WishlistItems           []WishlistItem   `json:"wishlistItems"`
	EmailVerificationTokens []AuthToken      `json:"emailVerificationTokens"`
	PasswordResetTokens     []AuthToken      `json:"passwordResetTokens"`
	Sync                    SyncState        `json:"sync"`
}

// FindTask returns a pointer into the document's task list, or nil.
func (d *Document) FindTask(id string) *SyncTaskRecord {
	for i := range d.SyncTasks {
		if d.SyncTasks[i].ID == id {
			return &d.SyncTasks[i]
		}
	}
	return nil
}

// FindJob returns a pointer into the document's job list, or nil.
func (d *Document) FindJob(id string) *SyncJobRecord {
	for i := range d.SyncJobs {
		if d.SyncJobs[i].ID == id {
			return &d.SyncJobs[i]
		}
	}
	return nil
}

// TrimTaskHistory keeps only the newest MaxTaskHistory tasks by list
// position (tasks are appended in creation order).
func (d *Document) TrimTaskHistory() {
	if len(d.SyncTasks) > MaxTaskHistory {
		d.SyncTasks = append([]SyncTaskRecord(nil), d.SyncTasks[len(d.SyncTasks)-MaxTaskHistory:]...)
	}
}

// NextID builds a prefixed unique identifier such as "task_<uuid>".
func NextID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
