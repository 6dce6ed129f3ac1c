package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type Country struct {
	ID        int64  `json:"-"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Lang      string `json:"-"`
	CreatedAt time.Time `json:"-"`
}

type Section struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Chapter is one block of the per-country description text.
type Chapter struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

type Description struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// ContentBlock is the embedded rich-content unit shared by timeline events,
// testimonies, resistance entries and analyses.
type ContentBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type MediaItem struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type SocialLinks map[string]string

type TimelineSummary struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Image   string `json:"image,omitempty"`
}

type TimelineEvent struct {
	ID            string         `json:"id"`
	Date          string         `json:"date"`
	Year          int            `json:"year"`
	Month         int            `json:"month"`
	Title         string         `json:"title"`
	Summary       string         `json:"summary"`
	Image         string         `json:"image,omitempty"`
	Video         string         `json:"video,omitempty"`
	Paragraphs    []string       `json:"paragraphs"`
	ContentBlocks []ContentBlock `json:"contentBlocks"`
	Sources       []SourceRef    `json:"sources"`
}

// ProfileKind selects one of the three person-profile tables that share a
// shape: witnesses with testimonies, resistors with entries, analysts with
// analyses.
type ProfileKind int

const (
	KindWitness ProfileKind = iota
	KindResistor
	KindAnalyst
)

type ProfileSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type Profile struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Bio     string         `json:"bio"`
	Image   string         `json:"image,omitempty"`
	Social  SocialLinks    `json:"social"`
	Entries []ProfileEntry `json:"-"`
}

// ProfileEntry is a testimony, resistance entry or analysis hanging off a
// profile.
type ProfileEntry struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Summary       string         `json:"summary"`
	Date          string         `json:"date"`
	Paragraphs    []string       `json:"paragraphs"`
	ContentBlocks []ContentBlock `json:"contentBlocks"`
	Media         []MediaItem    `json:"media"`
}

type FototecaItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	URL         string `json:"url"`
}

type ArticleSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Author      string   `json:"author,omitempty"`
	AuthorImage string   `json:"authorImage,omitempty"`
	CoverImage  string   `json:"coverImage,omitempty"`
	Date        string   `json:"date,omitempty"`
	Abstract    string   `json:"abstract,omitempty"`
	Keywords    []string `json:"keywords"`
}

type ArticleSection struct {
	Heading    string   `json:"heading"`
	Paragraphs []string `json:"paragraphs"`
}

type Article struct {
	ID           string           `json:"id"`
	Lang         string           `json:"-"`
	Title        string           `json:"title"`
	Subtitle     string           `json:"subtitle,omitempty"`
	Author       string           `json:"author,omitempty"`
	AuthorImage  string           `json:"authorImage,omitempty"`
	CoverImage   string           `json:"coverImage,omitempty"`
	Date         string           `json:"date,omitempty"`
	Abstract     string           `json:"abstract,omitempty"`
	Keywords     []string         `json:"keywords"`
	Sections     []ArticleSection `json:"sections"`
	Bibliography []string         `json:"bibliography"`
}

type Term struct {
	ID           string      `json:"id"`
	Lang         string      `json:"-"`
	Term         string      `json:"term"`
	Definition   string      `json:"definition"`
	Category     string      `json:"category"`
	RelatedTerms []string    `json:"relatedTerms"`
	Sources      []SourceRef `json:"sources"`
}

// TermHeading is the slim projection used to build the alphabetical index.
type TermHeading struct {
	Term     string
	Category string
}

// PendingChange is a staged mutation awaiting admin review. Everything except
// Status is immutable after staging; the record is never deleted.
type PendingChange struct {
	ChangeID    string          `json:"changeId"`
	Type        string          `json:"type"`
	Section     string          `json:"section"`
	CountryCode string          `json:"countryCode,omitempty"`
	Lang        string          `json:"lang"`
	ItemID      string          `json:"itemId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	AuthorID    string          `json:"authorId"`
	AuthorName  string          `json:"authorName"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

const (
	ChangePending  = "pending"
	ChangeApproved = "approved"
	ChangeRejected = "rejected"
)

// Capabilities are the per-user action grants stored as an embedded JSON
// column on cms_users.
type Capabilities struct {
	CanCreate        bool `json:"canCreate"`
	CanEdit          bool `json:"canEdit"`
	CanDelete        bool `json:"canDelete"`
	RequiresApproval bool `json:"requiresApproval"`
}

type User struct {
	ID                 string
	Username           string
	PasswordHash       string
	Role               string
	Name               string
	Countries          []string
	Permissions        Capabilities
	MustChangePassword bool
	CreatedAt          time.Time
}

// decodeDoc parses an embedded JSON column into its typed shape. Malformed
// stored JSON fails here, at the store boundary, not deep in a handler.
func decodeDoc[T any](raw []byte, dst *T, what string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s column: %w", what, err)
	}
	return nil
}

func encodeDoc(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document column: %w", err)
	}
	return raw, nil
}
