package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"memoria/api/internal/authpw"
	"memoria/api/internal/gate"
	"memoria/api/internal/search"
	"memoria/api/internal/store"
	"memoria/api/internal/util"
)

// writeTarget describes one mutation for the permission gate and, when the
// decision is allow-staged, for the change envelope.
type writeTarget struct {
	section     string
	countryCode string
	lang        string
	itemID      string
	capability  gate.Capability
	payload     any
}

// decideWrite runs the gate and either clears the caller for a direct write
// (staged=false) or records the mutation as a pending change (staged=true).
// Existence checks belong to the caller and must happen before the gate so a
// permitted editor still sees 404 for a missing target, while an unpermitted
// one learns nothing either way.
func (s *Service) decideWrite(ctx context.Context, actor store.User, target writeTarget) (bool, error) {
	switch gate.Decide(gateUser(actor), target.countryCode, target.capability) {
	case gate.AllowDirect:
		return false, nil
	case gate.AllowStaged:
		payload, err := json.Marshal(target.payload)
		if err != nil {
			return false, fmt.Errorf("encode change payload: %w", err)
		}
		change := store.PendingChange{
			ChangeID:    util.NewID(),
			Type:        changeType(target.capability),
			Section:     target.section,
			CountryCode: target.countryCode,
			Lang:        target.lang,
			ItemID:      target.itemID,
			Payload:     payload,
			AuthorID:    actor.ID,
			AuthorName:  actor.Name,
		}
		if err := s.store.StageChange(ctx, change); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, errForbidden()
	}
}

func changeType(cap gate.Capability) string {
	switch cap {
	case gate.CapCreate:
		return "create"
	case gate.CapDelete:
		return "delete"
	default:
		return "edit"
	}
}

func (s *Service) countryForWrite(ctx context.Context, code, lang string) (store.Country, error) {
	country, err := s.store.GetCountry(ctx, code, lang)
	if errors.Is(err, store.ErrNotFound) {
		return store.Country{}, errNotFound()
	}
	return country, err
}

func (s *Service) SaveDescription(ctx context.Context, actor store.User, code, lang string, desc store.Description) (bool, error) {
	if desc.Title == "" {
		return false, errValidation("title is required")
	}
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "description", countryCode: code, lang: lang,
		capability: gate.CapEdit, payload: desc,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.UpsertDescription(ctx, country.ID, desc)
}

func (s *Service) CreateTimelineEvent(ctx context.Context, actor store.User, code, lang string, event store.TimelineEvent) (store.TimelineEvent, bool, error) {
	if event.Title == "" || event.Date == "" {
		return store.TimelineEvent{}, false, errValidation("title and date are required")
	}
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return store.TimelineEvent{}, false, err
	}
	if event.ID == "" {
		event.ID = util.NewID()
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "timeline", countryCode: code, lang: lang, itemID: event.ID,
		capability: gate.CapCreate, payload: event,
	})
	if err != nil || staged {
		return event, staged, err
	}
	return event, false, s.store.InsertTimelineEvent(ctx, country.ID, event)
}

func (s *Service) UpdateTimelineEvent(ctx context.Context, actor store.User, code, lang, eventID string, event store.TimelineEvent) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetTimelineEvent(ctx, country.ID, eventID); err != nil {
		return false, err
	}
	event.ID = eventID
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "timeline", countryCode: code, lang: lang, itemID: eventID,
		capability: gate.CapEdit, payload: event,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.UpdateTimelineEvent(ctx, country.ID, eventID, event)
}

func (s *Service) DeleteTimelineEvent(ctx context.Context, actor store.User, code, lang, eventID string) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetTimelineEvent(ctx, country.ID, eventID); err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "timeline", countryCode: code, lang: lang, itemID: eventID,
		capability: gate.CapDelete,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.DeleteTimelineEvent(ctx, country.ID, eventID)
}

func (s *Service) CreateFototecaItem(ctx context.Context, actor store.User, code, lang string, item store.FototecaItem) (store.FototecaItem, bool, error) {
	if item.Title == "" || item.URL == "" {
		return store.FototecaItem{}, false, errValidation("title and url are required")
	}
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return store.FototecaItem{}, false, err
	}
	if item.ID == "" {
		item.ID = util.NewID()
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "fototeca", countryCode: code, lang: lang, itemID: item.ID,
		capability: gate.CapCreate, payload: item,
	})
	if err != nil || staged {
		return item, staged, err
	}
	return item, false, s.store.InsertFototecaItem(ctx, country.ID, item)
}

func (s *Service) UpdateFototecaItem(ctx context.Context, actor store.User, code, lang, itemID string, item store.FototecaItem) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetFototecaItem(ctx, country.ID, itemID); err != nil {
		return false, err
	}
	item.ID = itemID
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "fototeca", countryCode: code, lang: lang, itemID: itemID,
		capability: gate.CapEdit, payload: item,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.UpdateFototecaItem(ctx, country.ID, itemID, item)
}

func (s *Service) DeleteFototecaItem(ctx context.Context, actor store.User, code, lang, itemID string) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetFototecaItem(ctx, country.ID, itemID); err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "fototeca", countryCode: code, lang: lang, itemID: itemID,
		capability: gate.CapDelete,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.DeleteFototecaItem(ctx, country.ID, itemID)
}

// profileSection names the change-envelope section for each profile kind.
func profileSection(kind store.ProfileKind) string {
	switch kind {
	case store.KindWitness:
		return "testimonies"
	case store.KindResistor:
		return "resistance"
	default:
		return "analysts"
	}
}

func (s *Service) CreateProfile(ctx context.Context, actor store.User, kind store.ProfileKind, code, lang string, profile store.Profile) (store.Profile, bool, error) {
	if profile.Name == "" {
		return store.Profile{}, false, errValidation("name is required")
	}
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return store.Profile{}, false, err
	}
	if profile.ID == "" {
		profile.ID = util.NewID()
	}
	for i := range profile.Entries {
		if profile.Entries[i].ID == "" {
			profile.Entries[i].ID = util.NewID()
		}
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: profileSection(kind), countryCode: code, lang: lang, itemID: profile.ID,
		capability: gate.CapCreate, payload: profile,
	})
	if err != nil || staged {
		return profile, staged, err
	}
	return profile, false, s.store.InsertProfile(ctx, kind, country.ID, profile)
}

func (s *Service) UpdateProfile(ctx context.Context, actor store.User, kind store.ProfileKind, code, lang, profileID string, profile store.Profile) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetProfile(ctx, kind, country.ID, profileID); err != nil {
		return false, err
	}
	profile.ID = profileID
	for i := range profile.Entries {
		if profile.Entries[i].ID == "" {
			profile.Entries[i].ID = util.NewID()
		}
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: profileSection(kind), countryCode: code, lang: lang, itemID: profileID,
		capability: gate.CapEdit, payload: profile,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.UpdateProfile(ctx, kind, country.ID, profileID, profile)
}

func (s *Service) DeleteProfile(ctx context.Context, actor store.User, kind store.ProfileKind, code, lang, profileID string) (bool, error) {
	country, err := s.countryForWrite(ctx, code, lang)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetProfile(ctx, kind, country.ID, profileID); err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: profileSection(kind), countryCode: code, lang: lang, itemID: profileID,
		capability: gate.CapDelete,
	})
	if err != nil || staged {
		return staged, err
	}
	return false, s.store.DeleteProfile(ctx, kind, country.ID, profileID)
}

// Articles and terminology are site-wide: no country scope, so the gate only
// checks role and capability. Direct writes keep the search index in step.

func (s *Service) CreateArticle(ctx context.Context, actor store.User, lang string, article store.Article) (store.Article, bool, error) {
	if article.Title == "" {
		return store.Article{}, false, errValidation("title is required")
	}
	if article.ID == "" {
		article.ID = util.NewID()
	}
	article.Lang = lang
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "velum", lang: lang, itemID: article.ID,
		capability: gate.CapCreate, payload: article,
	})
	if err != nil || staged {
		return article, staged, err
	}
	if err := s.store.InsertArticle(ctx, article); err != nil {
		return store.Article{}, false, err
	}
	s.search.IndexArticle(articleRecord(article))
	return article, false, nil
}

func (s *Service) UpdateArticle(ctx context.Context, actor store.User, lang, articleID string, article store.Article) (bool, error) {
	if _, err := s.store.GetArticle(ctx, articleID, lang); err != nil {
		return false, err
	}
	article.ID = articleID
	article.Lang = lang
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "velum", lang: lang, itemID: articleID,
		capability: gate.CapEdit, payload: article,
	})
	if err != nil || staged {
		return staged, err
	}
	if err := s.store.UpdateArticle(ctx, articleID, article); err != nil {
		return false, err
	}
	s.search.IndexArticle(articleRecord(article))
	return false, nil
}

func (s *Service) DeleteArticle(ctx context.Context, actor store.User, lang, articleID string) (bool, error) {
	if _, err := s.store.GetArticle(ctx, articleID, lang); err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "velum", lang: lang, itemID: articleID,
		capability: gate.CapDelete,
	})
	if err != nil || staged {
		return staged, err
	}
	if err := s.store.DeleteArticle(ctx, articleID, lang); err != nil {
		return false, err
	}
	s.search.DeleteArticle(search.RecordUID(articleID, lang))
	return false, nil
}

func articleRecord(a store.Article) search.ArticleRecord {
	return search.ArticleRecord{
		UID:      search.RecordUID(a.ID, a.Lang),
		ID:       a.ID,
		Lang:     a.Lang,
		Title:    a.Title,
		Subtitle: a.Subtitle,
		Abstract: a.Abstract,
		Author:   a.Author,
	}
}

func (s *Service) CreateTerm(ctx context.Context, actor store.User, lang string, term store.Term) (store.Term, bool, error) {
	var missing []string
	if term.Term == "" {
		missing = append(missing, "term")
	}
	if term.Definition == "" {
		missing = append(missing, "definition")
	}
	if term.Category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return store.Term{}, false, errValidation(strings.Join(missing, ", ") + " required")
	}
	if term.ID == "" {
		term.ID = util.NewID()
	}
	term.Lang = lang
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "terminology", lang: lang, itemID: term.ID,
		capability: gate.CapCreate, payload: term,
	})
	if err != nil || staged {
		return term, staged, err
	}
	if err := s.store.InsertTerm(ctx, term); err != nil {
		return store.Term{}, false, err
	}
	s.search.IndexTerm(termRecord(term))
	return term, false, nil
}

func (s *Service) UpdateTerm(ctx context.Context, actor store.User, lang, termID string, term store.Term) (bool, error) {
	if _, err := s.store.GetTerm(ctx, termID, lang); err != nil {
		return false, err
	}
	term.ID = termID
	term.Lang = lang
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "terminology", lang: lang, itemID: termID,
		capability: gate.CapEdit, payload: term,
	})
	if err != nil || staged {
		return staged, err
	}
	if err := s.store.UpdateTerm(ctx, termID, term); err != nil {
		return false, err
	}
	s.search.IndexTerm(termRecord(term))
	return false, nil
}

func (s *Service) DeleteTerm(ctx context.Context, actor store.User, lang, termID string) (bool, error) {
	if _, err := s.store.GetTerm(ctx, termID, lang); err != nil {
		return false, err
	}
	staged, err := s.decideWrite(ctx, actor, writeTarget{
		section: "terminology", lang: lang, itemID: termID,
		capability: gate.CapDelete,
	})
	if err != nil || staged {
		return staged, err
	}
	if err := s.store.DeleteTerm(ctx, termID, lang); err != nil {
		return false, err
	}
	s.search.DeleteTerm(search.RecordUID(termID, lang))
	return false, nil
}

func termRecord(t store.Term) search.TermRecord {
	return search.TermRecord{
		UID:        search.RecordUID(t.ID, t.Lang),
		ID:         t.ID,
		Lang:       t.Lang,
		Term:       t.Term,
		Definition: t.Definition,
		Category:   t.Category,
	}
}

func (s *Service) PendingChanges(ctx context.Context, actor store.User) ([]store.PendingChange, error) {
	return s.queue.List(ctx, gateUser(actor))
}

func (s *Service) ApproveChange(ctx context.Context, actor store.User, changeID string) error {
	return s.queue.Approve(ctx, gateUser(actor), changeID)
}

func (s *Service) RejectChange(ctx context.Context, actor store.User, changeID string) error {
	return s.queue.Reject(ctx, gateUser(actor), changeID)
}

// EditableCountries lists the countries the actor may write to. Admins and
// holders of the all-countries grant see everything; other editors see only
// their granted codes.
func (s *Service) EditableCountries(ctx context.Context, actor store.User, lang string) ([]store.Country, error) {
	countries, err := s.store.ListCountries(ctx, lang)
	if err != nil {
		return nil, err
	}
	if actor.Role == string(gate.RoleAdmin) {
		return countries, nil
	}
	granted := make(map[string]bool, len(actor.Countries))
	all := false
	for _, code := range actor.Countries {
		if code == gate.AllCountries {
			all = true
		}
		granted[code] = true
	}
	if all {
		return countries, nil
	}
	editable := make([]store.Country, 0, len(countries))
	for _, c := range countries {
		if granted[c.Code] {
			editable = append(editable, c)
		}
	}
	return editable, nil
}

// Account management is admin-only, end to end.

func requireAdmin(actor store.User) error {
	if actor.Role != string(gate.RoleAdmin) {
		return errForbidden()
	}
	return nil
}

// AccountInput is the request shape for creating or updating CMS accounts.
// Permissions is a pointer so an update can leave the grants untouched: every
// field here is patch semantics, absent means keep.
type AccountInput struct {
	Username    string              `json:"username"`
	Password    string              `json:"password"`
	Role        string              `json:"role"`
	Name        string              `json:"name"`
	Countries   []string            `json:"countries"`
	Permissions *store.Capabilities `json:"permissions"`
}

func (s *Service) ListAccounts(ctx context.Context, actor store.User) ([]map[string]any, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(users))
	for _, u := range users {
		payloads = append(payloads, userPayload(u))
	}
	return payloads, nil
}

func (s *Service) CreateAccount(ctx context.Context, actor store.User, input AccountInput) (map[string]any, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if input.Username == "" || input.Password == "" {
		return nil, errValidation("username and password are required")
	}
	if input.Role != string(gate.RoleAdmin) && input.Role != string(gate.RoleEditor) {
		return nil, errValidation("role must be admin or editor")
	}
	hash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := store.User{
		ID:           util.NewID(),
		Username:     input.Username,
		PasswordHash: hash,
		Role:         input.Role,
		Name:         input.Name,
		Countries:    nonNilSlice(input.Countries),
	}
	if input.Permissions != nil {
		user.Permissions = *input.Permissions
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateAccount(ctx context.Context, actor store.User, userID string, input AccountInput) (map[string]any, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.Role != "" {
		if input.Role != string(gate.RoleAdmin) && input.Role != string(gate.RoleEditor) {
			return nil, errValidation("role must be admin or editor")
		}
		user.Role = input.Role
	}
	if input.Name != "" {
		user.Name = input.Name
	}
	if input.Countries != nil {
		user.Countries = input.Countries
	}
	if input.Permissions != nil {
		user.Permissions = *input.Permissions
	}
	if err := s.store.UpdateUser(ctx, userID, user); err != nil {
		return nil, err
	}
	if input.Password != "" {
		hash, err := authpw.HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateUserPassword(ctx, userID, hash, true); err != nil {
			return nil, err
		}
	}
	return userPayload(user), nil
}

func (s *Service) DeleteAccount(ctx context.Context, actor store.User, userID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if userID == actor.ID {
		return errValidation("cannot delete your own account")
	}
	return s.store.DeleteUser(ctx, userID)
}

// Upload stores a media file and returns its public URL. Any authenticated
// CMS account may upload; the referencing write is what the gate judges.
func (s *Service) Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error) {
	if s.uploads == nil {
		return "", domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Media uploads are not configured", nil)
	}
	return s.uploads.Upload(ctx, filename, contentType, r, size)
}
