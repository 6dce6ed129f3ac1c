package app

import (
	"context"
	"errors"
	"sort"
	"strings"

	"memoria/api/internal/resolver"
	"memoria/api/internal/search"
	"memoria/api/internal/snapshot"
	"memoria/api/internal/store"
)

// defaultDescriptionTitle is served when a country has no stored description
// yet; the frontend renders the heading unconditionally.
const defaultDescriptionTitle = "Descripción del Conflicto"

type listPayload[T any] struct {
	Items []T `json:"items"`
}

type countriesPayload struct {
	Countries []store.Country `json:"countries"`
}

type metaPayload struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Sections []store.Section `json:"sections"`
}

type terminologyIndexPayload struct {
	Categories []terminologyCategory `json:"categories"`
}

type terminologyCategory struct {
	ID      string   `json:"id"`
	Letters []string `json:"letters"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Service) Countries(ctx context.Context, lang string) (countriesPayload, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (countriesPayload, error) {
			countries, err := s.store.ListCountries(ctx, lang)
			if err != nil {
				return countriesPayload{}, err
			}
			return countriesPayload{Countries: nonNilSlice(countries)}, nil
		},
		func() (countriesPayload, error) {
			return snapshot.Load[countriesPayload](s.snap, snapshot.Countries(lang))
		})
}

// CountryMeta returns the country header plus its section list. The velum
// section is a site-wide fixture that lives in no country table, so it is
// appended here on both tiers.
func (s *Service) CountryMeta(ctx context.Context, code, lang string) (metaPayload, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (metaPayload, error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return metaPayload{}, err
			}
			sections, err := s.store.ListSections(ctx, country.ID)
			if err != nil {
				return metaPayload{}, err
			}
			return metaPayload{
				Code:     country.Code,
				Name:     country.Name,
				Sections: appendVelumSection(sections),
			}, nil
		},
		func() (metaPayload, error) {
			meta, err := snapshot.Load[metaPayload](s.snap, snapshot.Meta(lang, code))
			if err != nil {
				return metaPayload{}, err
			}
			meta.Sections = appendVelumSection(meta.Sections)
			return meta, nil
		})
}

func appendVelumSection(sections []store.Section) []store.Section {
	for _, sec := range sections {
		if sec.ID == "velum" {
			return sections
		}
	}
	return append(nonNilSlice(sections), store.Section{ID: "velum", Label: "VELUM"})
}

// CountryDescription treats an absent row as the empty description, not an
// error: a country page without prose still renders its default heading.
func (s *Service) CountryDescription(ctx context.Context, code, lang string) (store.Description, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (store.Description, error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return store.Description{}, err
			}
			desc, err := s.store.GetDescription(ctx, country.ID)
			if err == nil {
				return normalizeDescription(desc), nil
			}
			if errors.Is(err, store.ErrNotFound) {
				return defaultDescription(), nil
			}
			return store.Description{}, err
		},
		func() (store.Description, error) {
			desc, err := snapshot.Load[store.Description](s.snap, snapshot.Description(lang, code))
			if errors.Is(err, snapshot.ErrNotFound) {
				return defaultDescription(), nil
			}
			if err != nil {
				return store.Description{}, err
			}
			return normalizeDescription(desc), nil
		})
}

func defaultDescription() store.Description {
	return store.Description{Title: defaultDescriptionTitle, Chapters: []store.Chapter{}}
}

func normalizeDescription(desc store.Description) store.Description {
	if desc.Title == "" {
		desc.Title = defaultDescriptionTitle
	}
	desc.Chapters = nonNilSlice(desc.Chapters)
	return desc
}

func (s *Service) Timeline(ctx context.Context, code, lang string) (listPayload[store.TimelineSummary], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[store.TimelineSummary], error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return listPayload[store.TimelineSummary]{}, err
			}
			items, err := s.store.ListTimeline(ctx, country.ID)
			if err != nil {
				return listPayload[store.TimelineSummary]{}, err
			}
			return listPayload[store.TimelineSummary]{Items: nonNilSlice(items)}, nil
		},
		func() (listPayload[store.TimelineSummary], error) {
			return snapshot.Load[listPayload[store.TimelineSummary]](s.snap, snapshot.TimelineIndex(lang, code))
		})
}

func (s *Service) TimelineEvent(ctx context.Context, code, lang, eventID string) (store.TimelineEvent, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (store.TimelineEvent, error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return store.TimelineEvent{}, err
			}
			return s.store.GetTimelineEvent(ctx, country.ID, eventID)
		},
		func() (store.TimelineEvent, error) {
			return snapshot.Load[store.TimelineEvent](s.snap, snapshot.TimelineEvent(lang, code, eventID))
		})
}

func (s *Service) Fototeca(ctx context.Context, code, lang string) (listPayload[store.FototecaItem], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[store.FototecaItem], error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return listPayload[store.FototecaItem]{}, err
			}
			items, err := s.store.ListFototeca(ctx, country.ID)
			if err != nil {
				return listPayload[store.FototecaItem]{}, err
			}
			return listPayload[store.FototecaItem]{Items: nonNilSlice(items)}, nil
		},
		func() (listPayload[store.FototecaItem], error) {
			return snapshot.Load[listPayload[store.FototecaItem]](s.snap, snapshot.FototecaIndex(lang, code))
		})
}

// entriesKey names the list of works inside a profile payload; each section
// kept its own historical field name.
func entriesKey(kind store.ProfileKind) string {
	switch kind {
	case store.KindWitness:
		return "testimonies"
	case store.KindResistor:
		return "entries"
	default:
		return "analyses"
	}
}

func profileIndexPath(kind store.ProfileKind, lang, code string) string {
	switch kind {
	case store.KindWitness:
		return snapshot.TestimonyIndex(lang, code)
	case store.KindResistor:
		return snapshot.ResistanceIndex(lang, code)
	default:
		return snapshot.AnalystIndex(lang, code)
	}
}

func profilePath(kind store.ProfileKind, lang, code, profileID string) string {
	switch kind {
	case store.KindWitness:
		return snapshot.Witness(lang, code, profileID)
	case store.KindResistor:
		return snapshot.Resistor(lang, code, profileID)
	default:
		return snapshot.Analyst(lang, code, profileID)
	}
}

func profileEntryPath(kind store.ProfileKind, lang, code, profileID, entryID string) string {
	switch kind {
	case store.KindWitness:
		return snapshot.Testimony(lang, code, profileID, entryID)
	case store.KindResistor:
		return snapshot.ResistanceEntry(lang, code, profileID, entryID)
	default:
		return snapshot.Analysis(lang, code, profileID, entryID)
	}
}

func (s *Service) Profiles(ctx context.Context, kind store.ProfileKind, code, lang string) (listPayload[store.ProfileSummary], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[store.ProfileSummary], error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return listPayload[store.ProfileSummary]{}, err
			}
			items, err := s.store.ListProfiles(ctx, kind, country.ID)
			if err != nil {
				return listPayload[store.ProfileSummary]{}, err
			}
			return listPayload[store.ProfileSummary]{Items: nonNilSlice(items)}, nil
		},
		func() (listPayload[store.ProfileSummary], error) {
			return snapshot.Load[listPayload[store.ProfileSummary]](s.snap, profileIndexPath(kind, lang, code))
		})
}

func (s *Service) Profile(ctx context.Context, kind store.ProfileKind, code, lang, profileID string) (map[string]any, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (map[string]any, error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return nil, err
			}
			profile, err := s.store.GetProfile(ctx, kind, country.ID, profileID)
			if err != nil {
				return nil, err
			}
			return profilePayload(kind, profile), nil
		},
		func() (map[string]any, error) {
			return snapshot.Load[map[string]any](s.snap, profilePath(kind, lang, code, profileID))
		})
}

func profilePayload(kind store.ProfileKind, p store.Profile) map[string]any {
	social := p.Social
	if social == nil {
		social = store.SocialLinks{}
	}
	return map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"bio":            p.Bio,
		"image":          p.Image,
		"social":         social,
		entriesKey(kind): nonNilSlice(p.Entries),
	}
}

func (s *Service) ProfileEntry(ctx context.Context, kind store.ProfileKind, code, lang, profileID, entryID string) (store.ProfileEntry, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (store.ProfileEntry, error) {
			country, err := s.store.GetCountry(ctx, code, lang)
			if err != nil {
				return store.ProfileEntry{}, err
			}
			return s.store.GetProfileEntry(ctx, kind, country.ID, profileID, entryID)
		},
		func() (store.ProfileEntry, error) {
			return snapshot.Load[store.ProfileEntry](s.snap, profileEntryPath(kind, lang, code, profileID, entryID))
		})
}

func (s *Service) Articles(ctx context.Context, lang string) (listPayload[store.ArticleSummary], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[store.ArticleSummary], error) {
			items, err := s.store.ListArticles(ctx, lang)
			if err != nil {
				return listPayload[store.ArticleSummary]{}, err
			}
			return listPayload[store.ArticleSummary]{Items: nonNilSlice(items)}, nil
		},
		func() (listPayload[store.ArticleSummary], error) {
			return snapshot.Load[listPayload[store.ArticleSummary]](s.snap, snapshot.VelumIndex(lang))
		})
}

func (s *Service) Article(ctx context.Context, articleID, lang string) (store.Article, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (store.Article, error) {
			return s.store.GetArticle(ctx, articleID, lang)
		},
		func() (store.Article, error) {
			return snapshot.Load[store.Article](s.snap, snapshot.VelumArticle(lang, articleID))
		})
}

func (s *Service) Terminology(ctx context.Context, lang string) (listPayload[store.Term], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[store.Term], error) {
			items, err := s.store.ListTerms(ctx, lang)
			if err != nil {
				return listPayload[store.Term]{}, err
			}
			return listPayload[store.Term]{Items: nonNilSlice(items)}, nil
		},
		func() (listPayload[store.Term], error) {
			return snapshot.Load[listPayload[store.Term]](s.snap, snapshot.Terminology(lang))
		})
}

// categoryPlurals maps the stored singular category to the plural id used in
// the public index and the snapshot directory layout.
var categoryPlurals = map[string]string{
	"personaje":    "personajes",
	"organizacion": "organizaciones",
	"concepto":     "conceptos",
	"lugar":        "lugares",
	"evento":       "eventos",
	"general":      "general",
}

func categorySingular(plural string) string {
	for singular, p := range categoryPlurals {
		if p == plural {
			return singular
		}
	}
	return plural
}

// TerminologyIndex builds the category/letter navigation from the term
// headings. Only plain a-z initials make it into the index; accented and
// non-Latin initials are skipped rather than guessed at.
func (s *Service) TerminologyIndex(ctx context.Context, lang string) (terminologyIndexPayload, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (terminologyIndexPayload, error) {
			headings, err := s.store.ListTermHeadings(ctx, lang)
			if err != nil {
				return terminologyIndexPayload{}, err
			}
			return buildTerminologyIndex(headings), nil
		},
		func() (terminologyIndexPayload, error) {
			return snapshot.Load[terminologyIndexPayload](s.snap, snapshot.TerminologyIndex(lang))
		})
}

func buildTerminologyIndex(headings []store.TermHeading) terminologyIndexPayload {
	letters := make(map[string]map[string]bool)
	for _, h := range headings {
		plural, ok := categoryPlurals[h.Category]
		if !ok {
			continue
		}
		initial := firstLetter(h.Term)
		if initial == "" {
			continue
		}
		if letters[plural] == nil {
			letters[plural] = make(map[string]bool)
		}
		letters[plural][initial] = true
	}

	payload := terminologyIndexPayload{Categories: []terminologyCategory{}}
	for _, plural := range []string{"personajes", "organizaciones", "conceptos", "lugares", "eventos", "general"} {
		set, ok := letters[plural]
		if !ok {
			continue
		}
		sorted := make([]string, 0, len(set))
		for l := range set {
			sorted = append(sorted, l)
		}
		sort.Strings(sorted)
		payload.Categories = append(payload.Categories, terminologyCategory{ID: plural, Letters: sorted})
	}
	return payload
}

func firstLetter(term string) string {
	trimmed := strings.TrimSpace(term)
	if trimmed == "" {
		return ""
	}
	initial := strings.ToLower(trimmed[:1])
	if initial[0] < 'a' || initial[0] > 'z' {
		return ""
	}
	return initial
}

// TermsByCategory lists the cards for one category/letter page. The cards
// carry name/title/content aliases because different frontend views grew
// around different field names.
func (s *Service) TermsByCategory(ctx context.Context, lang, category, letter string) (listPayload[map[string]any], error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (listPayload[map[string]any], error) {
			terms, err := s.store.ListTermsByCategoryLetter(ctx, lang, categorySingular(category), strings.ToLower(letter))
			if err != nil {
				return listPayload[map[string]any]{}, err
			}
			cards := make([]map[string]any, 0, len(terms))
			for _, t := range terms {
				cards = append(cards, termCardPayload(t))
			}
			return listPayload[map[string]any]{Items: cards}, nil
		},
		func() (listPayload[map[string]any], error) {
			return snapshot.Load[listPayload[map[string]any]](s.snap, snapshot.TerminologyCategory(lang, category, letter))
		})
}

func termCardPayload(t store.Term) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"term":       t.Term,
		"name":       t.Term,
		"title":      t.Term,
		"definition": t.Definition,
		"content":    t.Definition,
		"category":   t.Category,
	}
}

// Term resolves one glossary entry. The snapshot export has no per-term
// files, so a database outage degrades this endpoint to not-found.
func (s *Service) Term(ctx context.Context, termID, lang string) (store.Term, error) {
	return resolver.Read(ctx,
		func(ctx context.Context) (store.Term, error) {
			return s.store.GetTerm(ctx, termID, lang)
		},
		func() (store.Term, error) {
			return store.Term{}, snapshot.ErrNotFound
		})
}

// Search never errors toward the caller; degraded backends return an empty
// result set.
func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}
