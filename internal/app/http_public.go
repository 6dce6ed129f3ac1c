package app

import (
	"net/http"
	"strconv"

	"memoria/api/internal/search"
	"memoria/api/internal/store"
)

func (s *server) routePublic(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()
	lang := s.lang(r)

	switch parts[0] {
	case "countries":
		if len(parts) == 1 {
			payload, err := s.svc.Countries(ctx, lang)
			respond(w, payload, err)
			return
		}
		s.routeCountry(w, r, parts[1], parts[2:])
		return

	case "velum":
		switch len(parts) {
		case 1:
			payload, err := s.svc.Articles(ctx, lang)
			respond(w, payload, err)
		case 2:
			payload, err := s.svc.Article(ctx, parts[1], lang)
			respond(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return

	case "terminology":
		switch {
		case len(parts) == 1:
			payload, err := s.svc.Terminology(ctx, lang)
			respond(w, payload, err)
		case len(parts) == 2 && parts[1] == "index":
			payload, err := s.svc.TerminologyIndex(ctx, lang)
			respond(w, payload, err)
		case len(parts) == 4 && parts[1] == "category":
			payload, err := s.svc.TermsByCategory(ctx, lang, parts[2], parts[3])
			respond(w, payload, err)
		case len(parts) == 2:
			payload, err := s.svc.Term(ctx, parts[1], lang)
			respond(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return

	case "search":
		s.handleSearch(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// profileKinds maps the country-scoped section segments that share the
// profile shape.
var profileKinds = map[string]store.ProfileKind{
	"testimonies": store.KindWitness,
	"resistance":  store.KindResistor,
	"analysts":    store.KindAnalyst,
}

func (s *server) routeCountry(w http.ResponseWriter, r *http.Request, code string, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	lang := s.lang(r)

	if kind, ok := profileKinds[parts[0]]; ok {
		switch len(parts) {
		case 1:
			payload, err := s.svc.Profiles(ctx, kind, code, lang)
			respond(w, payload, err)
		case 2:
			payload, err := s.svc.Profile(ctx, kind, code, lang, parts[1])
			respond(w, payload, err)
		case 3:
			payload, err := s.svc.ProfileEntry(ctx, kind, code, lang, parts[1], parts[2])
			respond(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	switch parts[0] {
	case "meta":
		if len(parts) == 1 {
			payload, err := s.svc.CountryMeta(ctx, code, lang)
			respond(w, payload, err)
			return
		}
	case "description":
		if len(parts) == 1 {
			payload, err := s.svc.CountryDescription(ctx, code, lang)
			respond(w, payload, err)
			return
		}
	case "timeline":
		switch len(parts) {
		case 1:
			payload, err := s.svc.Timeline(ctx, code, lang)
			respond(w, payload, err)
			return
		case 2:
			payload, err := s.svc.TimelineEvent(ctx, code, lang, parts[1])
			respond(w, payload, err)
			return
		}
	case "fototeca":
		if len(parts) == 1 {
			payload, err := s.svc.Fototeca(ctx, code, lang)
			respond(w, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	payload := s.svc.Search(search.Query{
		Text:       query.Get("q"),
		Lang:       query.Get("lang"),
		FilterType: search.ResultType(query.Get("type")),
		Limit:      limit,
		Offset:     offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
