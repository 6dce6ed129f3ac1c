package app

import (
	"net/http"

	"memoria/api/internal/store"
)

func (s *server) routeAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()

	switch parts[0] {
	case "login":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			mapError(w, err)
			return
		}
		session, err := s.svc.Login(ctx, body.Username, body.Password)
		if err != nil {
			mapError(w, err)
			return
		}
		writeSession(w, session)

	case "refresh":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			mapError(w, err)
			return
		}
		session, err := s.svc.Refresh(ctx, body.RefreshToken)
		if err != nil {
			mapError(w, err)
			return
		}
		writeSession(w, session)

	case "logout":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			mapError(w, err)
			return
		}
		if err := s.svc.Logout(ctx, body.RefreshToken); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "me":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		user, err := s.svc.UserFromToken(ctx, bearerToken(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})

	case "change-password":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		user, err := s.svc.UserFromToken(ctx, bearerToken(r))
		if err != nil {
			mapError(w, err)
			return
		}
		var body struct {
			CurrentPassword string `json:"currentPassword"`
			NewPassword     string `json:"newPassword"`
		}
		if err := decodeBody(r, &body); err != nil {
			mapError(w, err)
			return
		}
		if err := s.svc.ChangePassword(ctx, user.ID, body.CurrentPassword, body.NewPassword); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func writeSession(w http.ResponseWriter, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"token":              session.Token,
		"refreshToken":       session.RefreshToken,
		"expiresAt":          session.ExpiresAt.Unix(),
		"user":               userPayload(session.User),
		"mustChangePassword": session.User.MustChangePassword,
	})
}

// routeCMS authenticates the bearer token and reloads the account before any
// routing, so every CMS handler sees current grants.
func (s *server) routeCMS(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	actor, err := s.svc.UserFromToken(r.Context(), bearerToken(r))
	if err != nil {
		mapError(w, err)
		return
	}

	switch parts[0] {
	case "pending":
		s.routePending(w, r, actor, parts[1:])
	case "countries":
		if len(parts) == 1 {
			s.handleCMSCountries(w, r, actor)
			return
		}
		if len(parts) < 3 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.routeCMSCountry(w, r, actor, parts[1], parts[2:])
	case "velum":
		s.routeCMSArticles(w, r, actor, parts[1:])
	case "terminology":
		s.routeCMSTerminology(w, r, actor, parts[1:])
	case "users":
		s.routeCMSUsers(w, r, actor, parts[1:])
	case "upload":
		s.handleUpload(w, r, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *server) routePending(w http.ResponseWriter, r *http.Request, actor store.User, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		changes, err := s.svc.PendingChanges(ctx, actor)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": changes})

	case len(parts) == 2 && parts[1] == "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.svc.ApproveChange(ctx, actor, parts[0]); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": store.ChangeApproved})

	case len(parts) == 2 && parts[1] == "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.svc.RejectChange(ctx, actor, parts[0]); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": store.ChangeRejected})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleCMSCountries lists the countries the actor may edit; the admin UI
// builds its country picker from this.
func (s *server) handleCMSCountries(w http.ResponseWriter, r *http.Request, actor store.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	countries, err := s.svc.EditableCountries(r.Context(), actor, s.lang(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": countries})
}

// cmsProfileKind accepts both the public section names and the entity names
// the admin frontend historically used.
func cmsProfileKind(segment string) (store.ProfileKind, bool) {
	if kind, ok := profileKinds[segment]; ok {
		return kind, true
	}
	switch segment {
	case "witnesses":
		return store.KindWitness, true
	case "resistors":
		return store.KindResistor, true
	}
	return 0, false
}

func (s *server) routeCMSCountry(w http.ResponseWriter, r *http.Request, actor store.User, code string, parts []string) {
	ctx := r.Context()
	lang := s.lang(r)

	if kind, ok := cmsProfileKind(parts[0]); ok {
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var profile store.Profile
			if err := decodeBody(r, &profile); err != nil {
				mapError(w, err)
				return
			}
			created, staged, err := s.svc.CreateProfile(ctx, actor, kind, code, lang, profile)
			respondWrite(w, err, staged, created)
		case len(parts) == 2 && r.Method == http.MethodPut:
			var profile store.Profile
			if err := decodeBody(r, &profile); err != nil {
				mapError(w, err)
				return
			}
			staged, err := s.svc.UpdateProfile(ctx, actor, kind, code, lang, parts[1], profile)
			respondWrite(w, err, staged, nil)
		case len(parts) == 2 && r.Method == http.MethodDelete:
			staged, err := s.svc.DeleteProfile(ctx, actor, kind, code, lang, parts[1])
			respondWrite(w, err, staged, nil)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[0] {
	case "description":
		if len(parts) != 1 || r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var desc store.Description
		if err := decodeBody(r, &desc); err != nil {
			mapError(w, err)
			return
		}
		staged, err := s.svc.SaveDescription(ctx, actor, code, lang, desc)
		respondWrite(w, err, staged, nil)

	case "timeline":
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var event store.TimelineEvent
			if err := decodeBody(r, &event); err != nil {
				mapError(w, err)
				return
			}
			created, staged, err := s.svc.CreateTimelineEvent(ctx, actor, code, lang, event)
			respondWrite(w, err, staged, created)
		case len(parts) == 2 && r.Method == http.MethodPut:
			var event store.TimelineEvent
			if err := decodeBody(r, &event); err != nil {
				mapError(w, err)
				return
			}
			staged, err := s.svc.UpdateTimelineEvent(ctx, actor, code, lang, parts[1], event)
			respondWrite(w, err, staged, nil)
		case len(parts) == 2 && r.Method == http.MethodDelete:
			staged, err := s.svc.DeleteTimelineEvent(ctx, actor, code, lang, parts[1])
			respondWrite(w, err, staged, nil)
		default:
			methodNotAllowed(w)
		}

	case "fototeca":
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var item store.FototecaItem
			if err := decodeBody(r, &item); err != nil {
				mapError(w, err)
				return
			}
			created, staged, err := s.svc.CreateFototecaItem(ctx, actor, code, lang, item)
			respondWrite(w, err, staged, created)
		case len(parts) == 2 && r.Method == http.MethodPut:
			var item store.FototecaItem
			if err := decodeBody(r, &item); err != nil {
				mapError(w, err)
				return
			}
			staged, err := s.svc.UpdateFototecaItem(ctx, actor, code, lang, parts[1], item)
			respondWrite(w, err, staged, nil)
		case len(parts) == 2 && r.Method == http.MethodDelete:
			staged, err := s.svc.DeleteFototecaItem(ctx, actor, code, lang, parts[1])
			respondWrite(w, err, staged, nil)
		default:
			methodNotAllowed(w)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *server) routeCMSArticles(w http.ResponseWriter, r *http.Request, actor store.User, parts []string) {
	ctx := r.Context()
	lang := s.lang(r)
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var article store.Article
		if err := decodeBody(r, &article); err != nil {
			mapError(w, err)
			return
		}
		created, staged, err := s.svc.CreateArticle(ctx, actor, lang, article)
		respondWrite(w, err, staged, created)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var article store.Article
		if err := decodeBody(r, &article); err != nil {
			mapError(w, err)
			return
		}
		staged, err := s.svc.UpdateArticle(ctx, actor, lang, parts[0], article)
		respondWrite(w, err, staged, nil)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		staged, err := s.svc.DeleteArticle(ctx, actor, lang, parts[0])
		respondWrite(w, err, staged, nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) routeCMSTerminology(w http.ResponseWriter, r *http.Request, actor store.User, parts []string) {
	ctx := r.Context()
	lang := s.lang(r)
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var term store.Term
		if err := decodeBody(r, &term); err != nil {
			mapError(w, err)
			return
		}
		created, staged, err := s.svc.CreateTerm(ctx, actor, lang, term)
		respondWrite(w, err, staged, created)
	case len(parts) == 1 && r.Method == http.MethodPut:
		var term store.Term
		if err := decodeBody(r, &term); err != nil {
			mapError(w, err)
			return
		}
		staged, err := s.svc.UpdateTerm(ctx, actor, lang, parts[0], term)
		respondWrite(w, err, staged, nil)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		staged, err := s.svc.DeleteTerm(ctx, actor, lang, parts[0])
		respondWrite(w, err, staged, nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) routeCMSUsers(w http.ResponseWriter, r *http.Request, actor store.User, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		users, err := s.svc.ListAccounts(ctx, actor)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input AccountInput
		if err := decodeBody(r, &input); err != nil {
			mapError(w, err)
			return
		}
		user, err := s.svc.CreateAccount(ctx, actor, input)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
	case len(parts) == 1 && r.Method == http.MethodPut:
		var input AccountInput
		if err := decodeBody(r, &input); err != nil {
			mapError(w, err)
			return
		}
		user, err := s.svc.UpdateAccount(ctx, actor, parts[0], input)
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.svc.DeleteAccount(ctx, actor, parts[0]); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w)
	}
}

const maxUploadBytes = 50 << 20

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		mapError(w, errValidation("file field is required"))
		return
	}
	defer file.Close()

	url, err := s.svc.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "url": url})
}

// respondWrite is the shared success shape for content mutations: staged
// writes acknowledge the pending change, direct creates echo the item.
func respondWrite(w http.ResponseWriter, err error, staged bool, created any) {
	if err != nil {
		mapError(w, err)
		return
	}
	if staged {
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "pending": true})
		return
	}
	body := map[string]any{"success": true}
	if created != nil {
		body["item"] = created
		writeJSON(w, http.StatusCreated, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
