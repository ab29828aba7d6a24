package infra

import (
	"context"
	"net/http"
	"strconv"

	"github.com/GwanWingYan/vaultsign/pkg/api"
	"github.com/GwanWingYan/vaultsign/pkg/cache"
	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

func (s *Server) contacts(ctx context.Context, workspaceID string) ([]api.Contact, error) {
	v, err := s.cached(cache.Key("address-book", workspaceID), func() (interface{}, error) {
		return s.Backend.Contacts(ctx, false)
	})
	if err != nil {
		return nil, err
	}
	return v.([]api.Contact), nil
}

func (s *Server) purge() {
	if s.Cache != nil {
		s.Cache.Purge()
	}
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":     sess.Account,
		"userId":      sess.UserID,
		"accountType": sess.AccountType,
		"workspaceId": sess.WorkspaceID,
		"permissions": sess.Permissions,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Logout(); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchWorkspaceRequest struct {
	WorkspaceID string              `json:"workspaceId"`
	Permissions session.Permissions `json:"permissions"`
}

// switchWorkspace moves the session and drops every query of the old
// workspace.
func (s *Server) switchWorkspace(w http.ResponseWriter, r *http.Request) {
	var req switchWorkspaceRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.WorkspaceID == "" {
		s.fail(w, errors.Wrap(errBadRequest, "workspaceId is required"))
		return
	}
	if err := s.Sessions.SwitchWorkspace(req.WorkspaceID, req.Permissions); err != nil {
		s.fail(w, err)
		return
	}
	s.purge()
	s.currentSession(w, r)
}

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	info, err := s.Backend.UserInfo(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// hardwareAccounts lists the accounts registered from this device, which
// is what the sign-in screen offers.
func (s *Server) hardwareAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := s.Settings.HardwareID()
	if err != nil {
		s.fail(w, err)
		return
	}
	users, err := s.Backend.UsersByHardware(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hardwareId": id, "accounts": users})
}

func (s *Server) nickname(w http.ResponseWriter, r *http.Request) {
	nick := mux.Vars(r)["nickname"]
	user, err := s.Backend.Nickname(r.Context(), nick)
	if err != nil {
		s.fail(w, err)
		return
	}
	if user == nil {
		s.fail(w, errors.Wrapf(errNotFound, "nickname %q", nick))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) addressBook(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}
	contacts, err := s.contacts(r.Context(), sess.WorkspaceID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(errBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	page, err := intParam(r, "page")
	if err != nil {
		s.fail(w, err)
		return
	}
	perPage, err := intParam(r, "perPage")
	if err != nil {
		s.fail(w, err)
		return
	}

	list, err := s.Backend.Notifications(r.Context(), page, perPage)
	if err != nil {
		s.fail(w, err)
		return
	}
	unread, err := s.Backend.UnreadNotifications(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": list, "unread": unread})
}

func (s *Server) readNotifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	if err := s.Backend.MarkNotificationsRead(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settings(w http.ResponseWriter, r *http.Request) {
	id, err := s.Settings.HardwareID()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hardwareId":     id,
		"balanceVisible": s.Settings.BalanceVisible(),
	})
}

func (s *Server) setBalanceVisible(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := readJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Visible == nil {
		s.fail(w, errors.Wrap(errBadRequest, "visible is required"))
		return
	}
	if err := s.Settings.SetBalanceVisible(*req.Visible); err != nil {
		s.fail(w, err)
		return
	}
	s.settings(w, r)
}

func (s *Server) networks(w http.ResponseWriter, r *http.Request) {
	list, err := s.Settings.Networks()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	var n session.Network
	if err := readJSON(r, &n); err != nil {
		s.fail(w, err)
		return
	}
	if n.URL == "" {
		s.fail(w, errors.Wrap(errBadRequest, "url is required"))
		return
	}
	if n.Identifier == "" {
		n.Identifier = session.NetworkLocalStorage
	}
	created, err := s.Settings.CreateNetwork(n)
	if err != nil {
		s.fail(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]bool{"created": created})
}

func (s *Server) deleteNetwork(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.fail(w, errors.Wrap(errBadRequest, "url is required"))
		return
	}
	if err := s.Settings.DeleteNetwork(url); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// selectNetwork points the user at a known network. Every cached query
// belongs to the previous network, so the cache is purged.
func (s *Server) selectNetwork(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := readJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.Settings.Networks()
	if err != nil {
		s.fail(w, err)
		return
	}
	known := false
	for _, n := range list {
		if n.URL == req.URL {
			known = true
			break
		}
	}
	if !known {
		s.fail(w, errors.Wrapf(errUnknownNetwork, "%q", req.URL))
		return
	}

	selected, err := s.Backend.SelectNetwork(r.Context(), req.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	if selected {
		s.purge()
		s.Logger.WithField("network", req.URL).Info("network selected")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"selected": selected})
}
