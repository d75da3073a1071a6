// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package owners implements the crate owners endpoints: listing,
adding and removing owners via the metadata store.
*/
package owners

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/metastore"
)

// Handler serves GET/PUT/DELETE /api/v1/crates/{name}/owners.
type Handler struct {
	Meta *metastore.Store
}

type ownerEntry struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

type listResponse struct {
	Users []ownerEntry `json:"users"`
}

type usersRequest struct {
	Users []string `json:"users"`
}

// List handles GET /api/v1/crates/{name}/owners.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	name := mux.Vars(r)["name"]

	owners, err := h.Meta.ListOwners(r.Context(), name)
	if err != nil {
		rlog.WithError(err).Errorln("owners: list failed")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := listResponse{Users: make([]ownerEntry, 0, len(owners))}
	for _, o := range owners {
		resp.Users = append(resp.Users, ownerEntry{ID: o.ID, Login: o.Login, Name: nil})
	}
	if err := httpcodec.WriteJSON(w, http.StatusOK, resp); err != nil {
		rlog.WithError(err).Errorln("owners: failed to serialize list response")
	}
}

// Add handles PUT /api/v1/crates/{name}/owners.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, true)
}

// Remove handles DELETE /api/v1/crates/{name}/owners.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, false)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, add bool) {
	rlog := logger.FromContext(r.Context())
	name := mux.Vars(r)["name"]

	raw := httpcodec.RawConnFromContext(r.Context())
	if raw == nil {
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, "no raw connection available for framed read")
		return
	}
	if err := raw.WriteContinue(); err != nil {
		rlog.WithError(err).Warnln("owners: failed to write 100-continue")
		return
	}

	if r.ContentLength < 0 {
		httpcodec.WriteJSONError(w, http.StatusBadRequest, "owners: missing Content-Length")
		return
	}
	body := make([]byte, r.ContentLength)
	if _, err := io.ReadFull(raw, body); err != nil {
		httpcodec.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("owners: failed to read request body: %v", err))
		return
	}
	var req usersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpcodec.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("owners: malformed request body: %v", err))
		return
	}

	for _, login := range req.Users {
		var err error
		if add {
			err = h.Meta.AddOwner(r.Context(), name, login)
		} else {
			err = h.Meta.RemoveOwner(r.Context(), name, login)
		}
		if err != nil {
			status := statusFor(err)
			httpcodec.WriteJSONError(w, status, err.Error())
			return
		}
	}

	httpcodec.WriteJSONOK(w, successMessage(add, name, req.Users))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, metastore.ErrMultipleUsers):
		return http.StatusForbidden
	case errors.Is(err, metastore.ErrNoSuchUser):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// successMessage builds the "Added user(s) ... to crate ..." body.
// Add and remove use distinct verbs: the source registry's remove
// path reused the add message verbatim, which this implementation
// treats as a defect rather than preserving for compatibility.
func successMessage(add bool, crate string, logins []string) string {
	verb := "Added"
	preposition := "to"
	if !add {
		verb = "Removed"
		preposition = "from"
	}
	suffix := ""
	if len(logins) > 1 {
		suffix = "s"
	}
	return fmt.Sprintf("%s user%s %s %s crate %s", verb, suffix, strings.Join(logins, ", "), preposition, crate)
}
