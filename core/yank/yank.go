// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package yank implements the yank and unyank endpoints: an in-place
textual flip of a single index line's "yanked" field, deliberately not
a full JSON re-marshal, so any incidental whitespace in the untouched
lines of the shard file survives byte for byte.
*/
package yank

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
)

// Handler serves both the yank and unyank routes.
type Handler struct {
	Index *registryindex.Store
	Git   *gitindex.Driver
}

// Yank handles DELETE /api/v1/crates/{name}/{version}/yank.
func (h *Handler) Yank(w http.ResponseWriter, r *http.Request) {
	h.replaceYankedField(w, r, true)
}

// Unyank handles PUT /api/v1/crates/{name}/{version}/unyank.
func (h *Handler) Unyank(w http.ResponseWriter, r *http.Request) {
	h.replaceYankedField(w, r, false)
}

func (h *Handler) replaceYankedField(w http.ResponseWriter, r *http.Request, yanked bool) {
	rlog := logger.FromContext(r.Context())
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]
	if name == "" || version == "" {
		httpcodec.WriteJSONError(w, http.StatusBadRequest, "missing crate name or version in path")
		return
	}

	shardPath := h.Index.PathFor(name)
	found := false
	old := fmt.Sprintf(`"yanked":%t`, !yanked)
	replacement := fmt.Sprintf(`"yanked":%t`, yanked)

	err := h.Index.Rewrite(shardPath, func(line string) string {
		if line == "" {
			return line
		}
		var record registryindex.Record
		if json.Unmarshal([]byte(line), &record) != nil {
			return line
		}
		if record.Vers != version {
			return line
		}
		found = true
		return strings.Replace(line, old, replacement, 1)
	})
	if err != nil {
		rlog.WithError(err).Errorln("yank: rewrite failed")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		rlog.Debugln("yank: no matching version found, file rewritten unchanged")
	}

	verb := "Unyank"
	if yanked {
		verb = "Yank"
	}
	message := fmt.Sprintf("%s package [%s] version [%s] from index", verb, name, version)
	if err := h.Git.AddAndCommit(registryindex.ShardPath(name), message); err != nil {
		rlog.WithError(err).Errorln("yank: git commit failed")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpcodec.WriteJSONOK(w, "")
}
