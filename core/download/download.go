// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package download serves artifact blobs from the filesystem path they
were published to: <download.path>/<lowercase-name>/<vers>/download.
*/
package download

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
)

// Handler serves GET {download-prefix}/{name}/{version}/download.
type Handler struct {
	Root string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	vars := mux.Vars(r)
	name, version := vars["name"], vars["version"]

	path := filepath.Join(h.Root, name, version, "download")
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rlog.WithError(err).Errorln("download: failed to read blob")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
