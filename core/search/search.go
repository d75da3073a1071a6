// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package search implements the crate search endpoint: grouping the
index's per-shard records by crate, computing each group's highest
non-yanked version, and filtering by name or description against the
query string.
*/
package search

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/metastore"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
)

// Handler serves GET /api/v1/crates.
type Handler struct {
	Index *registryindex.Store
	Meta  *metastore.Store
}

// Result is one entry of a search response's "crates" array.
type Result struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

// Meta is the "meta" object of a search response.
type Meta struct {
	Total int `json:"total"`
}

// Response is the full search response body.
type Response struct {
	Crates []Result `json:"crates"`
	Meta   Meta     `json:"meta"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	query, perPage, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		httpcodec.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	groups, err := h.groupByName()
	if err != nil {
		rlog.WithError(err).Errorln("search: failed to walk index")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		maxVersion, ok, err := maxNonYankedVersion(g)
		if err != nil {
			httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			continue
		}
		name := g[0].Name
		description, err := h.Meta.Description(r.Context(), name, maxVersion)
		if err != nil {
			rlog.WithError(err).Warnln("search: description lookup failed")
			description = ""
		}
		results = append(results, Result{Name: name, MaxVersion: maxVersion, Description: description})
	}

	matched := filterResults(results, query)
	if len(matched) > perPage {
		matched = matched[:perPage]
	}

	resp := Response{Crates: matched, Meta: Meta{Total: len(matched)}}
	if err := httpcodec.WriteJSON(w, http.StatusOK, resp); err != nil {
		rlog.WithError(err).Errorln("search: failed to serialize response")
	}
}

// parseQuery accepts exactly "?q={query}&per_page={N}", in that order.
func parseQuery(rawQuery string) (query string, perPage int, err error) {
	parts := strings.SplitN(rawQuery, "&", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("search: expected exactly two query parameters, q and per_page")
	}
	qSide, perPageSide := parts[0], parts[1]
	q, ok := strings.CutPrefix(qSide, "q=")
	if !ok {
		return "", 0, fmt.Errorf("search: missing q query parameter")
	}
	decodedQ, err := url.QueryUnescape(q)
	if err != nil {
		return "", 0, fmt.Errorf("search: malformed q query parameter: %w", err)
	}
	perPageRaw, ok := strings.CutPrefix(perPageSide, "per_page=")
	if !ok {
		return "", 0, fmt.Errorf("search: missing per_page query parameter")
	}
	n, err := strconv.Atoi(perPageRaw)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("search: per_page is not a non-negative integer")
	}
	if n > 100 {
		n = 100
	}
	return decodedQ, n, nil
}

// groupByName walks the index and groups records by the shard file
// they were read from, in the order the walk first reaches each file.
// Each shard file holds exactly one crate's versions, so each group is
// one crate; this is a plain per-file grouping rather than a
// dependency on directory walk order across files.
func (h *Handler) groupByName() ([][]registryindex.Record, error) {
	byFile := map[string][]registryindex.Record{}
	var order []string
	err := h.Index.Walk(func(path string, record registryindex.Record) error {
		if _, ok := byFile[path]; !ok {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	groups := make([][]registryindex.Record, 0, len(order))
	for _, path := range order {
		groups = append(groups, byFile[path])
	}
	return groups, nil
}

// maxNonYankedVersion returns the lexically-largest (major, minor,
// patch) version among non-yanked records in group, or ok=false if
// every record is yanked.
func maxNonYankedVersion(group []registryindex.Record) (string, bool, error) {
	type triple struct{ major, minor, patch int }
	var best *triple
	var bestStr string
	for _, r := range group {
		if r.Yanked {
			continue
		}
		parts := strings.SplitN(r.Vers, ".", 3)
		if len(parts) < 3 {
			return "", false, fmt.Errorf("search: version %q does not have three components", r.Vers)
		}
		t := triple{}
		var err error
		if t.major, err = strconv.Atoi(parts[0]); err != nil {
			return "", false, fmt.Errorf("search: version %q: %w", r.Vers, err)
		}
		if t.minor, err = strconv.Atoi(parts[1]); err != nil {
			return "", false, fmt.Errorf("search: version %q: %w", r.Vers, err)
		}
		if t.patch, err = strconv.Atoi(parts[2]); err != nil {
			return "", false, fmt.Errorf("search: version %q: %w", r.Vers, err)
		}
		if best == nil || t.major > best.major ||
			(t.major == best.major && t.minor > best.minor) ||
			(t.major == best.major && t.minor == best.minor && t.patch > best.patch) {
			best = &t
			bestStr = fmt.Sprintf("%d.%d.%d", t.major, t.minor, t.patch)
		}
	}
	if best == nil {
		return "", false, nil
	}
	return bestStr, true, nil
}

func filterResults(results []Result, query string) []Result {
	normalizedQuery := strings.ToLower(strings.ReplaceAll(query, "-", "_"))
	loweredQuery := strings.ToLower(query)
	matched := make([]Result, 0, len(results))
	for _, r := range results {
		if strings.Contains(r.Name, normalizedQuery) || strings.Contains(strings.ToLower(r.Description), loweredQuery) {
			matched = append(matched, r)
		}
	}
	return matched
}
