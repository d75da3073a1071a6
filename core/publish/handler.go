package publish

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/metastore"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
	"github.com/relabs-tech/cargoregistry/core/schema"
)

// maxFrameLength bounds the u32 length prefixes the publish framing
// carries. The spec calls for a 413 whenever a length exceeds the
// platform's maximum array size; on every platform Go targets that is
// far larger than any legitimate publish payload, so this is the
// practical ceiling instead (512 MiB).
const maxFrameLength = 512 * 1024 * 1024

// Pipeline holds every dependency the publish handler needs.
type Pipeline struct {
	Index        *registryindex.Store
	Meta         *metastore.Store
	Git          *gitindex.Driver
	Validator    *schema.PublishedPackageValidator
	DownloadRoot string
}

// ServeHTTP implements the publish endpoint: PUT /api/v1/crates/new.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	raw := httpcodec.RawConnFromContext(r.Context())
	if raw == nil {
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, "no raw connection available for framed read")
		return
	}
	if err := raw.WriteContinue(); err != nil {
		rlog.WithError(err).Warnln("failed to write 100-continue")
		return
	}

	pkg, blob, err := readFramedPayload(raw, p.Validator)
	if err != nil {
		status, detail := framingErrorStatus(err)
		httpcodec.WriteJSONError(w, status, detail)
		return
	}

	if err := p.process(r.Context(), pkg, blob); err != nil {
		if pubErr, ok := err.(*Error); ok {
			httpcodec.WriteJSONError(w, pubErr.Status, pubErr.Msg)
			return
		}
		rlog.WithError(err).Errorln("publish failed")
		httpcodec.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := httpcodec.WriteJSON(w, http.StatusOK, NewResponse()); err != nil {
		rlog.WithError(err).Errorln("failed to serialize publish response")
	}
}

func readFramedPayload(raw *httpcodec.RawConn, validator *schema.PublishedPackageValidator) (PublishedPackage, []byte, error) {
	jsonLen, err := readU32LE(raw)
	if err != nil {
		return PublishedPackage{}, nil, err
	}
	jsonBytes, err := readExactly(raw, jsonLen)
	if err != nil {
		return PublishedPackage{}, nil, err
	}
	if err := validator.Validate(jsonBytes); err != nil {
		return PublishedPackage{}, nil, fmt.Errorf("%w: %v", errBadFraming, err)
	}

	var pkg PublishedPackage
	if err := pkg.UnmarshalJSON(jsonBytes); err != nil {
		return PublishedPackage{}, nil, fmt.Errorf("%w: %v", errBadFraming, err)
	}

	blobLen, err := readU32LE(raw)
	if err != nil {
		return PublishedPackage{}, nil, err
	}
	blob, err := readExactly(raw, blobLen)
	if err != nil {
		return PublishedPackage{}, nil, err
	}
	return pkg, blob, nil
}

func readU32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", errBadFraming, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readExactly(r io.Reader, n uint32) ([]byte, error) {
	if uint64(n) > maxFrameLength || n > math.MaxInt32 {
		return nil, errOversizePayload
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFraming, err)
	}
	return buf, nil
}

var (
	errBadFraming      = fmt.Errorf("malformed publish request framing")
	errOversizePayload = fmt.Errorf("publish payload exceeds maximum size")
)

func framingErrorStatus(err error) (int, string) {
	if err == errOversizePayload {
		return http.StatusRequestEntityTooLarge, err.Error()
	}
	return http.StatusBadRequest, err.Error()
}

// process runs the ordered publish pipeline described in the registry's
// publish design: collision check, metadata insert, index append, blob
// write, git commit.
func (p *Pipeline) process(ctx context.Context, pkg PublishedPackage, blob []byte) error {
	v1Features, v2Features := registryindex.PartitionFeatures(pkg.Features)
	v := registryindex.V1
	if len(v2Features) > 0 {
		v = registryindex.V2
	}

	sum := sha256.Sum256(blob)
	record := registryindex.Record{
		Name:      pkg.Name,
		Vers:      pkg.Vers,
		Deps:      toIndexDependencies(pkg.Deps),
		Cksum:     hex.EncodeToString(sum[:]),
		Features:  v1Features,
		Yanked:    false,
		Links:     pkg.Links,
		V:         v,
		Features2: v2Features,
	}

	if err := p.checkCollisions(pkg.Name, pkg.Vers); err != nil {
		return err
	}

	meta := metastore.VersionMetadata{
		Description:   deref(pkg.Description),
		Documentation: deref(pkg.Documentation),
		Homepage:      deref(pkg.Homepage),
		Readme:        deref(pkg.Readme),
		ReadmeFile:    deref(pkg.ReadmeFile),
		License:       deref(pkg.License),
		LicenseFile:   deref(pkg.LicenseFile),
		Repository:    deref(pkg.Repository),
	}
	if err := p.Meta.AddPackage(ctx, pkg.Name, pkg.Vers, meta); err != nil {
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}

	if err := p.Index.Append(pkg.Name, record); err != nil {
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}

	blobPath := filepath.Join(p.DownloadRoot, strings.ToLower(pkg.Name), pkg.Vers, "download")
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}
	if err := os.WriteFile(blobPath, blob, 0o644); err != nil {
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}

	shardPath := registryindex.ShardPath(pkg.Name)
	message := fmt.Sprintf("Add package [%s] version [%s] to index", pkg.Name, pkg.Vers)
	if err := p.Git.AddAndCommit(shardPath, message); err != nil {
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}
	return nil
}

// checkCollisions walks the whole index for any existing record whose
// name equals the new name after dash/underscore normalization.
func (p *Pipeline) checkCollisions(name, vers string) error {
	normalized := strings.ReplaceAll(name, "-", "_")
	var collision error
	err := p.Index.Walk(func(path string, existing registryindex.Record) error {
		if strings.ReplaceAll(existing.Name, "-", "_") != normalized {
			return nil
		}
		if existing.Name != name {
			collision = errDashUnderscoreCollision(name)
			return errStopWalk
		}
		if existing.Vers == vers {
			collision = errVersionAlreadyExists(name, vers)
			return errStopWalk
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		if walkErr, ok := err.(*registryindex.WalkError); ok {
			return errBadIndexJSON(walkErr.Path)
		}
		return &Error{Status: http.StatusInternalServerError, Msg: err.Error()}
	}
	return collision
}

var errStopWalk = fmt.Errorf("publish: stop walk")

func toIndexDependencies(deps []Dependency) []registryindex.IndexDependency {
	out := make([]registryindex.IndexDependency, 0, len(deps))
	for _, d := range deps {
		name := d.Name
		var pkgName *string
		if d.ExplicitNameInToml != nil {
			name = *d.ExplicitNameInToml
			original := d.Name
			pkgName = &original
		}
		var registry *registryindex.Registry
		if d.Registry != nil {
			r := registryindex.Registry(*d.Registry)
			registry = &r
		}
		out = append(out, registryindex.IndexDependency{
			Name:            name,
			Req:             d.VersionReq,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          d.Target,
			Kind:            registryindex.DependencyKind(d.Kind),
			Registry:        registry,
			Package:         pkgName,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
