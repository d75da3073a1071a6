// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package registryindex implements the git-backed crate index: the
per-crate shard files holding one JSON record per published version,
the shard path rule, and the config.json bootstrap file served to
cargo clients.
*/
package registryindex

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// VValue is the index schema version a record was written with. It
// marshals as a bare integer (1 or 2). A Record whose JSON has no "v"
// key decodes as v1; that default is set by Record.UnmarshalJSON, since
// VValue.UnmarshalJSON only runs when the key is present.
type VValue int

// Defined VValue constants.
const (
	V1 VValue = 1
	V2 VValue = 2
)

// MarshalJSON implements json.Marshaler.
func (v VValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(v))
}

// UnmarshalJSON implements json.Unmarshaler, rejecting any value other
// than 1 or 2.
func (v *VValue) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	switch n {
	case 1:
		*v = V1
	case 2:
		*v = V2
	default:
		*v = 0
		return fmt.Errorf("registryindex: no variant for v=%d", n)
	}
	return nil
}

// DependencyKind mirrors cargo's dependency kind enum, serialized in
// lowercase.
type DependencyKind string

// Defined DependencyKind constants.
const (
	KindNormal DependencyKind = "normal"
	KindDev    DependencyKind = "dev"
	KindBuild  DependencyKind = "build"
)

// UnmarshalJSON rejects any value outside normal/dev/build.
func (k *DependencyKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch DependencyKind(s) {
	case KindNormal, KindDev, KindBuild:
		*k = DependencyKind(s)
		return nil
	default:
		return fmt.Errorf("registryindex: unknown dependency kind %q", s)
	}
}

// Registry identifies where a dependency is resolved from.
type Registry string

// Defined Registry constants.
const (
	RegistryThis      Registry = "this"
	RegistryCratesIO  Registry = "https://github.com/rust-lang/crates.io-index"
)

// IndexDependency is one dependency entry inside an IndexRecord.
type IndexDependency struct {
	Name            string         `json:"name"`
	Req             string         `json:"req"`
	Features        []string       `json:"features"`
	Optional        bool           `json:"optional"`
	DefaultFeatures bool           `json:"default_features"`
	Target          *string        `json:"target"`
	Kind            DependencyKind `json:"kind"`
	Registry        *Registry      `json:"registry,omitempty"`
	Package         *string        `json:"package,omitempty"`
}

// Record is one published version's index entry: the JSON line stored
// in a crate's shard file.
type Record struct {
	Name      string              `json:"name"`
	Vers      string              `json:"vers"`
	Deps      []IndexDependency   `json:"deps"`
	Cksum     string              `json:"cksum"`
	Features  map[string][]string `json:"features"`
	Yanked    bool                `json:"yanked"`
	Links     *string             `json:"links,omitempty"`
	V         VValue              `json:"v"`
	Features2 map[string][]string `json:"features2,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. A record read off disk
// with no "v" key predates the v2 schema and means v1; plain
// struct-field decoding never calls VValue.UnmarshalJSON when "v" is
// absent from the input, so the default has to be set before decoding
// runs.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	aux := alias{V: V1}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux)
	return nil
}

// ShardPath returns the path of name's shard file relative to the
// index root, following cargo's sharding rule:
//
//	len 1      -> "1/{name}"
//	len 2      -> "2/{name}"
//	len 3      -> "3/{name[0]}/{name}"
//	len 4+     -> "{name[0:2]}/{name[2:4]}/{name}"
//
// name is matched case-insensitively: the path is built from its
// lowercased form.
func ShardPath(name string) string {
	lower := strings.ToLower(name)
	runes := []rune(lower)
	n := len(runes)
	switch {
	case n == 0:
		panic("registryindex: empty crate name")
	case n < 3:
		return fmt.Sprintf("%d/%s", n, lower)
	case n == 3:
		return fmt.Sprintf("3/%c/%s", runes[0], lower)
	default:
		return fmt.Sprintf("%s/%s/%s", string(runes[0:2]), string(runes[2:4]), lower)
	}
}

// PartitionFeatures splits features into the v1 set (no value
// mentions '?' or ':') and the v2 set (at least one value does). The
// record's v is V2 iff the v2 set is non-empty.
func PartitionFeatures(features map[string][]string) (v1, v2 map[string][]string) {
	v1 = map[string][]string{}
	v2 = map[string][]string{}
	for name, values := range features {
		isV2 := false
		for _, v := range values {
			if strings.ContainsAny(v, "?:") {
				isV2 = true
				break
			}
		}
		if isV2 {
			v2[name] = values
		} else {
			v1[name] = values
		}
	}
	return v1, v2
}
