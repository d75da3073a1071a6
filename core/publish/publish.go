// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package publish implements the publish pipeline: decoding the
length-prefixed publish payload cargo sends after a 100-continue,
validating and lowercasing the crate name, detecting name collisions
against the existing index, and driving the metadata store, index
store and git commit that make up one publish.
*/
package publish

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Dependency is one entry of a PublishedPackage's deps list.
type Dependency struct {
	Name                string   `json:"name"`
	VersionReq          string   `json:"version_req"`
	Features            []string `json:"features"`
	Optional            bool     `json:"optional"`
	DefaultFeatures     bool     `json:"default_features"`
	Target              *string  `json:"target"`
	Kind                string   `json:"kind"`
	Registry            *string  `json:"registry"`
	ExplicitNameInToml  *string  `json:"explicit_name_in_toml"`
}

// PublishedPackage is the JSON body cargo sends describing the package
// being published, decoded from the first framed segment of a publish
// request.
type PublishedPackage struct {
	Name          string                 `json:"name"`
	Vers          string                 `json:"vers"`
	Deps          []Dependency           `json:"deps"`
	Features      map[string][]string    `json:"features"`
	Authors       []string               `json:"authors"`
	Description   *string                `json:"description"`
	Documentation *string                `json:"documentation"`
	Homepage      *string                `json:"homepage"`
	Readme        *string                `json:"readme"`
	ReadmeFile    *string                `json:"readme_file"`
	Keywords      []string               `json:"keywords"`
	Categories    []string               `json:"categories"`
	License       *string                `json:"license"`
	LicenseFile   *string                `json:"license_file"`
	Repository    *string                `json:"repository"`
	Badges        map[string]interface{} `json:"badges"`
	Links         *string                `json:"links"`
}

// UnmarshalJSON decodes the payload and then enforces the name rules
// cargo's own publish API enforces: ASCII alphanumeric plus '-'/'_'
// only, a leading alphabetic character, length between 1 and 64. On
// success the name is lowercased in place, matching the source
// registry's behavior of treating names case-insensitively from this
// point on.
func (p *PublishedPackage) UnmarshalJSON(data []byte) error {
	type alias PublishedPackage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if err := validateName(a.Name); err != nil {
		return err
	}
	a.Name = strings.ToLower(a.Name)
	*p = PublishedPackage(a)
	return nil
}

func validateName(name string) error {
	for _, r := range name {
		isASCIIAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isASCIIAlnum && r != '-' && r != '_' {
			return fmt.Errorf("publish: non-alphanumeric or -/_ characters in crate name")
		}
	}
	runes := []rune(name)
	if len(runes) == 0 {
		return fmt.Errorf("publish: empty crate name not allowed")
	}
	first := runes[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return fmt.Errorf("publish: first character in name must be alphabetic")
	}
	if len(runes) > 64 {
		return fmt.Errorf("publish: crate name is too long")
	}
	return nil
}

// Warnings is the (always-empty, in this registry) warnings envelope
// returned on a successful publish.
type Warnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// Response is the full JSON body of a successful publish response.
type Response struct {
	Warnings Warnings `json:"warnings"`
}

// NewResponse returns the always-empty-warnings success body.
func NewResponse() Response {
	return Response{Warnings: Warnings{
		InvalidCategories: []string{},
		InvalidBadges:     []string{},
		Other:             []string{},
	}}
}

// Error is a publish-pipeline failure, carrying the HTTP status it
// maps to per the registry's error table.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

// Defined publish errors and their status mapping.
func errVersionAlreadyExists(name, vers string) *Error {
	return &Error{Status: 403, Msg: fmt.Sprintf("version %s of crate %s already exists", vers, name)}
}

func errDashUnderscoreCollision(name string) *Error {
	return &Error{Status: 403, Msg: fmt.Sprintf("a crate differing from %q only by a dash/underscore already exists", name)}
}

func errBadIndexJSON(path string) *Error {
	return &Error{Status: 500, Msg: fmt.Sprintf("unreadable index record in %s", path)}
}
