// Package journal models the usage history the package cache keeps for every
// cached deployment package.
//
// A journal is a collection of entries, one per package identity. Entries
// record the size of the cached file, the locks held by in-flight deployments
// and one usage detail per deployment that consumed the package. The journal
// store owns persistence; everything in this package is plain data.
package journal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidIdentity is returned when a package identity cannot be parsed.
var ErrInvalidIdentity = errors.New("journal: invalid package identity")

// PackageIdentity identifies a cached package by id and semantic version.
// Identities are compared by value using Equal; Key gives a canonical string
// suitable for map keys and storage.
type PackageIdentity struct {
	PackageID string          `json:"package_id"`
	Version   *semver.Version `json:"version"`
}

// NewPackageIdentity parses version and returns the identity for packageID.
func NewPackageIdentity(packageID, version string) (PackageIdentity, error) {
	if strings.TrimSpace(packageID) == "" {
		return PackageIdentity{}, fmt.Errorf("%w: empty package id", ErrInvalidIdentity)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return PackageIdentity{}, fmt.Errorf("%w: version %q: %v", ErrInvalidIdentity, version, err)
	}
	return PackageIdentity{PackageID: packageID, Version: v}, nil
}

// ParseKey reverses Key.
func ParseKey(key string) (PackageIdentity, error) {
	id, version, ok := strings.Cut(key, "@")
	if !ok {
		return PackageIdentity{}, fmt.Errorf("%w: key %q", ErrInvalidIdentity, key)
	}
	return NewPackageIdentity(id, version)
}

// Key returns the canonical form "<id>@<version>". Package ids are matched
// case-insensitively, so the id is lower-cased.
func (p PackageIdentity) Key() string {
	return strings.ToLower(p.PackageID) + "@" + p.versionString()
}

// String implements fmt.Stringer.
func (p PackageIdentity) String() string {
	return p.PackageID + " " + p.versionString()
}

// Equal reports whether p and o name the same package version.
func (p PackageIdentity) Equal(o PackageIdentity) bool {
	return p.Key() == o.Key()
}

// SamePackage reports whether p and o share a package id.
func (p PackageIdentity) SamePackage(o PackageIdentity) bool {
	return strings.EqualFold(p.PackageID, o.PackageID)
}

// NewerThan reports whether p is a strictly greater version of the same package as o.
func (p PackageIdentity) NewerThan(o PackageIdentity) bool {
	if !p.SamePackage(o) || p.Version == nil || o.Version == nil {
		return false
	}
	return p.Version.GreaterThan(o.Version)
}

func (p PackageIdentity) versionString() string {
	if p.Version == nil {
		return ""
	}
	return p.Version.String()
}
