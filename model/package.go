package model

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

type SourceType string

const (
	SourceDirect     SourceType = "direct"
	SourceTransitive SourceType = "transitive"
)

// Package is a dependency as enumerated by the discoverer. Identity is (Name, Version).
type Package struct {
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	SourceType     SourceType `json:"sourceType,omitempty"`
	RegistrySource string     `json:"registrySource,omitempty"`
	License        string     `json:"license,omitempty"`
}

func (p Package) Key() string {
	return p.Name + "@" + p.Version
}

// Ecosystem maps the registry source onto the naming used by the vulnerability and metadata feeds.
type Ecosystem struct {
	PURLType string
	DepsDev  string
	OSV      string
}

var ecosystems = map[string]Ecosystem{
	packageurl.TypeNuget:  {PURLType: packageurl.TypeNuget, DepsDev: "NUGET", OSV: "NuGet"},
	packageurl.TypeNPM:    {PURLType: packageurl.TypeNPM, DepsDev: "NPM", OSV: "npm"},
	packageurl.TypePyPi:   {PURLType: packageurl.TypePyPi, DepsDev: "PYPI", OSV: "PyPI"},
	packageurl.TypeMaven:  {PURLType: packageurl.TypeMaven, DepsDev: "MAVEN", OSV: "Maven"},
	packageurl.TypeGolang: {PURLType: packageurl.TypeGolang, DepsDev: "GO", OSV: "Go"},
	packageurl.TypeCargo:  {PURLType: packageurl.TypeCargo, DepsDev: "CARGO", OSV: "crates.io"},
}

var ecosystemAliases = map[string]string{
	"nuget.org": packageurl.TypeNuget,
	"go":        packageurl.TypeGolang,
	"crates.io": packageurl.TypeCargo,
	"pip":       packageurl.TypePyPi,
}

// DefaultRegistrySource is assumed when a package does not name its registry.
var DefaultRegistrySource = packageurl.TypeNuget

func LookupEcosystem(registrySource string) (Ecosystem, bool) {
	key := strings.ToLower(strings.TrimSpace(registrySource))
	if key == "" {
		key = DefaultRegistrySource
	}
	if alias, ok := ecosystemAliases[key]; ok {
		key = alias
	}
	e, ok := ecosystems[key]
	return e, ok
}

func (p Package) Ecosystem() (Ecosystem, bool) {
	return LookupEcosystem(p.RegistrySource)
}

// PURL renders the package as a package-url, e.g. pkg:nuget/Newtonsoft.Json@13.0.3.
func (p Package) PURL() string {
	typ := DefaultRegistrySource
	if e, ok := p.Ecosystem(); ok {
		typ = e.PURLType
	}
	namespace, name := "", p.Name
	if typ == packageurl.TypeMaven || typ == packageurl.TypeGolang || strings.HasPrefix(name, "@") {
		if i := strings.LastIndex(name, "/"); i > 0 {
			namespace, name = name[:i], name[i+1:]
		} else if i := strings.LastIndex(name, ":"); i > 0 && typ == packageurl.TypeMaven {
			namespace, name = name[:i], name[i+1:]
		}
	}
	return packageurl.NewPackageURL(typ, namespace, name, p.Version, nil, "").ToString()
}

// ParsePackage accepts either a package-url or "name@version".
func ParsePackage(s, registrySource string) (Package, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "pkg:") {
		purl, err := packageurl.FromString(s)
		if err != nil {
			return Package{}, fmt.Errorf("invalid package-url %q: %w", s, err)
		}
		name := purl.Name
		if purl.Namespace != "" {
			sep := "/"
			if purl.Type == packageurl.TypeMaven {
				sep = ":"
			}
			name = purl.Namespace + sep + purl.Name
		}
		if purl.Version == "" {
			return Package{}, fmt.Errorf("package-url %q has no version", s)
		}
		return Package{
			Name:           name,
			Version:        purl.Version,
			SourceType:     SourceDirect,
			RegistrySource: purl.Type,
		}, nil
	}

	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return Package{}, fmt.Errorf("expected name@version, got %q", s)
	}
	return Package{
		Name:           s[:i],
		Version:        s[i+1:],
		SourceType:     SourceDirect,
		RegistrySource: registrySource,
	}, nil
}
