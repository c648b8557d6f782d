package location

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

type refKind uint8

const (
	kindNone refKind = iota
	kindURL
	kindObject
)

// Ref is a reference to a remote object, either as a URL or in structured form.
//
// Refs decode from YAML or JSON: a string is taken as a URL, an object
// with "bucket" and "key" fields as the structured form.
type Ref struct {
	kind refKind
	url  string
	loc  Location
}

// URL builds a reference from a URL such as s3://bucket/key
func URL(ref string) Ref {
	return Ref{kind: kindURL, url: ref}
}

// Object builds a reference from a bucket and a key
func Object(bucket, key string) Ref {
	return Ref{kind: kindObject, loc: Location{Bucket: bucket, Key: key}}
}

// At builds a reference from an already resolved location
func At(loc Location) Ref {
	return Ref{kind: kindObject, loc: loc}
}

func (r Ref) String() string {
	switch r.kind {
	case kindURL:
		return r.url
	case kindObject:
		return r.loc.String()
	default:
		return ""
	}
}

// UnmarshalYAML decodes a reference from yaml (gopkg.in/yaml.v2)
func (r *Ref) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var asString string
	if err := unmarshal(&asString); err == nil {
		*r = URL(asString)
		return nil
	}

	var loc Location
	if err := unmarshal(&loc); err != nil {
		return fmt.Errorf("reference should be a URL string or a bucket/key object: %w", err)
	}
	*r = At(loc)
	return nil
}

// UnmarshalJSON decodes a reference from json
func (r *Ref) UnmarshalJSON(data []byte) error {
	json := jsoniter.ConfigCompatibleWithStandardLibrary

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*r = URL(asString)
		return nil
	}

	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return fmt.Errorf("reference should be a URL string or a bucket/key object: %w", err)
	}
	*r = At(loc)
	return nil
}
